package fixture

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report JSON names so errors line up with payload paths.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// RegisterStructValidation adds a cross-field rule for the given struct types.
func RegisterStructValidation(fn validator.StructLevelFunc, types ...any) {
	validatorInstance().RegisterStructValidation(fn, types...)
}

// Decode converts f into the struct pointed to by v and validates it
// against v's `validate` tags.
func Decode(f Fixture, v any) error {
	data, err := f.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding fixture %q: %w", f.schema, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding fixture %q: %w", f.schema, err)
	}
	if err := validatorInstance().Struct(v); err != nil {
		return fmt.Errorf("fixture %q is invalid: %w", f.schema, err)
	}
	return nil
}

package fixture

import (
	"encoding/json"
	"strings"
)

// Fixture is an immutable generated payload. Every accessor returns a copy.
type Fixture struct {
	schema string
	values map[string]any
}

// Schema returns the name of the schema that produced the fixture.
func (f Fixture) Schema() string { return f.schema }

// IsZero reports whether f was never generated.
func (f Fixture) IsZero() bool { return f.values == nil }

// Map returns a deep copy of the fixture as a JSON-shaped map.
func (f Fixture) Map() map[string]any {
	if f.values == nil {
		return nil
	}
	return deepCopy(f.values).(map[string]any)
}

// Get returns a copy of the value at a dotted path such as "bookingdates.checkin".
// An empty path returns the whole fixture.
func (f Fixture) Get(path string) (any, bool) {
	if f.values == nil {
		return nil, false
	}
	var cur any = f.values
	if path != "" {
		for _, key := range strings.Split(path, ".") {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			if cur, ok = m[key]; !ok {
				return nil, false
			}
		}
	}
	return deepCopy(cur), true
}

// MarshalJSON encodes the fixture values.
func (f Fixture) MarshalJSON() ([]byte, error) {
	if f.values == nil {
		return []byte("null"), nil
	}
	return json.Marshal(f.values)
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

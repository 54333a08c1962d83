// Package targets bundles the built-in scenario catalogs and their fixture schemas.
package targets

import (
	"fmt"

	"github.com/wondertwin-ai/contractkit/internal/fixture"
	"github.com/wondertwin-ai/contractkit/internal/scenario"
	"github.com/wondertwin-ai/contractkit/internal/targets/booking"
	"github.com/wondertwin-ai/contractkit/internal/targets/issues"
)

// Catalog is one built-in scenario set bound to a target name.
type Catalog struct {
	Target    string
	Schemas   func() []fixture.Schema
	Scenarios func() []*scenario.Scenario
}

// Catalogs returns every built-in catalog.
func Catalogs() []Catalog {
	return []Catalog{
		{Target: booking.Target, Schemas: booking.Schemas, Scenarios: booking.Scenarios},
		{Target: issues.Target, Schemas: issues.Schemas, Scenarios: issues.Scenarios},
	}
}

// Scenarios returns fresh copies of the built-in scenarios for the targets
// present in configured. A nil configured set includes every catalog.
func Scenarios(configured map[string]bool) []*scenario.Scenario {
	var out []*scenario.Scenario
	for _, c := range Catalogs() {
		if configured != nil && !configured[c.Target] {
			continue
		}
		out = append(out, c.Scenarios()...)
	}
	return out
}

// RegisterSchemas registers every built-in fixture schema in reg.
func RegisterSchemas(reg *fixture.Registry) error {
	for _, c := range Catalogs() {
		for _, s := range c.Schemas() {
			if err := reg.Register(s); err != nil {
				return fmt.Errorf("catalog %s: %w", c.Target, err)
			}
		}
	}
	return nil
}

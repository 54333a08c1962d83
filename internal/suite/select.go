package suite

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/wondertwin-ai/contractkit/internal/scenario"
)

// ErrUnknownScenario is returned when a selection names a scenario that does not exist.
var ErrUnknownScenario = errors.New("unknown scenario")

// Selection narrows and toggles a scenario list.
type Selection struct {
	Only    []string // keep just these names
	Tags    []string // keep scenarios carrying any of these tags
	Enable  []string // clear Disabled on these names
	Disable []string // set Disabled on these names
}

// Select applies sel to scenarios and returns the chosen ones in input
// order. Toggled scenarios are copies; the inputs are never modified.
// Disabled scenarios stay in the list so the report shows them as skipped.
func Select(scenarios []*scenario.Scenario, sel Selection) ([]*scenario.Scenario, error) {
	byName := make(map[string]bool, len(scenarios))
	for _, s := range scenarios {
		if byName[s.Name] {
			return nil, fmt.Errorf("duplicate scenario name %q", s.Name)
		}
		byName[s.Name] = true
	}

	var unknown []string
	check := func(names []string) map[string]bool {
		set := make(map[string]bool, len(names))
		for _, n := range names {
			if !byName[n] {
				unknown = append(unknown, n)
			}
			set[n] = true
		}
		return set
	}
	only, enable, disable := check(sel.Only), check(sel.Enable), check(sel.Disable)
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s", ErrUnknownScenario, strings.Join(unknown, ", "))
	}

	out := make([]*scenario.Scenario, 0, len(scenarios))
	for _, s := range scenarios {
		if len(only) > 0 && !only[s.Name] {
			continue
		}
		if len(sel.Tags) > 0 && !hasAnyTag(s, sel.Tags) {
			continue
		}
		switch {
		case disable[s.Name] && !s.Disabled:
			cp := *s
			cp.Disabled = true
			s = &cp
		case enable[s.Name] && !disable[s.Name] && s.Disabled:
			cp := *s
			cp.Disabled = false
			s = &cp
		}
		out = append(out, s)
	}
	return out, nil
}

func hasAnyTag(s *scenario.Scenario, tags []string) bool {
	for _, t := range tags {
		if s.HasTag(t) {
			return true
		}
	}
	return false
}

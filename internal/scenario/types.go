// Package scenario runs declarative API-contract scenarios: ordered HTTP steps
// with templated requests, per-step expectations and captured variables.
package scenario

import (
	"errors"
	"fmt"
	"strings"
)

// Scenario is an ordered chain of steps against one or more targets.
type Scenario struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Target      string            `yaml:"target,omitempty" json:"target,omitempty"`
	Tags        []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	Disabled    bool              `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	Variables   map[string]any    `yaml:"variables,omitempty" json:"variables,omitempty"`
	Fixtures    map[string]string `yaml:"fixtures,omitempty" json:"fixtures,omitempty"` // name -> schema
	Steps       []Step            `yaml:"steps" json:"steps"`
}

// Step is a single request and the expectations on its response.
type Step struct {
	Name    string            `yaml:"name" json:"name"`
	Request Request           `yaml:"request" json:"request"`
	Auth    string            `yaml:"auth,omitempty" json:"auth,omitempty"`       // session to attach
	Capture map[string]string `yaml:"capture,omitempty" json:"capture,omitempty"` // variable -> JSONPath
	Expect  *Expect           `yaml:"expect,omitempty" json:"expect,omitempty"`
}

// Request defines the HTTP call of a step. URL is usually relative to the target's base URL.
type Request struct {
	Method  string            `yaml:"method" json:"method"`
	URL     string            `yaml:"url" json:"url"`
	Target  string            `yaml:"target,omitempty" json:"target,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Query   map[string]string `yaml:"query,omitempty" json:"query,omitempty"`
	Body    any               `yaml:"body,omitempty" json:"body,omitempty"`
}

// Expect declares what a response must look like.
type Expect struct {
	Status       int               `yaml:"status,omitempty" json:"status,omitempty"`
	StatusText   string            `yaml:"status_text,omitempty" json:"status_text,omitempty"`
	Success      *bool             `yaml:"success,omitempty" json:"success,omitempty"` // true: 2xx, false: anything else
	Headers      map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	BodyContains string            `yaml:"body_contains,omitempty" json:"body_contains,omitempty"`
	Fields       []string          `yaml:"fields,omitempty" json:"fields,omitempty"` // JSONPaths that must exist
	Body         map[string]any    `yaml:"body,omitempty" json:"body,omitempty"`     // JSONPath -> value or operators
	Subset       map[string]any    `yaml:"subset,omitempty" json:"subset,omitempty"` // JSONPath -> partial object
	Contains     []Membership      `yaml:"contains,omitempty" json:"contains,omitempty"`
}

// Membership requires the array at Path to hold an element matching Item.
type Membership struct {
	Path string `yaml:"path" json:"path"`
	Item any    `yaml:"item" json:"item"`
}

// Validate checks the structural requirements of a scenario.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if len(s.Steps) == 0 {
		return errors.New("at least one step is required")
	}
	for i, step := range s.Steps {
		label := step.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		if step.Request.Method == "" {
			return fmt.Errorf("step %s: request method is required", label)
		}
		if step.Request.URL == "" {
			return fmt.Errorf("step %s: request url is required", label)
		}
		if step.Expect != nil {
			for _, m := range step.Expect.Contains {
				if !strings.HasPrefix(m.Path, "$") {
					return fmt.Errorf("step %s: contains path %q must start with $", label, m.Path)
				}
			}
		}
	}
	return nil
}

// HasTag reports whether the scenario carries tag.
func (s *Scenario) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Bool returns a pointer to b, for Expect.Success literals.
func Bool(b bool) *bool { return &b }

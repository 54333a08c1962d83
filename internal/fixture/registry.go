package fixture

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownSchema is returned by Registry.Get for names never registered.
var ErrUnknownSchema = errors.New("unknown fixture schema")

// Registry holds validated schemas by name.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]Schema)}
}

// Register validates s and stores a copy of it. Names must be unique.
func (r *Registry) Register(s Schema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.schemas[s.Name]; exists {
		return &SchemaError{Schema: s.Name, Reason: "already registered"}
	}
	r.schemas[s.Name] = Schema{Name: s.Name, Fields: copyFields(s.Fields), Check: s.Check}
	return nil
}

// MustRegister is Register for package-level schema tables; it panics on error.
func (r *Registry) MustRegister(schemas ...Schema) {
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
}

// Get returns a copy of the named schema.
func (r *Registry) Get(name string) (Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %q", ErrUnknownSchema, name)
	}
	return Schema{Name: s.Name, Fields: copyFields(s.Fields), Check: s.Check}, nil
}

// Names returns the registered schema names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

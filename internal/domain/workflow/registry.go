package workflow

import (
	"fmt"
	"sort"
)

// Registry is an immutable set of workflow definitions keyed by name. It is
// built once at process start and passed by reference to every engine;
// there is no shared mutable registry state.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry builds a registry from the given definitions
func NewRegistry(defs ...*Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		if d == nil {
			return nil, fmt.Errorf("%w: nil definition", ErrConfiguration)
		}
		if _, dup := r.defs[d.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate workflow %q", ErrConfiguration, d.Name())
		}
		r.defs[d.Name()] = d
	}
	return r, nil
}

// Get returns the named definition
func (r *Registry) Get(name string) (*Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Names returns registered workflow names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package registry

import (
	"fmt"
	"strings"
)

// Registry is an insertion-ordered collection of components keyed by their
// declared name. Components are held and handed out by pointer; there are
// no integer handles.
type Registry struct {
	order []string
	byKey map[string]*Component
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byKey: make(map[string]*Component)}
}

// Create registers a new component under key and returns it. It is an error
// to register the same key twice.
func (r *Registry) Create(key string, c *Component) error {
	if _, exists := r.byKey[key]; exists {
		return fmt.Errorf("component %q already registered", key)
	}
	r.byKey[key] = c
	r.order = append(r.order, key)
	return nil
}

// Lookup returns the component registered under key, and whether it exists.
func (r *Registry) Lookup(key string) (*Component, bool) {
	c, ok := r.byKey[key]
	return c, ok
}

// Contains reports whether key is registered.
func (r *Registry) Contains(key string) bool {
	_, ok := r.byKey[key]
	return ok
}

// Len returns the number of registered components.
func (r *Registry) Len() int { return len(r.order) }

// InOrder calls fn for each component in declaration order. Iteration order
// determines install ids and address-window assignment (spec §5 ordering
// guarantees), so callers must not range over the map directly.
func (r *Registry) InOrder(fn func(key string, c *Component)) {
	for _, key := range r.order {
		fn(key, r.byKey[key])
	}
}

// All returns the registered components in declaration order.
func (r *Registry) All() []*Component {
	out := make([]*Component, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.byKey[key])
	}
	return out
}

// FindBySubstring returns the first component (in declaration order) whose
// ObjPath contains substr, used to recognize the special components of
// §4.8/§4.9 (init, root scheduler, mpd manager, init file, config, boot).
func (r *Registry) FindBySubstring(substr string) *Component {
	for _, key := range r.order {
		c := r.byKey[key]
		if strings.Contains(c.ObjPath, substr) {
			return c
		}
	}
	return nil
}

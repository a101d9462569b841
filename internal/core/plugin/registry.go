package plugin

import (
	"fmt"
	"sync"
)

type componentKey struct {
	kind ComponentKind
	name string
}

// Registry indexes registered components by (kind, name). Two components of
// different kinds may share a name.
type Registry struct {
	mu         sync.RWMutex
	components map[componentKey]*Component

	// streamState holds per-stream enable overrides; absent means the
	// global Info.Enabled flag applies.
	streamState map[string]map[componentKey]bool
}

func NewRegistry() *Registry {
	return &Registry{
		components:  make(map[componentKey]*Component),
		streamState: make(map[string]map[componentKey]bool),
	}
}

// Register adds a component. Registering an occupied (kind, name) pair fails
// with ErrDuplicateComponent.
func (r *Registry) Register(c Component) error {
	if c.Info.Kind == "" || c.Info.Name == "" {
		return fmt.Errorf("component missing kind or name: %w", ErrDuplicateComponent)
	}
	key := componentKey{c.Info.Kind, c.Info.Name}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.components[key]; ok {
		return fmt.Errorf("%s %q already registered by plugin %q: %w",
			c.Info.Kind, c.Info.Name, existing.Info.Plugin, ErrDuplicateComponent)
	}
	cp := c
	r.components[key] = &cp
	return nil
}

// Unregister removes one component. Missing entries are ignored.
func (r *Registry) Unregister(kind ComponentKind, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.components, componentKey{kind, name})
}

// UnregisterPlugin removes every component owned by the plugin and returns
// how many were removed.
func (r *Registry) UnregisterPlugin(pluginName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, c := range r.components {
		if c.Info.Plugin == pluginName {
			delete(r.components, key)
			n++
		}
	}
	return n
}

// Get returns the component registered under (kind, name).
func (r *Registry) Get(kind ComponentKind, name string) (*Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[componentKey{kind, name}]
	if !ok {
		return nil, fmt.Errorf("%s %q: %w", kind, name, ErrComponentNotFound)
	}
	return c, nil
}

// ByKind lists components of a kind, enabled or not.
func (r *Registry) ByKind(kind ComponentKind) []*Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Component
	for key, c := range r.components {
		if key.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// EnabledByKind lists components of a kind that are enabled for the stream.
// An empty streamID applies only the global flag.
func (r *Registry) EnabledByKind(kind ComponentKind, streamID string) []*Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Component
	for key, c := range r.components {
		if key.kind != kind {
			continue
		}
		if r.enabledLocked(key, c, streamID) {
			out = append(out, c)
		}
	}
	return out
}

// Enabled reports the effective enable state for the stream.
func (r *Registry) Enabled(kind ComponentKind, name, streamID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := componentKey{kind, name}
	c, ok := r.components[key]
	if !ok {
		return false
	}
	return r.enabledLocked(key, c, streamID)
}

func (r *Registry) enabledLocked(key componentKey, c *Component, streamID string) bool {
	if streamID != "" {
		if overrides, ok := r.streamState[streamID]; ok {
			if enabled, ok := overrides[key]; ok {
				return enabled
			}
		}
	}
	return c.Info.Enabled
}

// SetEnabled flips the global enable flag.
func (r *Registry) SetEnabled(kind ComponentKind, name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.components[componentKey{kind, name}]
	if !ok {
		return fmt.Errorf("%s %q: %w", kind, name, ErrComponentNotFound)
	}
	c.Info.Enabled = enabled
	return nil
}

// SetStreamEnabled overrides the enable state for one stream.
func (r *Registry) SetStreamEnabled(kind ComponentKind, name, streamID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := componentKey{kind, name}
	if _, ok := r.components[key]; !ok {
		return fmt.Errorf("%s %q: %w", kind, name, ErrComponentNotFound)
	}
	overrides, ok := r.streamState[streamID]
	if !ok {
		overrides = make(map[componentKey]bool)
		r.streamState[streamID] = overrides
	}
	overrides[key] = enabled
	return nil
}

// ClearStreamState drops every override for the stream.
func (r *Registry) ClearStreamState(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streamState, streamID)
}

// List snapshots the info of every registered component.
func (r *Registry) List() []ComponentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ComponentInfo, 0, len(r.components))
	for _, c := range r.components {
		out = append(out, c.Info)
	}
	return out
}

// Len returns the number of registered components.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.components)
}

package tool

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// DefaultMaxTools is the registry ceiling used when none is configured.
const DefaultMaxTools = 129

// Registry is the process-wide name -> descriptor table. Writes are
// serialized under one lock that also guards the registration count, so the
// ceiling and uniqueness checks cannot race with a rescan.
type Registry struct {
	mu       sync.RWMutex
	max      int
	count    int
	tools    map[string]Descriptor
	order    []string
	regTimes map[string]time.Time
}

// NewRegistry creates an empty registry with the given ceiling. A value <= 0
// selects DefaultMaxTools.
func NewRegistry(maxTools int) *Registry {
	if maxTools <= 0 {
		maxTools = DefaultMaxTools
	}
	return &Registry{
		max:      maxTools,
		tools:    make(map[string]Descriptor),
		regTimes: make(map[string]time.Time),
	}
}

// Add inserts d. bind runs under the write lock after the uniqueness and
// ceiling checks pass and before the entry is committed; a bind error leaves
// the registry unchanged. The count increments once per successful Add.
func (r *Registry) Add(d Descriptor, bind func() error) error {
	if err := d.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[d.Name]; exists {
		return newToolError(ToolErrorCodeRegistrationConflict,
			fmt.Sprintf("tool: %q is already registered", d.Name), false, ErrRegistrationConflict)
	}
	if r.count+1 > r.max {
		return withToolErrorDetails(
			newToolError(ToolErrorCodeCeilingExceeded,
				fmt.Sprintf("tool: registering %q would exceed the limit of %d tools", d.Name, r.max), false, ErrCeilingExceeded),
			map[string]any{"max_tools": r.max},
		)
	}
	if bind != nil {
		if err := bind(); err != nil {
			return err
		}
	}

	r.tools[d.Name] = cloneDescriptor(d)
	r.order = append(r.order, d.Name)
	r.regTimes[d.Name] = time.Now().UTC()
	r.count++
	return nil
}

// Replace swaps the descriptor of an existing tool of the same kind and
// bumps its revision. It returns the stored descriptor.
func (r *Registry) Replace(d Descriptor) (Descriptor, error) {
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.tools[d.Name]
	if !ok {
		return Descriptor{}, newToolError(ToolErrorCodeToolNotFound,
			fmt.Sprintf("tool: %q is not registered", d.Name), false, ErrToolNotFound)
	}
	if current.Kind != d.Kind {
		return Descriptor{}, newToolError(ToolErrorCodeRegistrationConflict,
			fmt.Sprintf("tool: %q cannot change kind from %s to %s", d.Name, current.Kind, d.Kind), false, ErrRegistrationConflict)
	}
	d = cloneDescriptor(d)
	d.Revision = current.Revision + 1
	r.tools[d.Name] = d
	return cloneDescriptor(d), nil
}

// Get returns a descriptor by name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	if !ok {
		return Descriptor{}, false
	}
	return cloneDescriptor(d), true
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// RegisteredAt returns when name was first added.
func (r *Registry) RegisteredAt(name string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.regTimes[name]
	return t, ok
}

// List returns all descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, cloneDescriptor(r.tools[name]))
	}
	return out
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Count returns the number of successful registrations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Max returns the registry ceiling.
func (r *Registry) Max() int {
	return r.max
}

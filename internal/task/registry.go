package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DefaultTask is the name run when no task is requested.
const DefaultTask = "default"

// Registry maps task names to units. The last registration of a name wins.
type Registry struct {
	mu    sync.RWMutex
	units map[string]*Unit
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{units: map[string]*Unit{}}
}

// Register stores unit under name, replacing any previous registration.
func (r *Registry) Register(name string, unit *Unit) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("task: name is required")
	}
	if unit == nil {
		return fmt.Errorf("task: unit is required for %s", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[name] = Named(name, unit)
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(name string, unit *Unit) {
	if err := r.Register(name, unit); err != nil {
		panic(err)
	}
}

// Lookup returns the unit registered under name.
func (r *Registry) Lookup(name string) (*Unit, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	unit, ok := r.units[name]
	return unit, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.units))
	for name := range r.units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run looks up name and runs it. Unknown names fail with ErrTaskNotFound.
func (r *Registry) Run(ctx context.Context, name string) error {
	unit, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return unit.Run(WithRunID(ctx))
}

// Compose resolves names into one unit: the single task itself, or a Parallel
// (Series when series is set) of all of them. Every name is resolved before
// anything runs.
func (r *Registry) Compose(names []string, series bool) (*Unit, error) {
	if len(names) == 0 {
		names = []string{DefaultTask}
	}
	units := make([]*Unit, 0, len(names))
	for _, name := range names {
		unit, ok := r.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
		}
		units = append(units, unit)
	}
	if len(units) == 1 {
		return units[0], nil
	}
	if series {
		return Series(units...), nil
	}
	return Parallel(units...), nil
}

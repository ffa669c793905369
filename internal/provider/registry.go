package provider

import (
	"fmt"
	"sync"

	core "github.com/bananapics/core/internal"
)

// Registry resolves a provider name to a registered core.Dispatcher. It is
// a flat table, not a class hierarchy: adding a provider means registering
// one more Dispatcher, not subclassing a base type.
type Registry struct {
	mu         sync.RWMutex
	dispatchers map[string]core.Dispatcher
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{dispatchers: make(map[string]core.Dispatcher)}
}

// Register adds or replaces a dispatcher under its own Name().
func (r *Registry) Register(d core.Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatchers[d.Name()] = d
}

// Get returns the dispatcher registered under name.
func (r *Registry) Get(name string) (core.Dispatcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dispatchers[name]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q", core.ErrProviderUnavailable, name)
	}
	return d, nil
}

// List returns the names of all registered dispatchers.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.dispatchers))
	for name := range r.dispatchers {
		names = append(names, name)
	}
	return names
}

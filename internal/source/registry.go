package source

import (
	"fmt"
	"sort"
	"sync"
)

// Param describes one configuration parameter a source accepts.
type Param struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Secret      bool   `json:"secret,omitempty"`
}

// Descriptor describes a registered source.
type Descriptor struct {
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Description string  `json:"description"`
	RateLimit   float64 `json:"rate_limit"` // Requests per second
	Params      []Param `json:"params,omitempty"`
}

type entry struct {
	desc    Descriptor
	fetcher Fetcher
}

// Registry maps source names to their fetchers, in registration order.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds or replaces the fetcher for desc.Name. A replaced source
// keeps its original position.
func (r *Registry) Register(desc Descriptor, f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[desc.Name]; !ok {
		r.order = append(r.order, desc.Name)
	}
	r.entries[desc.Name] = entry{desc: desc, fetcher: f}
}

// Get returns the fetcher and descriptor for name.
func (r *Registry) Get(name string) (Fetcher, Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		available := append([]string(nil), r.order...)
		sort.Strings(available)
		return nil, Descriptor{}, fmt.Errorf("%w %q (available: %v)", ErrUnknownSource, name, available)
	}
	return e.fetcher, e.desc, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Names returns registered source names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Descriptors returns registered descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].desc)
	}
	return out
}

package provider

import (
	"fmt"
	"sort"

	"github.com/craftmarket/payment-engine/internal/payments/domain"
)

// Registry maps provider names to adapters. It is built once at process
// start and injected wherever adapters are needed; there is no ambient
// singleton.
type Registry struct {
	adapters map[string]domain.ProviderAdapter
}

// NewRegistry creates a registry over the given adapters
func NewRegistry(adapters ...domain.ProviderAdapter) *Registry {
	m := make(map[string]domain.ProviderAdapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter for the provider name
func (r *Registry) Get(name string) (domain.ProviderAdapter, error) {
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, name)
	}
	return adapter, nil
}

// Names returns the registered provider names, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package adapters

import (
	"slices"
	"strings"
	"sync"

	"github.com/smallbiznis/tumblebus/internal/payment/domain"
)

// Registry maps a webhook provider name, as it appears in
// /webhooks/:provider, to the adapter that verifies and parses its
// notifications. An adapter is built on first use from the provider's
// webhook credentials and reused for later deliveries.
type Registry struct {
	factories map[string]domain.AdapterFactory

	mu    sync.Mutex
	built map[string]domain.PaymentAdapter
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	r := &Registry{
		factories: make(map[string]domain.AdapterFactory, len(factories)),
		built:     map[string]domain.PaymentAdapter{},
	}
	for _, f := range factories {
		if f == nil {
			continue
		}
		if name := providerKey(f.Provider()); name != "" {
			r.factories[name] = f
		}
	}
	return r
}

// Providers lists the registered provider names in sorted order.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) Supports(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[providerKey(provider)]
	return ok
}

// Adapter returns the provider's adapter, building it from settings the
// first time. A failed build is not cached so corrected credentials apply
// on the next delivery.
func (r *Registry) Adapter(provider string, settings map[string]any) (domain.PaymentAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	name := providerKey(provider)
	factory, ok := r.factories[name]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.built[name]; ok {
		return a, nil
	}
	a, err := factory.NewAdapter(domain.AdapterConfig{Provider: name, Config: settings})
	if err != nil {
		return nil, err
	}
	r.built[name] = a
	return a, nil
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

package adapters

import (
	"strings"
	"sync"

	"github.com/smallbiznis/storefront/internal/payment/domain"
)

// Registry maps provider names to adapter factories and memoizes the
// configured adapter for each provider. Credentials are fixed for the life
// of the process, so one adapter per provider is enough.
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
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		if name := normalize(factory.Provider()); name != "" {
			r.factories[name] = factory
		}
	}
	return r
}

func (r *Registry) Has(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalize(provider)]
	return ok
}

// Adapter returns the adapter for provider, building it from cfg on first use.
func (r *Registry) Adapter(provider string, cfg domain.AdapterConfig) (domain.PaymentAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	name := normalize(provider)
	factory, ok := r.factories[name]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if adapter, ok := r.built[name]; ok {
		return adapter, nil
	}
	adapter, err := factory.NewAdapter(cfg)
	if err != nil {
		return nil, err
	}
	r.built[name] = adapter
	return adapter, nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

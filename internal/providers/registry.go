package providers

import (
	"sort"
	"sync"

	"github.com/evidencehq/litsearch/internal/domain"
)

// Registry holds the configured provider adapters. Registration happens
// during startup wiring; lookups happen on every pipeline run and on the
// provider health endpoint. All methods are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[domain.SourceType]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[domain.SourceType]Provider),
	}
}

// Register adds a provider, replacing any prior registration for the same
// source type.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.SourceType()] = p
}

// Get returns the provider for a source type, or nil if none is registered.
func (r *Registry) Get(source domain.SourceType) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[source]
}

// All returns every registered provider sorted by source type. Sorting keeps
// health endpoint output and log lines deterministic.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		all = append(all, p)
	}
	sortProviders(all)
	return all
}

// Enabled returns the registered providers whose IsEnabled reports true,
// sorted by source type.
func (r *Registry) Enabled() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enabled := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if p.IsEnabled() {
			enabled = append(enabled, p)
		}
	}
	sortProviders(enabled)
	return enabled
}

func sortProviders(ps []Provider) {
	sort.Slice(ps, func(i, j int) bool {
		return ps[i].SourceType() < ps[j].SourceType()
	})
}

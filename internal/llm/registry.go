package llm

import (
	"sort"
	"sync"

	"github.com/autodev-labs/autodev-engine/internal/domain"
)

// Registry is a thread-safe registry of named generation providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Generator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Generator)}
}

// Register adds a provider to the registry.
// Returns ErrProviderUnavailable if the name is already registered.
func (r *Registry) Register(name string, gen Generator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return domain.NewEngineError(
			domain.ErrProviderUnavailable.Code,
			"provider already registered: "+name,
		)
	}
	r.providers[name] = gen
	return nil
}

// Get returns the named provider, or ErrProviderUnavailable if not found.
func (r *Registry) Get(name string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gen, ok := r.providers[name]
	if !ok {
		return nil, domain.ErrProviderUnavailable
	}
	return gen, nil
}

// List returns all registered provider names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

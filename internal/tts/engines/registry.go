package engines

import (
	"fmt"
	"sync"

	"github.com/dgnsrekt/speak/internal/ttypes"
)

// Factory builds a provider on first use, so a misconfigured backend only
// fails when it is actually selected.
type Factory func() (ttypes.Provider, error)

// Registry maps provider names to lazily constructed providers.
type Registry struct {
	mu        sync.Mutex
	factories map[ttypes.ProviderName]Factory
	built     map[ttypes.ProviderName]ttypes.Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[ttypes.ProviderName]Factory),
		built:     make(map[ttypes.ProviderName]ttypes.Provider),
	}
}

// Register adds a factory; registering a name twice replaces it.
func (r *Registry) Register(name ttypes.ProviderName, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
	delete(r.built, name)
}

// Get returns the provider registered under name.
func (r *Registry) Get(name ttypes.ProviderName) (ttypes.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.built[name]; ok {
		return p, nil
	}
	f, ok := r.factories[name]
	if !ok {
		return nil, ttypes.InvalidInputError("provider", fmt.Sprintf("provider %q is not available", name)).
			WithHint("supported providers: piper, cached, gtts, openai")
	}
	p, err := f()
	if err != nil {
		return nil, err
	}
	r.built[name] = p
	return p, nil
}

// Names lists registered providers in display order.
func (r *Registry) Names() []ttypes.ProviderName {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []ttypes.ProviderName
	for _, n := range ttypes.KnownProviders {
		if _, ok := r.factories[n]; ok {
			names = append(names, n)
		}
	}
	return names
}

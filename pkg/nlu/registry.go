package nlu

import (
	"fmt"
	"sync"
)

// Factory builds a provider from its per-bot configuration.
type Factory func(config map[string]string) (Provider, error)

// Registry maps provider names to factories. Bots select their provider
// by name in configuration; unknown names fail fast at load time.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry pre-populated with the built-in providers.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("keyword", func(config map[string]string) (Provider, error) {
		return NewKeywordProvider(nil), nil
	})
	r.Register("luis", func(config map[string]string) (Provider, error) {
		return NewHTTPProvider(HTTPConfig{
			URL:             config["url"],
			SubscriptionKey: config["subscription_key"],
		})
	})
	return r
}

// Register adds or replaces a provider factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build constructs the named provider with the given configuration.
func (r *Registry) Build(name string, config map[string]string) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("nlu provider %q not registered", name)
	}
	return f(config)
}

// Has checks whether a provider factory is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// List returns all registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

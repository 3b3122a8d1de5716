// Package registry maps served models to the provider that invokes and bills them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/davidbz/tally/internal/domain"
)

// Registry holds the configured providers and the model each one serves.
// A model belongs to exactly one provider so its price is unambiguous.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.Provider
	owners    map[string]string // model -> provider name
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.Provider),
		owners:    make(map[string]string),
	}
}

// Register adds a provider and claims its models. Nothing is registered when
// one of the models already has an owner.
func (r *Registry) Register(ctx context.Context, provider domain.Provider) error {
	if provider == nil {
		return errors.New("provider cannot be nil")
	}

	name := provider.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}

	models := provider.SupportedModels(ctx)
	for _, model := range models {
		if owner, taken := r.owners[model]; taken {
			return fmt.Errorf("model %s already served by provider %s", model, owner)
		}
	}

	r.providers[name] = provider
	for _, model := range models {
		r.owners[model] = name
	}

	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(_ context.Context, providerName string) (domain.Provider, error) {
	if providerName == "" {
		return nil, errors.New("provider name cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[providerName]
	if !exists {
		return nil, fmt.Errorf("provider %s not found", providerName)
	}

	return provider, nil
}

// GetByModel returns the owner of a model. Models outside the claimed set are
// refused even when a provider would accept them, since they were never
// checked against the pricing table.
func (r *Registry) GetByModel(_ context.Context, model string) (domain.Provider, error) {
	if model == "" {
		return nil, errors.New("model cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	name, served := r.owners[model]
	if !served {
		return nil, fmt.Errorf("no provider serves model %s", model)
	}

	return r.providers[name], nil
}

// List returns the registered provider names, sorted.
func (r *Registry) List(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)

	return names, nil
}

// Models returns every served model, sorted.
func (r *Registry) Models(_ context.Context) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]string, 0, len(r.owners))
	for model := range r.owners {
		models = append(models, model)
	}
	slices.Sort(models)

	return models
}

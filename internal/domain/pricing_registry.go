package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// InMemoryPricingRegistry stores price entries in memory.
// Entries are registered at startup and read for every charge.
type InMemoryPricingRegistry struct {
	mu      sync.RWMutex
	pricing map[string]PriceEntry
}

// NewInMemoryPricingRegistry creates a new in-memory pricing registry.
func NewInMemoryPricingRegistry() *InMemoryPricingRegistry {
	return &InMemoryPricingRegistry{
		mu:      sync.RWMutex{},
		pricing: make(map[string]PriceEntry),
	}
}

// Lookup retrieves pricing for a model.
func (r *InMemoryPricingRegistry) Lookup(
	_ context.Context,
	modelID string,
) (PriceEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.pricing[modelID]
	if !exists {
		return PriceEntry{}, fmt.Errorf("%w: model %s", ErrPricingNotFound, modelID)
	}

	return entry, nil
}

// Register adds pricing for a model.
func (r *InMemoryPricingRegistry) Register(
	_ context.Context,
	entry PriceEntry,
) error {
	if entry.ModelID == "" {
		return errors.New("model cannot be empty")
	}

	if entry.InputUnitCost.IsNegative() || entry.OutputUnitCost.IsNegative() {
		return fmt.Errorf("negative price for model %s", entry.ModelID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pricing[entry.ModelID] = entry
	return nil
}

// Models returns the priced model ids in lexical order.
func (r *InMemoryPricingRegistry) Models(_ context.Context) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]string, 0, len(r.pricing))
	for model := range r.pricing {
		models = append(models, model)
	}
	sort.Strings(models)

	return models
}

// ValidateCoverage checks that every servable model has a price entry.
// It is called at startup so a missing price fails the process instead of a request.
func ValidateCoverage(ctx context.Context, table PricingTable, models []string) error {
	var missing []string
	for _, model := range models {
		if _, err := table.Lookup(ctx, model); err != nil {
			missing = append(missing, model)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: no price entry for %s", ErrPricingNotFound, strings.Join(missing, ", "))
	}

	return nil
}

package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceEntry holds the per-token price of a model in USD.
type PriceEntry struct {
	ModelID        string
	InputUnitCost  decimal.Decimal // USD per input token
	OutputUnitCost decimal.Decimal // USD per output token
}

// PricingTable maintains pricing information for models.
type PricingTable interface {
	// Lookup returns the price entry for a model or ErrPricingNotFound.
	Lookup(ctx context.Context, modelID string) (PriceEntry, error)

	// Register adds or replaces pricing for a model.
	Register(ctx context.Context, entry PriceEntry) error

	// Models returns every model id with a price entry.
	Models(ctx context.Context) []string
}

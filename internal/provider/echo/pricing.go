package echo

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/davidbz/tally/internal/domain"
)

// RegisterPricing registers echo model pricing with the pricing table.
// Echo models are free; they still flow through the ledger.
func RegisterPricing(ctx context.Context, table domain.PricingTable) error {
	if err := table.Register(ctx, domain.PriceEntry{
		ModelID:        modelName,
		InputUnitCost:  decimal.Zero,
		OutputUnitCost: decimal.Zero,
	}); err != nil {
		return fmt.Errorf("failed to register echo pricing: %w", err)
	}
	return nil
}

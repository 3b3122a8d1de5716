package anthropic

import (
	"context"
	"fmt"

	"github.com/davidbz/tally/internal/domain"
)

var defaultPrices = map[string][2]string{
	"claude-3-5-haiku-20241022": {"0.0000008", "0.000004"},
	"claude-3-5-sonnet-latest":  {"0.000003", "0.000015"},
}

// RegisterPricing registers Claude model pricing with the pricing table.
func RegisterPricing(ctx context.Context, table domain.PricingTable) error {
	for _, model := range supportedModels {
		prices, ok := defaultPrices[model]
		if !ok {
			continue
		}

		entry := domain.PriceEntry{
			ModelID:        model,
			InputUnitCost:  domain.MustParseMoney(prices[0]),
			OutputUnitCost: domain.MustParseMoney(prices[1]),
		}
		if err := table.Register(ctx, entry); err != nil {
			return fmt.Errorf("failed to register pricing for model %s: %w", model, err)
		}
	}
	return nil
}

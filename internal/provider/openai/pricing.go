package openai

import (
	"context"
	"fmt"

	"github.com/davidbz/tally/internal/domain"
)

// Per-token USD prices for every OpenAI-compatible model this package serves.
var defaultPrices = map[string][2]string{
	"gpt-4o-mini": {"0.00000015", "0.0000006"},
	"gpt-4o":      {"0.0000025", "0.00001"},
	"o1-mini":     {"0.0000011", "0.0000044"},
	"o3-mini":     {"0.0000011", "0.0000044"},

	"deepseek-r1-distill-llama-70b": {"0.000002", "0.000002"},
	"mixtral-8x7b-32768":            {"0.00000024", "0.00000024"},
	"llama-3.1-8b-instant":          {"0.0000005", "0.0000005"},
	"llama-3.3-70b-versatile":       {"0.00000059", "0.0000008"},

	"gemini-2.0-flash-exp": {"0.00000025", "0.0000003"},
}

// RegisterPricing registers the models of the endpoint with the pricing table.
func (e Endpoint) RegisterPricing(ctx context.Context, table domain.PricingTable) error {
	for _, model := range e.Models {
		prices, ok := defaultPrices[model]
		if !ok {
			// Reported by startup coverage validation.
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

// RegisterPricing registers pricing for every OpenAI-compatible endpoint.
func RegisterPricing(ctx context.Context, table domain.PricingTable) error {
	for _, endpoint := range []Endpoint{OpenAIEndpoint, GroqEndpoint, GeminiEndpoint} {
		if err := endpoint.RegisterPricing(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const charsPerToken = 4

// CostCalculator computes exact charges from token usage.
type CostCalculator struct {
	pricing PricingTable
}

// NewCostCalculator creates a new cost calculator.
func NewCostCalculator(pricing PricingTable) *CostCalculator {
	return &CostCalculator{
		pricing: pricing,
	}
}

// ComputeCost returns inputTokens*inputUnitCost + outputTokens*outputUnitCost.
// Multiplication and addition are exact; nothing is rounded.
func (c *CostCalculator) ComputeCost(
	ctx context.Context,
	modelID string,
	inputTokens int64,
	outputTokens int64,
) (decimal.Decimal, error) {
	if modelID == "" {
		return decimal.Zero, errors.New("model cannot be empty")
	}

	if inputTokens < 0 || outputTokens < 0 {
		return decimal.Zero, fmt.Errorf("%w: input=%d output=%d", ErrInvalidTokenCount, inputTokens, outputTokens)
	}

	price, err := c.pricing.Lookup(ctx, modelID)
	if err != nil {
		return decimal.Zero, err
	}

	inputCost := decimal.NewFromInt(inputTokens).Mul(price.InputUnitCost)
	outputCost := decimal.NewFromInt(outputTokens).Mul(price.OutputUnitCost)

	return inputCost.Add(outputCost), nil
}

// EstimateCost prices a request before invocation for the admission reservation.
// Input tokens are approximated from message length.
func (c *CostCalculator) EstimateCost(
	ctx context.Context,
	modelID string,
	messages []Message,
	maxOutputTokens int64,
) (decimal.Decimal, error) {
	var chars int64
	for _, msg := range messages {
		chars += int64(len(msg.Content))
	}
	inputTokens := (chars + charsPerToken - 1) / charsPerToken

	return c.ComputeCost(ctx, modelID, inputTokens, maxOutputTokens)
}

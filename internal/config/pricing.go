package config

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/davidbz/tally/internal/domain"
)

// PricingFile is the YAML layout of a price override file:
//
//	models:
//	  gpt-4o-mini:
//	    input: "0.00000015"
//	    output: "0.0000006"
//
// Prices are per token in USD and must be quoted so they stay exact.
type PricingFile struct {
	Models map[string]PricingFileEntry `yaml:"models"`
}

// PricingFileEntry is one model's prices as decimal strings.
type PricingFileEntry struct {
	Input  string `yaml:"input"`
	Output string `yaml:"output"`
}

// LoadPricingFile reads and validates a price override file.
func LoadPricingFile(path string) ([]domain.PriceEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}
	return ParsePricing(data)
}

// ParsePricing decodes price overrides, sorted by model id.
func ParsePricing(data []byte) ([]domain.PriceEntry, error) {
	var file PricingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse pricing file: %w", err)
	}

	entries := make([]domain.PriceEntry, 0, len(file.Models))
	for model, prices := range file.Models {
		input, err := parsePrice(prices.Input)
		if err != nil {
			return nil, fmt.Errorf("model %s input price: %w", model, err)
		}
		output, err := parsePrice(prices.Output)
		if err != nil {
			return nil, fmt.Errorf("model %s output price: %w", model, err)
		}

		entries = append(entries, domain.PriceEntry{
			ModelID:        model,
			InputUnitCost:  input,
			OutputUnitCost: output,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ModelID < entries[j].ModelID })
	return entries, nil
}

// parsePrice rejects prices with more fractional digits than money is stored with.
func parsePrice(raw string) (decimal.Decimal, error) {
	price, err := domain.ParseMoney(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.Truncate(domain.MoneyScale).Equal(price) {
		return decimal.Zero, fmt.Errorf("%q has more than %d fractional digits", raw, domain.MoneyScale)
	}
	return price, nil
}

// ApplyPricing registers every entry, replacing built-in prices.
func ApplyPricing(ctx context.Context, table domain.PricingTable, entries []domain.PriceEntry) error {
	for _, entry := range entries {
		if err := table.Register(ctx, entry); err != nil {
			return fmt.Errorf("failed to register pricing for model %s: %w", entry.ModelID, err)
		}
	}
	return nil
}

package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/tally/internal/config"
	"github.com/davidbz/tally/internal/domain"
)

func TestParsePricing(t *testing.T) {
	t.Run("should parse quoted prices exactly", func(t *testing.T) {
		entries, err := config.ParsePricing([]byte(`
models:
  o3-mini:
    input: "0.0000011"
    output: "0.0000044"
  gpt-4o-mini:
    input: "0.00000015"
    output: "0.0000006"
`))

		require.NoError(t, err)
		require.Len(t, entries, 2)
		require.Equal(t, "gpt-4o-mini", entries[0].ModelID)
		require.Equal(t, "0.00000015000000000000", domain.FormatMoney(entries[0].InputUnitCost))
		require.Equal(t, "o3-mini", entries[1].ModelID)
	})

	t.Run("should reject a malformed price", func(t *testing.T) {
		_, err := config.ParsePricing([]byte(`
models:
  gpt-4o:
    input: "cheap"
    output: "0.00001"
`))

		require.Error(t, err)
		require.Contains(t, err.Error(), "gpt-4o input price")
	})

	t.Run("should reject prices finer than the money scale", func(t *testing.T) {
		_, err := config.ParsePricing([]byte(`
models:
  gpt-4o:
    input: "0.000002"
    output: "0.0000000000000000000015"
`))

		require.Error(t, err)
		require.Contains(t, err.Error(), "gpt-4o output price")
		require.Contains(t, err.Error(), "more than 20 fractional digits")
	})

	t.Run("should accept trailing zeros past the money scale", func(t *testing.T) {
		entries, err := config.ParsePricing([]byte(`
models:
  gpt-4o:
    input: "0.0000020000000000000000000"
    output: "0.00000000000000000001"
`))

		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, "0.00000200000000000000", domain.FormatMoney(entries[0].InputUnitCost))
		require.Equal(t, "0.00000000000000000001", domain.FormatMoney(entries[0].OutputUnitCost))
	})

	t.Run("should reject invalid yaml", func(t *testing.T) {
		_, err := config.ParsePricing([]byte("models: ["))
		require.Error(t, err)
	})
}

func TestLoadPricingFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  gpt-4o:
    input: "0.000002"
    output: "0.000008"
`), 0o600))

	entries, err := config.LoadPricingFile(path)
	require.NoError(t, err)

	table := domain.NewInMemoryPricingRegistry()
	require.NoError(t, table.Register(ctx, domain.PriceEntry{
		ModelID:        "gpt-4o",
		InputUnitCost:  domain.MustParseMoney("0.0000025"),
		OutputUnitCost: domain.MustParseMoney("0.00001"),
	}))
	require.NoError(t, config.ApplyPricing(ctx, table, entries))

	entry, err := table.Lookup(ctx, "gpt-4o")
	require.NoError(t, err)
	require.Equal(t, "0.00000200000000000000", domain.FormatMoney(entry.InputUnitCost))

	_, err = config.LoadPricingFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

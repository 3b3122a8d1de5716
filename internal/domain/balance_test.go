package domain_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/tally/internal/domain"
)

func TestAccumulator_IsUnderCeiling(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.openAccount(t, "user-1", "10.00000000000000000000")

	_, err := f.accumulator.Charge(ctx, "user-1", money("9.99999999999999999999"))
	require.NoError(t, err)

	under, err := f.accumulator.IsUnderCeiling(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, under)

	spend, err := f.accumulator.Charge(ctx, "user-1", money("0.00000000000000000002"))
	require.NoError(t, err)
	require.Equal(t, "10.00000000000000000001", domain.FormatMoney(spend))

	under, err = f.accumulator.IsUnderCeiling(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, under)
}

func TestAccumulator_Charge(t *testing.T) {
	ctx := context.Background()

	t.Run("should fail for unknown account", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.accumulator.Charge(ctx, "nobody", money("1"))

		require.ErrorIs(t, err, domain.ErrAccountNotFound)
	})

	t.Run("should reject negative amounts", func(t *testing.T) {
		f := newFixture(t)
		f.openAccount(t, "user-1", "10")

		_, err := f.accumulator.Charge(ctx, "user-1", money("-1"))

		require.Error(t, err)
	})

	t.Run("should conserve balance under concurrent charges", func(t *testing.T) {
		f := newFixture(t)
		f.openAccount(t, "user-1", "1000")

		rng := rand.New(rand.NewSource(7))
		amounts := make([]decimal.Decimal, 200)
		expected := decimal.Zero
		for i := range amounts {
			// Sub-millionth amounts, the range where float accumulation drifts.
			amounts[i] = decimal.New(rng.Int63n(1_000_000), -12)
			expected = expected.Add(amounts[i])
		}

		var wg sync.WaitGroup
		for _, amount := range amounts {
			wg.Add(1)
			go func(amount decimal.Decimal) {
				defer wg.Done()
				_, err := f.accumulator.Charge(ctx, "user-1", amount)
				assert.NoError(t, err)
			}(amount)
		}
		wg.Wait()

		balance, err := f.accumulator.GetBalance(ctx, "user-1")
		require.NoError(t, err)
		require.Equal(t, domain.FormatMoney(expected), domain.FormatMoney(balance.CumulativeSpend))
	})
}

func TestAccumulator_Accounts(t *testing.T) {
	ctx := context.Background()

	t.Run("should create zero-spend account once", func(t *testing.T) {
		f := newFixture(t)

		balance, err := f.accumulator.CreateAccount(ctx, "user-1", money("5"))
		require.NoError(t, err)
		require.True(t, balance.CumulativeSpend.IsZero())
		require.True(t, balance.SpendCeiling.Equal(money("5")))

		_, err = f.accumulator.CreateAccount(ctx, "user-1", money("5"))
		require.ErrorIs(t, err, domain.ErrAccountExists)
	})

	t.Run("should change ceiling", func(t *testing.T) {
		f := newFixture(t)
		f.openAccount(t, "user-1", "5")

		balance, err := f.accumulator.SetCeiling(ctx, "user-1", money("25"))

		require.NoError(t, err)
		require.True(t, balance.SpendCeiling.Equal(money("25")))
	})

	t.Run("should fail to change ceiling of unknown account", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.accumulator.SetCeiling(ctx, "nobody", money("25"))

		require.ErrorIs(t, err, domain.ErrAccountNotFound)
	})
}

func TestAccumulator_Verify(t *testing.T) {
	ctx := context.Background()

	t.Run("should report consistent balance", func(t *testing.T) {
		f := newFixture(t)
		f.openAccount(t, "user-1", "10")
		f.addProvider(t, &fakeProvider{name: "fake", models: []string{testModel}})
		controller := f.controller(f.store, nil)

		for _, id := range []string{"m1", "m2", "m3"} {
			_, err := controller.AdmitAndInvoke(ctx, chatRequest("user-1", id, 500))
			require.NoError(t, err)
		}

		report, err := f.accumulator.Verify(ctx, "user-1")

		require.NoError(t, err)
		require.True(t, report.Consistent)
		require.Equal(t, int64(3), report.Records)
		require.Equal(t, "0.00750000000000000000", domain.FormatMoney(report.LedgerTotal))
	})

	t.Run("should detect a charge without a ledger record", func(t *testing.T) {
		f := newFixture(t)
		f.openAccount(t, "user-1", "10")

		_, err := f.accumulator.Charge(ctx, "user-1", money("0.01"))
		require.NoError(t, err)

		report, err := f.accumulator.Verify(ctx, "user-1")

		require.NoError(t, err)
		require.False(t, report.Consistent)
	})
}

package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/davidbz/tally/internal/observability"
)

// IntegrityReport compares a balance with the ledger it was derived from.
type IntegrityReport struct {
	UserID          string          `json:"user_id"`
	CumulativeSpend decimal.Decimal `json:"cumulative_spend"`
	LedgerTotal     decimal.Decimal `json:"ledger_total"`
	Records         int64           `json:"records"`
	Consistent      bool            `json:"consistent"`
}

// Accumulator tracks cumulative spend per user against a spend ceiling.
type Accumulator struct {
	store MeteringStore
}

// NewAccumulator creates a new balance accumulator (DI constructor).
func NewAccumulator(store MeteringStore) *Accumulator {
	return &Accumulator{
		store: store,
	}
}

// GetBalance returns the current balance of a user.
func (a *Accumulator) GetBalance(ctx context.Context, userID string) (*UserBalance, error) {
	if userID == "" {
		return nil, errors.New("user id cannot be empty")
	}

	balance, err := a.store.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// IsUnderCeiling reports whether cumulative spend is strictly below the ceiling.
func (a *Accumulator) IsUnderCeiling(ctx context.Context, userID string) (bool, error) {
	balance, err := a.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance.CumulativeSpend.LessThan(balance.SpendCeiling), nil
}

// Charge atomically adds amount to the cumulative spend and returns the new total.
func (a *Accumulator) Charge(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("cannot charge negative amount %s", amount)
	}

	var newSpend decimal.Decimal
	err := a.store.RunInTx(ctx, func(tx MeteringTx) error {
		if _, err := tx.LockBalance(ctx, userID); err != nil {
			return err
		}

		var txErr error
		newSpend, txErr = tx.AddSpend(ctx, userID, amount)
		return txErr
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to charge %s: %w", userID, err)
	}

	return newSpend, nil
}

// CreateAccount opens a zero-spend balance with the given ceiling.
func (a *Accumulator) CreateAccount(ctx context.Context, userID string, ceiling decimal.Decimal) (*UserBalance, error) {
	if userID == "" {
		return nil, errors.New("user id cannot be empty")
	}

	if ceiling.IsNegative() {
		return nil, fmt.Errorf("spend ceiling cannot be negative: %s", ceiling)
	}

	balance, err := a.store.CreateBalance(ctx, userID, ceiling)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	observability.FromContext(ctx).Info("account created",
		observability.String("user_id", userID),
		observability.Decimal("spend_ceiling", ceiling))

	return balance, nil
}

// SetCeiling changes the spend ceiling of an account.
func (a *Accumulator) SetCeiling(ctx context.Context, userID string, ceiling decimal.Decimal) (*UserBalance, error) {
	if ceiling.IsNegative() {
		return nil, fmt.Errorf("spend ceiling cannot be negative: %s", ceiling)
	}

	balance, err := a.store.SetCeiling(ctx, userID, ceiling)
	if err != nil {
		return nil, fmt.Errorf("failed to set ceiling: %w", err)
	}

	observability.FromContext(ctx).Info("spend ceiling changed",
		observability.String("user_id", userID),
		observability.Decimal("spend_ceiling", ceiling))

	return balance, nil
}

// Verify checks that cumulative spend equals the sum of the user's ledger costs.
func (a *Accumulator) Verify(ctx context.Context, userID string) (*IntegrityReport, error) {
	balance, err := a.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	total, count, err := a.store.SumUsage(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum usage: %w", err)
	}

	report := &IntegrityReport{
		UserID:          userID,
		CumulativeSpend: balance.CumulativeSpend,
		LedgerTotal:     total,
		Records:         count,
		Consistent:      balance.CumulativeSpend.Equal(total),
	}

	if !report.Consistent {
		observability.FromContext(ctx).Error("balance does not match ledger",
			observability.String("user_id", userID),
			observability.Decimal("cumulative_spend", balance.CumulativeSpend),
			observability.Decimal("ledger_total", total))
	}

	return report, nil
}

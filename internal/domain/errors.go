package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded rejects admission because cumulative spend reached the ceiling.
	ErrQuotaExceeded = errors.New("usage limit exceeded")

	// ErrPricingNotFound means a model has no price entry. This is a configuration defect.
	ErrPricingNotFound = errors.New("pricing not found")

	// ErrProviderFailure marks a failed or malformed model invocation.
	ErrProviderFailure = errors.New("provider invocation failed")

	// ErrLedgerWrite marks a failed charge-and-log transaction.
	ErrLedgerWrite = errors.New("ledger write failed")

	// ErrBalanceUnavailable rejects admission when the balance store cannot be read.
	ErrBalanceUnavailable = errors.New("balance store unavailable")

	// ErrDuplicateMessage rejects a message id the user already sent.
	ErrDuplicateMessage = errors.New("duplicate message id")

	// ErrAccountNotFound means the user has no balance row.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when creating a balance row twice.
	ErrAccountExists = errors.New("account already exists")

	// ErrUnsupportedModel means no registered provider serves the model.
	ErrUnsupportedModel = errors.New("unsupported model")

	// ErrInvalidRequest rejects a malformed metered request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidTokenCount rejects negative token counts.
	ErrInvalidTokenCount = errors.New("invalid token count")
)

// ProviderError carries the detail of a failed invocation.
type ProviderError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed for model %s: %v", e.Provider, e.Model, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is.
func (e *ProviderError) Unwrap() []error {
	return []error{ErrProviderFailure, e.Err}
}

package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// UsageRecord is one completed, charged invocation. Records are never mutated.
type UsageRecord struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	MessageID    string          `json:"message_id"`
	ModelID      string          `json:"model_id"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	Cost         decimal.Decimal `json:"cost"`
	Timestamp    time.Time       `json:"timestamp"`
}

// UserBalance is the running spend of a user against their ceiling.
type UserBalance struct {
	UserID          string          `json:"user_id"`
	CumulativeSpend decimal.Decimal `json:"cumulative_spend"`
	SpendCeiling    decimal.Decimal `json:"spend_ceiling"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Reservation holds an estimated cost against a balance while a request is in flight.
type Reservation struct {
	ID        string
	UserID    string
	MessageID string
	Amount    decimal.Decimal
	ExpiresAt time.Time
}

// MeteringStore persists balances, usage records and reservations.
type MeteringStore interface {
	// RunInTx runs fn in a single transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn func(tx MeteringTx) error) error

	// GetBalance reads a balance without locking it.
	GetBalance(ctx context.Context, userID string) (*UserBalance, error)

	// CreateBalance inserts a zero-spend balance or returns ErrAccountExists.
	CreateBalance(ctx context.Context, userID string, ceiling decimal.Decimal) (*UserBalance, error)

	// SetCeiling replaces the spend ceiling of an existing balance.
	SetCeiling(ctx context.Context, userID string, ceiling decimal.Decimal) (*UserBalance, error)

	// ListUsage returns usage records with from <= timestamp < to, oldest first.
	ListUsage(ctx context.Context, userID string, from, to time.Time) ([]UsageRecord, error)

	// SumUsage returns the total cost and the number of a user's records.
	SumUsage(ctx context.Context, userID string) (decimal.Decimal, int64, error)

	// PurgeExpiredReservations deletes reservations that expired before the given time.
	PurgeExpiredReservations(ctx context.Context, before time.Time) (int64, error)
}

// MeteringTx is the set of operations available inside RunInTx.
type MeteringTx interface {
	// LockBalance reads and locks a balance until the transaction ends.
	LockBalance(ctx context.Context, userID string) (*UserBalance, error)

	// AppendUsage inserts a record unless the same user already logged the message id.
	// It returns the id of the stored record and whether this call created it.
	AppendUsage(ctx context.Context, rec *UsageRecord) (string, bool, error)

	// MessageSeen reports whether the user already logged the message id or
	// holds a reservation for it that is still active at now.
	MessageSeen(ctx context.Context, userID, messageID string, now time.Time) (bool, error)

	// AddSpend adds amount to the cumulative spend and returns the new total.
	AddSpend(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)

	// HeldAmount sums the reservations of a user still active at now.
	HeldAmount(ctx context.Context, userID string, now time.Time) (decimal.Decimal, error)

	// PutReservation stores a reservation.
	PutReservation(ctx context.Context, res Reservation) error

	// DeleteReservation removes a reservation. Missing reservations are ignored.
	DeleteReservation(ctx context.Context, reservationID string) error
}

package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidbz/tally/internal/observability"
)

// Ledger is the append-only log of charged invocations.
type Ledger struct {
	store MeteringStore
	now   func() time.Time
}

// NewLedger creates a new ledger (DI constructor).
func NewLedger(store MeteringStore) *Ledger {
	return &Ledger{
		store: store,
		now:   time.Now,
	}
}

// Append stores a usage record. A record whose message id is already logged
// is not stored again and the existing record id is returned.
func (l *Ledger) Append(ctx context.Context, rec *UsageRecord) (string, error) {
	if err := prepareRecord(rec, l.now); err != nil {
		return "", err
	}

	var id string
	err := l.store.RunInTx(ctx, func(tx MeteringTx) error {
		var txErr error
		id, _, txErr = tx.AppendUsage(ctx, rec)
		return txErr
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLedgerWrite, err)
	}

	if id != rec.ID {
		observability.FromContext(ctx).Info("usage record already logged",
			observability.String("message_id", rec.MessageID),
			observability.String("record_id", id))
	}

	return id, nil
}

// List returns a user's records with from <= timestamp < to, oldest first.
func (l *Ledger) List(ctx context.Context, userID string, from, to time.Time) ([]UsageRecord, error) {
	if userID == "" {
		return nil, errors.New("user id cannot be empty")
	}

	records, err := l.store.ListUsage(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	return records, nil
}

func prepareRecord(rec *UsageRecord, now func() time.Time) error {
	if rec == nil {
		return errors.New("usage record cannot be nil")
	}

	if rec.UserID == "" || rec.MessageID == "" || rec.ModelID == "" {
		return errors.New("usage record requires user, message and model")
	}

	if rec.InputTokens < 0 || rec.OutputTokens < 0 {
		return fmt.Errorf("%w: input=%d output=%d", ErrInvalidTokenCount, rec.InputTokens, rec.OutputTokens)
	}

	if rec.Cost.IsNegative() {
		return fmt.Errorf("negative cost %s for message %s", rec.Cost, rec.MessageID)
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = now().UTC()
	}

	return nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/davidbz/tally/internal/domain"
)

// DB is the query surface shared by the pool and a transaction.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// MeteringStore persists balances, usage and reservations in PostgreSQL.
// Money crosses the driver as text so no value passes through float64.
type MeteringStore struct {
	client *Client
}

// NewMeteringStore creates a store on top of a connected client.
func NewMeteringStore(client *Client) *MeteringStore {
	return &MeteringStore{client: client}
}

// RunInTx runs fn in a READ COMMITTED transaction. Balance rows are locked
// explicitly with SELECT ... FOR UPDATE.
func (s *MeteringStore) RunInTx(ctx context.Context, fn func(tx domain.MeteringTx) error) error {
	return pgx.BeginFunc(ctx, s.client.pool, func(tx pgx.Tx) error {
		return fn(&meteringTx{db: tx})
	})
}

const balanceColumns = `user_id, cumulative_spend::text, spend_ceiling::text, created_at, updated_at`

// GetBalance reads a balance without locking it.
func (s *MeteringStore) GetBalance(ctx context.Context, userID string) (*domain.UserBalance, error) {
	row := s.client.pool.QueryRow(ctx,
		`SELECT `+balanceColumns+` FROM user_balances WHERE user_id = $1`, userID)
	return scanBalance(row, userID)
}

// CreateBalance inserts a zero-spend balance.
func (s *MeteringStore) CreateBalance(ctx context.Context, userID string, ceiling decimal.Decimal) (*domain.UserBalance, error) {
	row := s.client.pool.QueryRow(ctx, `
		INSERT INTO user_balances (user_id, cumulative_spend, spend_ceiling)
		VALUES ($1, 0, $2::numeric)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING `+balanceColumns,
		userID, ceiling.String())

	balance, err := scanBalance(row, userID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountExists, userID)
	}
	return balance, err
}

// SetCeiling replaces a user's spend ceiling.
func (s *MeteringStore) SetCeiling(ctx context.Context, userID string, ceiling decimal.Decimal) (*domain.UserBalance, error) {
	row := s.client.pool.QueryRow(ctx, `
		UPDATE user_balances
		SET spend_ceiling = $2::numeric, updated_at = NOW()
		WHERE user_id = $1
		RETURNING `+balanceColumns,
		userID, ceiling.String())
	return scanBalance(row, userID)
}

// ListUsage returns records with from <= created_at < to, oldest first.
func (s *MeteringStore) ListUsage(ctx context.Context, userID string, from, to time.Time) ([]domain.UsageRecord, error) {
	rows, err := s.client.pool.Query(ctx, `
		SELECT id::text, user_id, message_id, model_id, input_tokens, output_tokens, cost::text, created_at
		FROM usage_logs
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC, id ASC`,
		userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage logs: %w", err)
	}
	defer rows.Close()

	var records []domain.UsageRecord
	for rows.Next() {
		var rec domain.UsageRecord
		var cost string
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.MessageID, &rec.ModelID,
			&rec.InputTokens, &rec.OutputTokens, &cost, &rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage log: %w", err)
		}

		if rec.Cost, err = domain.ParseMoney(cost); err != nil {
			return nil, err
		}
		rec.Timestamp = rec.Timestamp.UTC()
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage logs: %w", err)
	}

	return records, nil
}

// SumUsage returns the exact total cost and count of a user's records.
func (s *MeteringStore) SumUsage(ctx context.Context, userID string) (decimal.Decimal, int64, error) {
	var total string
	var count int64
	err := s.client.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(cost), 0)::text, COUNT(*)
		FROM usage_logs
		WHERE user_id = $1`, userID).Scan(&total, &count)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("failed to sum usage: %w", err)
	}

	sum, err := domain.ParseMoney(total)
	if err != nil {
		return decimal.Zero, 0, err
	}
	return sum, count, nil
}

// PurgeExpiredReservations deletes reservations that expired before the given time.
func (s *MeteringStore) PurgeExpiredReservations(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.client.pool.Exec(ctx, `DELETE FROM reservations WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge reservations: %w", err)
	}
	return tag.RowsAffected(), nil
}

type meteringTx struct {
	db DB
}

func (t *meteringTx) LockBalance(ctx context.Context, userID string) (*domain.UserBalance, error) {
	row := t.db.QueryRow(ctx,
		`SELECT `+balanceColumns+` FROM user_balances WHERE user_id = $1 FOR UPDATE`, userID)
	return scanBalance(row, userID)
}

func (t *meteringTx) AppendUsage(ctx context.Context, rec *domain.UsageRecord) (string, bool, error) {
	var id string
	err := t.db.QueryRow(ctx, `
		INSERT INTO usage_logs (id, user_id, message_id, model_id, input_tokens, output_tokens, cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8)
		ON CONFLICT (user_id, message_id) DO NOTHING
		RETURNING id::text`,
		rec.ID, rec.UserID, rec.MessageID, rec.ModelID,
		rec.InputTokens, rec.OutputTokens, rec.Cost.String(), rec.Timestamp,
	).Scan(&id)

	switch {
	case err == nil:
		return id, true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return "", false, fmt.Errorf("failed to insert usage log: %w", err)
	}

	err = t.db.QueryRow(ctx,
		`SELECT id::text FROM usage_logs WHERE user_id = $1 AND message_id = $2`,
		rec.UserID, rec.MessageID).Scan(&id)
	if err != nil {
		return "", false, fmt.Errorf("failed to read existing usage log: %w", err)
	}
	return id, false, nil
}

func (t *meteringTx) MessageSeen(ctx context.Context, userID, messageID string, now time.Time) (bool, error) {
	var seen bool
	err := t.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM usage_logs WHERE user_id = $1 AND message_id = $2
		) OR EXISTS (
			SELECT 1 FROM reservations WHERE user_id = $1 AND message_id = $2 AND expires_at > $3
		)`, userID, messageID, now).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("failed to check message id: %w", err)
	}
	return seen, nil
}

func (t *meteringTx) AddSpend(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	var spend string
	err := t.db.QueryRow(ctx, `
		UPDATE user_balances
		SET cumulative_spend = cumulative_spend + $2::numeric, updated_at = NOW()
		WHERE user_id = $1
		RETURNING cumulative_spend::text`,
		userID, amount.String()).Scan(&spend)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, userID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to add spend: %w", err)
	}
	return domain.ParseMoney(spend)
}

func (t *meteringTx) HeldAmount(ctx context.Context, userID string, now time.Time) (decimal.Decimal, error) {
	var held string
	err := t.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM reservations
		WHERE user_id = $1 AND expires_at > $2`, userID, now).Scan(&held)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum reservations: %w", err)
	}
	return domain.ParseMoney(held)
}

func (t *meteringTx) PutReservation(ctx context.Context, res domain.Reservation) error {
	_, err := t.db.Exec(ctx, `
		INSERT INTO reservations (id, user_id, message_id, amount, expires_at)
		VALUES ($1, $2, $3, $4::numeric, $5)
		ON CONFLICT (id) DO UPDATE SET amount = EXCLUDED.amount, expires_at = EXCLUDED.expires_at`,
		res.ID, res.UserID, res.MessageID, res.Amount.String(), res.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to store reservation: %w", err)
	}
	return nil
}

func (t *meteringTx) DeleteReservation(ctx context.Context, reservationID string) error {
	if _, err := t.db.Exec(ctx, `DELETE FROM reservations WHERE id = $1`, reservationID); err != nil {
		return fmt.Errorf("failed to delete reservation: %w", err)
	}
	return nil
}

func scanBalance(row pgx.Row, userID string) (*domain.UserBalance, error) {
	var b domain.UserBalance
	var spend, ceiling string
	err := row.Scan(&b.UserID, &spend, &ceiling, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	if b.CumulativeSpend, err = domain.ParseMoney(spend); err != nil {
		return nil, err
	}
	if b.SpendCeiling, err = domain.ParseMoney(ceiling); err != nil {
		return nil, err
	}
	return &b, nil
}

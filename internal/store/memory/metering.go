package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidbz/tally/internal/domain"
)

// MeteringStore keeps balances, usage and reservations in process memory.
// Transactions are serialized by a single mutex and rolled back with an undo log.
type MeteringStore struct {
	mu           sync.Mutex
	balances     map[string]*domain.UserBalance
	usage        []domain.UsageRecord
	byMessage    map[string]string // keyed by messageKey
	reservations map[string]domain.Reservation
	now          func() time.Time
}

// NewMeteringStore creates an empty store.
func NewMeteringStore() *MeteringStore {
	return &MeteringStore{
		mu:           sync.Mutex{},
		balances:     make(map[string]*domain.UserBalance),
		usage:        nil,
		byMessage:    make(map[string]string),
		reservations: make(map[string]domain.Reservation),
		now:          time.Now,
	}
}

// RunInTx runs fn while holding the store lock.
func (s *MeteringStore) RunInTx(ctx context.Context, fn func(tx domain.MeteringTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// GetBalance returns a copy of a user's balance.
func (s *MeteringStore) GetBalance(_ context.Context, userID string) (*domain.UserBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.balances[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, userID)
	}
	cp := *balance
	return &cp, nil
}

// CreateBalance opens a zero-spend balance.
func (s *MeteringStore) CreateBalance(_ context.Context, userID string, ceiling decimal.Decimal) (*domain.UserBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.balances[userID]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountExists, userID)
	}

	now := s.now().UTC()
	balance := &domain.UserBalance{
		UserID:          userID,
		CumulativeSpend: decimal.Zero,
		SpendCeiling:    ceiling,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.balances[userID] = balance

	cp := *balance
	return &cp, nil
}

// SetCeiling replaces a user's spend ceiling.
func (s *MeteringStore) SetCeiling(_ context.Context, userID string, ceiling decimal.Decimal) (*domain.UserBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.balances[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, userID)
	}
	balance.SpendCeiling = ceiling
	balance.UpdatedAt = s.now().UTC()

	cp := *balance
	return &cp, nil
}

// ListUsage returns records with from <= timestamp < to, oldest first.
func (s *MeteringStore) ListUsage(_ context.Context, userID string, from, to time.Time) ([]domain.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []domain.UsageRecord
	for _, rec := range s.usage {
		if rec.UserID != userID || rec.Timestamp.Before(from) || !rec.Timestamp.Before(to) {
			continue
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

// SumUsage returns the total cost and count of a user's records.
func (s *MeteringStore) SumUsage(_ context.Context, userID string) (decimal.Decimal, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	var count int64
	for _, rec := range s.usage {
		if rec.UserID != userID {
			continue
		}
		total = total.Add(rec.Cost)
		count++
	}
	return total, count, nil
}

// PurgeExpiredReservations drops reservations that expired before the given time.
func (s *MeteringStore) PurgeExpiredReservations(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, res := range s.reservations {
		if res.ExpiresAt.Before(before) {
			delete(s.reservations, id)
			purged++
		}
	}
	return purged, nil
}

// memoryTx mutates the store directly and records how to undo each change.
type memoryTx struct {
	store *MeteringStore
	undo  []func()
}

func (t *memoryTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

func (t *memoryTx) LockBalance(_ context.Context, userID string) (*domain.UserBalance, error) {
	balance, ok := t.store.balances[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, userID)
	}
	cp := *balance
	return &cp, nil
}

func (t *memoryTx) AppendUsage(_ context.Context, rec *domain.UsageRecord) (string, bool, error) {
	key := messageKey(rec.UserID, rec.MessageID)
	if existing, ok := t.store.byMessage[key]; ok {
		return existing, false, nil
	}

	t.store.usage = append(t.store.usage, *rec)
	t.store.byMessage[key] = rec.ID

	n := len(t.store.usage) - 1
	t.undo = append(t.undo, func() {
		t.store.usage = t.store.usage[:n]
		delete(t.store.byMessage, key)
	})

	return rec.ID, true, nil
}

func (t *memoryTx) MessageSeen(_ context.Context, userID, messageID string, now time.Time) (bool, error) {
	if _, ok := t.store.byMessage[messageKey(userID, messageID)]; ok {
		return true, nil
	}
	for _, res := range t.store.reservations {
		if res.UserID == userID && res.MessageID == messageID && res.ExpiresAt.After(now) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) AddSpend(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	balance, ok := t.store.balances[userID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, userID)
	}

	prevSpend, prevUpdated := balance.CumulativeSpend, balance.UpdatedAt
	balance.CumulativeSpend = balance.CumulativeSpend.Add(amount)
	balance.UpdatedAt = t.store.now().UTC()

	t.undo = append(t.undo, func() {
		balance.CumulativeSpend = prevSpend
		balance.UpdatedAt = prevUpdated
	})

	return balance.CumulativeSpend, nil
}

func (t *memoryTx) HeldAmount(_ context.Context, userID string, now time.Time) (decimal.Decimal, error) {
	held := decimal.Zero
	for _, res := range t.store.reservations {
		if res.UserID == userID && res.ExpiresAt.After(now) {
			held = held.Add(res.Amount)
		}
	}
	return held, nil
}

func (t *memoryTx) PutReservation(_ context.Context, res domain.Reservation) error {
	prev, existed := t.store.reservations[res.ID]
	t.store.reservations[res.ID] = res

	t.undo = append(t.undo, func() {
		if existed {
			t.store.reservations[res.ID] = prev
			return
		}
		delete(t.store.reservations, res.ID)
	})
	return nil
}

func (t *memoryTx) DeleteReservation(_ context.Context, reservationID string) error {
	prev, existed := t.store.reservations[reservationID]
	if !existed {
		return nil
	}
	delete(t.store.reservations, reservationID)

	t.undo = append(t.undo, func() {
		t.store.reservations[reservationID] = prev
	})
	return nil
}

// messageKey scopes a message id to the user that sent it.
func messageKey(userID, messageID string) string {
	return userID + "\x00" + messageID
}

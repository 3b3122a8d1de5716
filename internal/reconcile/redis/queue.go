package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/davidbz/tally/internal/domain"
	"github.com/davidbz/tally/internal/observability"
)

const payloadField = "charge"

// Queue implements domain.ReconciliationQueue on a Redis stream.
// Entries are appended with XADD, paged oldest first with XRANGE and removed with XDEL.
type Queue struct {
	client *redis.Client
	stream string
}

// NewQueue creates a queue writing to the given stream.
func NewQueue(client *redis.Client, stream string) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}

	if stream == "" {
		return nil, errors.New("stream name cannot be empty")
	}

	return &Queue{
		client: client,
		stream: stream,
	}, nil
}

// Enqueue appends a pending charge to the stream.
func (q *Queue) Enqueue(ctx context.Context, charge domain.PendingCharge) error {
	payload, err := json.Marshal(charge)
	if err != nil {
		return fmt.Errorf("failed to encode pending charge: %w", err)
	}

	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{payloadField: payload},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to enqueue pending charge: %w", err)
	}

	observability.FromContext(ctx).Info("pending charge enqueued",
		observability.String("stream", q.stream),
		observability.String("entry_id", id),
		observability.String("message_id", charge.Record.MessageID))

	return nil
}

// Pending reads up to limit entries after the given entry id, oldest first.
// Entries that cannot be decoded are logged and skipped but still advance next.
func (q *Queue) Pending(ctx context.Context, after string, limit int64) ([]domain.PendingCharge, string, error) {
	start := "-"
	if after != "" {
		start = "(" + after
	}

	entries, err := q.client.XRangeN(ctx, q.stream, start, "+", limit).Result()
	if err != nil {
		return nil, "", fmt.Errorf("failed to read pending charges: %w", err)
	}
	if len(entries) == 0 {
		return nil, "", nil
	}

	logger := observability.FromContext(ctx)
	charges := make([]domain.PendingCharge, 0, len(entries))
	for _, entry := range entries {
		charge, err := decodeEntry(entry)
		if err != nil {
			logger.Error("skipping undecodable pending charge",
				observability.String("entry_id", entry.ID),
				observability.Error(err))
			continue
		}
		charges = append(charges, charge)
	}

	return charges, entries[len(entries)-1].ID, nil
}

// Ack removes an entry from the stream.
func (q *Queue) Ack(ctx context.Context, id string) error {
	if err := q.client.XDel(ctx, q.stream, id).Err(); err != nil {
		return fmt.Errorf("failed to ack pending charge %s: %w", id, err)
	}
	return nil
}

func decodeEntry(entry redis.XMessage) (domain.PendingCharge, error) {
	var charge domain.PendingCharge

	raw, ok := entry.Values[payloadField].(string)
	if !ok {
		return charge, fmt.Errorf("entry %s has no %q field", entry.ID, payloadField)
	}

	if err := json.Unmarshal([]byte(raw), &charge); err != nil {
		return charge, fmt.Errorf("failed to decode entry %s: %w", entry.ID, err)
	}

	charge.ID = entry.ID
	return charge, nil
}

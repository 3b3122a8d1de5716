package redis

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/tally/internal/domain"
)

func TestNewQueue(t *testing.T) {
	t.Run("should require a client", func(t *testing.T) {
		_, err := NewQueue(nil, "tally:reconcile")
		require.Error(t, err)
	})

	t.Run("should require a stream name", func(t *testing.T) {
		_, err := NewQueue(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "")
		require.Error(t, err)
	})
}

func TestDecodeEntry(t *testing.T) {
	t.Run("should decode payload and keep the entry id", func(t *testing.T) {
		payload := `{"record":{"id":"r1","user_id":"user-1","message_id":"msg-1","model_id":"gpt-4o",` +
			`"input_tokens":10,"output_tokens":5,"cost":"0.000075","timestamp":"2025-01-15T10:00:00Z"},` +
			`"reservation_id":"res-1","reason":"ledger write failed","failed_at":"2025-01-15T10:00:01Z"}`

		charge, err := decodeEntry(redis.XMessage{
			ID:     "1736935201000-0",
			Values: map[string]interface{}{payloadField: payload},
		})

		require.NoError(t, err)
		require.Equal(t, "1736935201000-0", charge.ID)
		require.Equal(t, "msg-1", charge.Record.MessageID)
		require.Equal(t, "0.00007500000000000000", domain.FormatMoney(charge.Record.Cost))
		require.Equal(t, "res-1", charge.ReservationID)
		require.Equal(t, time.Date(2025, 1, 15, 10, 0, 1, 0, time.UTC), charge.FailedAt)
	})

	t.Run("should reject entries without payload", func(t *testing.T) {
		_, err := decodeEntry(redis.XMessage{ID: "1-0", Values: map[string]interface{}{}})
		require.Error(t, err)
	})

	t.Run("should reject malformed payload", func(t *testing.T) {
		_, err := decodeEntry(redis.XMessage{ID: "1-0", Values: map[string]interface{}{payloadField: "{"}})
		require.Error(t, err)
	})
}

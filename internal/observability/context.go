package observability

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

type contextKey string

const (
	traceIDBytes = 16
	spanIDBytes  = 8
)

// Context keys, in the order FromContext emits them as log fields.
const (
	TraceIDKey   contextKey = "trace_id"
	SpanIDKey    contextKey = "span_id"
	RequestIDKey contextKey = "request_id"
	UserIDKey    contextKey = "user_id"
	MessageIDKey contextKey = "message_id"
	ModelKey     contextKey = "model"
)

// loggedKeys are copied onto every logger built by FromContext. Trace and span
// ids are handled separately because an active span overrides them.
var loggedKeys = []contextKey{RequestIDKey, UserIDKey, MessageIDKey, ModelKey}

func withValue(ctx context.Context, key contextKey, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

func value(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// WithTraceID injects trace ID into context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return withValue(ctx, TraceIDKey, traceID)
}

// WithSpanID injects span ID into context.
func WithSpanID(ctx context.Context, spanID string) context.Context {
	return withValue(ctx, SpanIDKey, spanID)
}

// WithRequestID injects request ID into context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withValue(ctx, RequestIDKey, requestID)
}

// WithUserID injects the metered user into context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return withValue(ctx, UserIDKey, userID)
}

// WithMessageID injects the idempotency key of the metered message.
func WithMessageID(ctx context.Context, messageID string) context.Context {
	return withValue(ctx, MessageIDKey, messageID)
}

// WithModel injects model name into context.
func WithModel(ctx context.Context, model string) context.Context {
	return withValue(ctx, ModelKey, model)
}

// GetTraceID extracts trace ID from context.
func GetTraceID(ctx context.Context) string { return value(ctx, TraceIDKey) }

// GetSpanID extracts span ID from context.
func GetSpanID(ctx context.Context) string { return value(ctx, SpanIDKey) }

// GetRequestID extracts request ID from context.
func GetRequestID(ctx context.Context) string { return value(ctx, RequestIDKey) }

// GetUserID extracts the metered user from context.
func GetUserID(ctx context.Context) string { return value(ctx, UserIDKey) }

// GetMessageID extracts the metered message id from context.
func GetMessageID(ctx context.Context) string { return value(ctx, MessageIDKey) }

// GetModel extracts model name from context.
func GetModel(ctx context.Context) string { return value(ctx, ModelKey) }

// GenerateTraceID returns 32 hex chars, the size of an OpenTelemetry trace id.
func GenerateTraceID() string {
	return randomHex(traceIDBytes)
}

// GenerateSpanID returns 16 hex chars, the size of an OpenTelemetry span id.
func GenerateSpanID() string {
	return randomHex(spanIDBytes)
}

// GenerateRequestID generates a unique request identifier (UUID).
func GenerateRequestID() string {
	return uuid.NewString()
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		id := uuid.New()
		copy(b, id[:])
	}
	return hex.EncodeToString(b)
}

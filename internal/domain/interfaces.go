package domain

import (
	"context"
	"time"
)

// Provider represents any LLM provider.
type Provider interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Stream sends a completion request and returns a stream of chunks.
	// The last chunk has Done set and carries the token usage. Once usage is
	// known it is delivered even if ctx is cancelled, so callers drain the channel.
	Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error)

	// Name returns the provider identifier.
	Name() string

	// IsModelSupported checks if the provider supports the given model.
	IsModelSupported(ctx context.Context, model string) bool

	// SupportedModels lists every model the provider can serve.
	SupportedModels(ctx context.Context) []string
}

// ProviderRegistry manages available providers.
type ProviderRegistry interface {
	// Register adds a provider to the registry.
	Register(ctx context.Context, provider Provider) error

	// Get retrieves a provider by name.
	Get(ctx context.Context, providerName string) (Provider, error)

	// GetByModel retrieves the provider serving a model.
	GetByModel(ctx context.Context, model string) (Provider, error)

	// List returns all available providers.
	List(ctx context.Context) ([]string, error)
}

// EventPublisher publishes events for observability.
type EventPublisher interface {
	// Publish publishes an event with the given type and data.
	Publish(ctx context.Context, eventType string, data map[string]interface{})
}

// PendingCharge is a completed generation whose charge did not commit.
type PendingCharge struct {
	ID            string      `json:"id,omitempty"`
	Record        UsageRecord `json:"record"`
	ReservationID string      `json:"reservation_id,omitempty"`
	Reason        string      `json:"reason"`
	FailedAt      time.Time   `json:"failed_at"`
}

// ReconciliationQueue holds charges to be replayed later.
type ReconciliationQueue interface {
	// Enqueue stores a pending charge.
	Enqueue(ctx context.Context, charge PendingCharge) error

	// Pending reads up to limit entries queued after the entry id after, oldest
	// first. An empty after reads from the head. next is the id of the last
	// entry read and is empty once nothing follows after.
	Pending(ctx context.Context, after string, limit int64) (charges []PendingCharge, next string, err error)

	// Ack removes a replayed charge from the queue.
	Ack(ctx context.Context, id string) error
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CompletionRequest represents a unified LLM request.
type CompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	Temperature float64           `json:"temperature,omitempty"`
	MaxTokens   int64             `json:"max_tokens,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

// CompletionResponse represents a unified LLM response.
type CompletionResponse struct {
	ID         string    `json:"id"`
	Model      string    `json:"model"`
	Provider   string    `json:"provider"`
	Content    string    `json:"content"`
	Usage      Usage     `json:"usage"`
	FinishTime time.Time `json:"finish_time"`
}

// StreamChunk represents a single streaming response chunk.
// The chunk with Done set carries the token usage of the whole generation.
type StreamChunk struct {
	Delta string `json:"delta"`
	Done  bool   `json:"done"`
	Usage *Usage `json:"usage,omitempty"`
	Error error  `json:"-"`
}

// Usage tracks token consumption as reported by the provider.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// NewUsage builds a Usage with TotalTokens filled in.
func NewUsage(prompt, completion int64) Usage {
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// BillingStatus reports whether a completed generation was charged.
type BillingStatus string

const (
	// BillingCharged means the ledger record and the balance update committed.
	BillingCharged BillingStatus = "charged"

	// BillingDuplicate means a record for the message already existed and nothing was charged again.
	BillingDuplicate BillingStatus = "duplicate"

	// BillingPendingReconciliation means the generation succeeded but the charge did not commit.
	BillingPendingReconciliation BillingStatus = "pending_reconciliation"
)

// MeteredRequest is a completion request attributed to a user and a message.
type MeteredRequest struct {
	RequestID  string
	UserID     string
	MessageID  string
	Completion *CompletionRequest
}

// MeteredResponse is the outcome of an admitted, invoked and charged request.
type MeteredResponse struct {
	Response      *CompletionResponse
	RecordID      string
	Cost          decimal.Decimal
	NewSpend      decimal.Decimal
	BillingStatus BillingStatus
	State         RequestState
}

// MeteredChunk is a streamed delta. The final chunk carries the charge outcome.
type MeteredChunk struct {
	StreamChunk
	RecordID      string
	Cost          decimal.Decimal
	NewSpend      decimal.Decimal
	BillingStatus BillingStatus
}

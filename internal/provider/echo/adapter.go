// Package echo provides an offline provider that repeats the last user turn.
// Every whitespace-separated word counts as one token, so the full metering
// path runs without upstream credentials.
package echo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidbz/tally/internal/domain"
	"github.com/davidbz/tally/internal/observability"
)

const (
	providerName = "echo"
	modelName    = "echo4"
	wordDelay    = 10 * time.Millisecond
)

// Provider implements domain.Provider without network calls.
type Provider struct {
	delay time.Duration
}

// NewProvider creates the echo provider.
func NewProvider() *Provider {
	return &Provider{delay: wordDelay}
}

// reply is one echoed generation with its word-count usage.
type reply struct {
	words []string
	usage domain.Usage
}

func (p *Provider) prepare(req *domain.CompletionRequest) (*reply, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}
	if req.Model != modelName {
		return nil, fmt.Errorf("model %s is not supported by echo provider", req.Model)
	}

	var prompt int64
	var last string
	for _, msg := range req.Messages {
		prompt += int64(len(strings.Fields(msg.Content)))
		if msg.Role == "user" {
			last = msg.Content
		}
	}

	words := strings.Fields(last)
	if req.MaxTokens > 0 && int64(len(words)) > req.MaxTokens {
		words = words[:req.MaxTokens]
	}

	return &reply{
		words: words,
		usage: domain.NewUsage(prompt, int64(len(words))),
	}, nil
}

// Complete returns the echoed reply in one response.
func (p *Provider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	r, err := p.prepare(req)
	if err != nil {
		return nil, err
	}

	observability.FromContext(ctx).Debug("echo completed",
		observability.Int64("prompt_tokens", r.usage.PromptTokens),
		observability.Int64("completion_tokens", r.usage.CompletionTokens))

	return &domain.CompletionResponse{
		ID:         "echo-" + uuid.NewString(),
		Model:      req.Model,
		Provider:   providerName,
		Content:    strings.Join(r.words, " "),
		Usage:      r.usage,
		FinishTime: time.Now(),
	}, nil
}

// Stream emits the reply one word per chunk. The final chunk carries usage
// and is withheld when ctx ends first.
func (p *Provider) Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamChunk, error) {
	r, err := p.prepare(req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan domain.StreamChunk)
	send := func(chunk domain.StreamChunk) bool {
		if ctx.Err() != nil {
			return false
		}
		select {
		case chunks <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(chunks)

		for i, word := range r.words {
			if i > 0 {
				word = " " + word
			}
			if !send(domain.StreamChunk{Delta: word}) {
				return
			}
			time.Sleep(p.delay)
		}

		usage := r.usage
		send(domain.StreamChunk{Done: true, Usage: &usage})
	}()

	return chunks, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// IsModelSupported checks if the provider supports the given model.
func (p *Provider) IsModelSupported(_ context.Context, model string) bool {
	return model == modelName
}

// SupportedModels returns the single echo model.
func (p *Provider) SupportedModels(_ context.Context) []string {
	return []string{modelName}
}

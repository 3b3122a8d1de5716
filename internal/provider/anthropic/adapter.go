// Package anthropic adapts the Anthropic Messages API to domain.Provider.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/davidbz/tally/internal/domain"
	"github.com/davidbz/tally/internal/observability"
)

const providerName = "anthropic"

var supportedModels = []string{
	"claude-3-5-haiku-20241022",
	"claude-3-5-sonnet-latest",
}

// Provider implements the domain.Provider interface for Claude models.
type Provider struct {
	client    anthropic.Client
	maxTokens int64
	models    map[string]bool
}

// NewProvider creates a new Anthropic provider.
func NewProvider(config Config) (*Provider, error) {
	if config.APIKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
	}

	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(config.Timeout)*time.Second))
	}

	if config.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(config.MaxRetries))
	}

	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}

	models := make(map[string]bool, len(supportedModels))
	for _, model := range supportedModels {
		models[model] = true
	}

	return &Provider{
		client:    anthropic.NewClient(opts...),
		maxTokens: maxTokens,
		models:    models,
	}, nil
}

// Complete sends a message request and returns the full response.
func (p *Provider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling Anthropic API")

	msg, err := p.client.Messages.New(ctx, p.toSDKParams(req))
	if err != nil {
		logger.Error("Anthropic API call failed", observability.Error(err))
		return nil, fmt.Errorf("Anthropic API call failed: %w", err)
	}

	if !msg.JSON.Usage.Valid() {
		logger.Error("Anthropic response carried no usage")
		return nil, errors.New("Anthropic response carried no token usage")
	}

	logger.Debug("Anthropic API call succeeded",
		observability.Int64("input_tokens", msg.Usage.InputTokens),
		observability.Int64("output_tokens", msg.Usage.OutputTokens),
	)

	return &domain.CompletionResponse{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Provider:   providerName,
		Content:    textOf(msg.Content),
		Usage:      domain.NewUsage(msg.Usage.InputTokens, msg.Usage.OutputTokens),
		FinishTime: time.Now(),
	}, nil
}

// Stream sends a message request and returns a stream of chunks.
// Input tokens arrive on message_start and output tokens on message_delta;
// both are reported on the final chunk.
func (p *Provider) Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamChunk, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling Anthropic streaming API")

	stream := p.client.Messages.NewStreaming(ctx, p.toSDKParams(req))
	chunks := make(chan domain.StreamChunk)

	go func() {
		defer close(chunks)
		defer stream.Close()
		defer logger.Debug("Anthropic stream completed")

		send := func(chunk domain.StreamChunk) bool {
			select {
			case chunks <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		message := anthropic.Message{}
		var started, stopped bool
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				send(domain.StreamChunk{Error: fmt.Errorf("Anthropic stream error: %w", err)})
				return
			}

			switch ev := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				started = true
			case anthropic.MessageStopEvent:
				stopped = true
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					if !send(domain.StreamChunk{Delta: delta.Text}) {
						return
					}
				}
			}
		}

		if err := stream.Err(); err != nil {
			send(domain.StreamChunk{Error: fmt.Errorf("Anthropic stream error: %w", err)})
			return
		}

		final := domain.StreamChunk{Done: true}
		if started && stopped {
			usage := domain.NewUsage(message.Usage.InputTokens, message.Usage.OutputTokens)
			final.Usage = &usage
		}
		// Usage is already known, so the final chunk survives a cancelled ctx.
		chunks <- final
	}()

	return chunks, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// IsModelSupported checks if the provider supports the given model.
func (p *Provider) IsModelSupported(_ context.Context, model string) bool {
	return p.models[model]
}

// SupportedModels returns a list of all models this provider supports.
func (p *Provider) SupportedModels(_ context.Context) []string {
	return append([]string(nil), supportedModels...)
}

// toSDKParams converts a domain request to MessageNewParams. System messages
// become the system prompt; unknown roles are sent as user turns.
func (p *Provider) toSDKParams(req *domain.CompletionRequest) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  messages,
		System:    system,
	}

	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	return params
}

func textOf(blocks []anthropic.ContentBlockUnion) string {
	var builder strings.Builder
	for _, block := range blocks {
		if block.Type == "text" {
			builder.WriteString(block.Text)
		}
	}
	return builder.String()
}

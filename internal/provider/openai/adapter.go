// Package openai provides an adapter for OpenAI-compatible chat APIs using the
// official SDK. One Provider serves one endpoint: OpenAI itself, Groq or Gemini.
// It converts between domain and SDK types and reports token usage exactly as
// the upstream returns it; pricing lives in the domain pricing table.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/davidbz/tally/internal/domain"
	"github.com/davidbz/tally/internal/observability"
)

// Provider implements the domain.Provider interface for an OpenAI-compatible endpoint.
type Provider struct {
	client openai.Client
	name   string
	models map[string]bool
	list   []string
}

// NewProvider creates a provider for the OpenAI API.
func NewProvider(config Config) (*Provider, error) {
	return NewCompatibleProvider(OpenAIEndpoint, config)
}

// NewCompatibleProvider creates a provider for any OpenAI-compatible endpoint.
func NewCompatibleProvider(endpoint Endpoint, config Config) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", endpoint.Name)
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = endpoint.DefaultBaseURL
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithBaseURL(baseURL),
	}

	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(config.Timeout)*time.Second))
	}

	if config.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(config.MaxRetries))
	}

	return &Provider{
		client: openai.NewClient(opts...),
		name:   endpoint.Name,
		models: buildModelSet(endpoint.Models),
		list:   append([]string(nil), endpoint.Models...),
	}, nil
}

// Complete sends a completion request and returns the full response.
func (p *Provider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling chat completions API", observability.String("provider", p.name))

	resp, err := p.client.Chat.Completions.New(ctx, p.toSDKParams(req))
	if err != nil {
		logger.Error("chat completions call failed", observability.Error(err))
		return nil, fmt.Errorf("%s API call failed: %w", p.name, err)
	}

	if !resp.JSON.Usage.Valid() {
		logger.Error("chat completions response carried no usage")
		return nil, fmt.Errorf("%s response carried no token usage", p.name)
	}

	logger.Debug("chat completions call succeeded",
		observability.Int64("prompt_tokens", resp.Usage.PromptTokens),
		observability.Int64("completion_tokens", resp.Usage.CompletionTokens),
	)

	return p.toDomainResponse(resp), nil
}

// Stream sends a completion request and returns a stream of chunks.
// Usage is requested through stream_options and delivered on the final chunk.
func (p *Provider) Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamChunk, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling streaming chat completions API", observability.String("provider", p.name))

	params := p.toSDKParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	chunks := make(chan domain.StreamChunk)

	go func() {
		defer close(chunks)
		defer stream.Close()
		defer logger.Debug("stream completed", observability.String("provider", p.name))

		send := func(chunk domain.StreamChunk) bool {
			select {
			case chunks <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var usage *domain.Usage
		for stream.Next() {
			chunk := stream.Current()

			// The usage chunk arrives last, with no choices.
			if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
				u := domain.NewUsage(chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens)
				usage = &u
			}

			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(domain.StreamChunk{Delta: chunk.Choices[0].Delta.Content}) {
				return
			}
		}

		if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) {
			send(domain.StreamChunk{Error: fmt.Errorf("%s stream error: %w", p.name, err)})
			return
		}

		// Usage is already known, so the final chunk survives a cancelled ctx.
		chunks <- domain.StreamChunk{Done: true, Usage: usage}
	}()

	return chunks, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// IsModelSupported checks if the provider supports the given model.
func (p *Provider) IsModelSupported(_ context.Context, model string) bool {
	return p.models[model]
}

// SupportedModels returns a list of all models this provider supports.
func (p *Provider) SupportedModels(_ context.Context) []string {
	return append([]string(nil), p.list...)
}

// toSDKParams converts domain request to SDK ChatCompletionNewParams
func (p *Provider) toSDKParams(req *domain.CompletionRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, len(req.Messages))
	for i, msg := range req.Messages {
		switch msg.Role {
		case "user":
			messages[i] = openai.UserMessage(msg.Content)
		case "assistant":
			messages[i] = openai.AssistantMessage(msg.Content)
		case "system":
			messages[i] = openai.SystemMessage(msg.Content)
		default:
			// Fallback to user message if role is unknown
			messages[i] = openai.UserMessage(msg.Content)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}

	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxTokens)
	}

	return params
}

// toDomainResponse converts SDK response to domain response
func (p *Provider) toDomainResponse(resp *openai.ChatCompletion) *domain.CompletionResponse {
	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	return &domain.CompletionResponse{
		ID:         resp.ID,
		Model:      resp.Model,
		Provider:   p.name,
		Content:    content,
		Usage:      domain.NewUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		FinishTime: time.Now(),
	}
}

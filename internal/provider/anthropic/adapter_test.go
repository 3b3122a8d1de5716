package anthropic_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/tally/internal/domain"
	"github.com/davidbz/tally/internal/provider/anthropic"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *anthropic.Provider {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider, err := anthropic.NewProvider(anthropic.Config{
		APIKey:     "test-key",
		BaseURL:    server.URL + "/",
		Timeout:    5,
		MaxRetries: 1,
		MaxTokens:  128,
	})
	require.NoError(t, err)
	return provider
}

func writeEvents(w http.ResponseWriter, events [][2]string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, event := range events {
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event[0], event[1])
	}
}

func TestNewProvider(t *testing.T) {
	t.Run("should require an API key", func(t *testing.T) {
		provider, err := anthropic.NewProvider(anthropic.Config{})

		require.Error(t, err)
		require.Nil(t, provider)
		require.Contains(t, err.Error(), "API key is required")
	})

	t.Run("should serve the priced Claude models", func(t *testing.T) {
		ctx := context.Background()
		provider, err := anthropic.NewProvider(anthropic.Config{APIKey: "k"})
		require.NoError(t, err)

		require.Equal(t, "anthropic", provider.Name())
		require.True(t, provider.IsModelSupported(ctx, "claude-3-5-haiku-20241022"))
		require.False(t, provider.IsModelSupported(ctx, "gpt-4o"))

		table := domain.NewInMemoryPricingRegistry()
		require.NoError(t, anthropic.RegisterPricing(ctx, table))
		require.NoError(t, domain.ValidateCoverage(ctx, table, provider.SupportedModels(ctx)))
	})
}

func TestProvider_Complete(t *testing.T) {
	ctx := context.Background()

	t.Run("should split system prompt and report usage", func(t *testing.T) {
		provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/messages", r.URL.Path)
			assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.EqualValues(t, 128, body["max_tokens"])
			assert.Len(t, body["system"], 1)
			assert.Len(t, body["messages"], 1)

			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-20241022",
				"content":[{"type":"text","text":"hi there"}],"stop_reason":"end_turn","stop_sequence":null,
				"usage":{"input_tokens":10,"output_tokens":5}}`)
		})

		resp, err := provider.Complete(ctx, &domain.CompletionRequest{
			Model: "claude-3-5-haiku-20241022",
			Messages: []domain.Message{
				{Role: "system", Content: "be brief"},
				{Role: "user", Content: "hello"},
			},
		})

		require.NoError(t, err)
		require.Equal(t, "msg_1", resp.ID)
		require.Equal(t, "anthropic", resp.Provider)
		require.Equal(t, "hi there", resp.Content)
		require.Equal(t, domain.NewUsage(10, 5), resp.Usage)
	})

	t.Run("should fail when the response carries no usage", func(t *testing.T) {
		provider := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-20241022",
				"content":[{"type":"text","text":"hi there"}],"stop_reason":"end_turn","stop_sequence":null}`)
		})

		resp, err := provider.Complete(ctx, &domain.CompletionRequest{
			Model:    "claude-3-5-haiku-20241022",
			Messages: []domain.Message{{Role: "user", Content: "hello"}},
		})

		require.Error(t, err)
		require.Nil(t, resp)
		require.Contains(t, err.Error(), "no token usage")
	})

	t.Run("should wrap upstream errors", func(t *testing.T) {
		provider := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)
		})

		resp, err := provider.Complete(ctx, &domain.CompletionRequest{Model: "claude-3-5-sonnet-latest"})

		require.Error(t, err)
		require.Nil(t, resp)
	})

	t.Run("should reject nil request", func(t *testing.T) {
		provider, err := anthropic.NewProvider(anthropic.Config{APIKey: "k"})
		require.NoError(t, err)

		_, err = provider.Complete(ctx, nil)
		require.Error(t, err)
	})
}

func TestProvider_Stream(t *testing.T) {
	ctx := context.Background()

	t.Run("should combine input and output usage on the final chunk", func(t *testing.T) {
		provider := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
			writeEvents(w, [][2]string{
				{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-20241022","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":25,"output_tokens":1}}}`},
				{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
				{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`},
				{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`},
				{"content_block_stop", `{"type":"content_block_stop","index":0}`},
				{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":15}}`},
				{"message_stop", `{"type":"message_stop"}`},
			})
		})

		chunks, err := provider.Stream(ctx, &domain.CompletionRequest{
			Model:    "claude-3-5-haiku-20241022",
			Messages: []domain.Message{{Role: "user", Content: "hello"}},
		})
		require.NoError(t, err)

		var builder strings.Builder
		var last domain.StreamChunk
		for chunk := range chunks {
			require.NoError(t, chunk.Error)
			builder.WriteString(chunk.Delta)
			last = chunk
		}

		require.Equal(t, "Hello", builder.String())
		require.True(t, last.Done)
		require.NotNil(t, last.Usage)
		require.Equal(t, domain.NewUsage(25, 15), *last.Usage)
	})

	t.Run("should deliver usage after the caller cancels", func(t *testing.T) {
		served := make(chan struct{})
		provider := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
			defer close(served)
			writeEvents(w, [][2]string{
				{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-20241022","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":25,"output_tokens":1}}}`},
				{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":15}}`},
				{"message_stop", `{"type":"message_stop"}`},
			})
		})

		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		chunks, err := provider.Stream(streamCtx, &domain.CompletionRequest{Model: "claude-3-5-haiku-20241022"})
		require.NoError(t, err)

		<-served
		// Let the reader reach the final send before cancelling.
		time.Sleep(100 * time.Millisecond)
		cancel()

		select {
		case chunk, ok := <-chunks:
			require.True(t, ok)
			require.True(t, chunk.Done)
			require.NotNil(t, chunk.Usage)
			require.Equal(t, domain.NewUsage(25, 15), *chunk.Usage)
		case <-time.After(time.Second):
			require.Fail(t, "final chunk was not delivered")
		}
	})

	t.Run("should omit usage when the stream is cut short", func(t *testing.T) {
		provider := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
			writeEvents(w, [][2]string{
				{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-20241022","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":25,"output_tokens":1}}}`},
			})
		})

		chunks, err := provider.Stream(ctx, &domain.CompletionRequest{Model: "claude-3-5-haiku-20241022"})
		require.NoError(t, err)

		var last domain.StreamChunk
		for chunk := range chunks {
			last = chunk
		}

		require.True(t, last.Done)
		require.Nil(t, last.Usage)
	})
}

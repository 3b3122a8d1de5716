package registry_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/tally/internal/mocks"
	"github.com/davidbz/tally/internal/provider/registry"
)

func newProvider(t *testing.T, name string, models ...string) *mocks.MockProvider {
	t.Helper()

	provider := mocks.NewMockProvider(t)
	provider.EXPECT().Name().Return(name).Maybe()
	provider.EXPECT().SupportedModels(mock.Anything).Return(models).Maybe()
	return provider
}

func TestRegistry_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("should register provider and claim its models", func(t *testing.T) {
		reg := registry.NewRegistry()

		require.NoError(t, reg.Register(ctx, newProvider(t, "groq", "llama-3.1-8b-instant")))

		registered, err := reg.Get(ctx, "groq")
		require.NoError(t, err)
		require.Equal(t, "groq", registered.Name())
		require.Equal(t, []string{"llama-3.1-8b-instant"}, reg.Models(ctx))
	})

	t.Run("should return error when provider is nil", func(t *testing.T) {
		reg := registry.NewRegistry()

		err := reg.Register(ctx, nil)
		require.ErrorContains(t, err, "provider cannot be nil")
	})

	t.Run("should return error when provider name is empty", func(t *testing.T) {
		reg := registry.NewRegistry()

		err := reg.Register(ctx, newProvider(t, ""))
		require.ErrorContains(t, err, "provider name cannot be empty")
	})

	t.Run("should return error when provider already registered", func(t *testing.T) {
		reg := registry.NewRegistry()

		require.NoError(t, reg.Register(ctx, newProvider(t, "openai", "gpt-4o")))

		err := reg.Register(ctx, newProvider(t, "openai", "gpt-4o-mini"))
		require.ErrorContains(t, err, "already registered")
		require.Equal(t, []string{"gpt-4o"}, reg.Models(ctx))
	})

	t.Run("should reject a provider claiming a served model", func(t *testing.T) {
		reg := registry.NewRegistry()

		require.NoError(t, reg.Register(ctx, newProvider(t, "openai", "gpt-4o", "gpt-4o-mini")))

		err := reg.Register(ctx, newProvider(t, "azure", "o1-mini", "gpt-4o"))
		require.ErrorContains(t, err, "model gpt-4o already served by provider openai")

		_, err = reg.Get(ctx, "azure")
		require.Error(t, err)

		// A rejected provider claims none of its models.
		_, err = reg.GetByModel(ctx, "o1-mini")
		require.Error(t, err)
	})
}

func TestRegistry_Get(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(ctx, newProvider(t, "echo", "echo4")))

	tests := []struct {
		name    string
		lookup  string
		wantErr string
	}{
		{name: "registered", lookup: "echo"},
		{name: "empty name", lookup: "", wantErr: "provider name cannot be empty"},
		{name: "unknown", lookup: "nonexistent", wantErr: "not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := reg.Get(ctx, tt.lookup)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.lookup, provider.Name())
		})
	}
}

func TestRegistry_GetByModel(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(ctx, newProvider(t, "openai", "gpt-4o-mini", "o1-mini")))
	require.NoError(t, reg.Register(ctx, newProvider(t, "anthropic", "claude-3-5-haiku-20241022")))

	tests := []struct {
		model        string
		wantProvider string
		wantErr      string
	}{
		{model: "gpt-4o-mini", wantProvider: "openai"},
		{model: "o1-mini", wantProvider: "openai"},
		{model: "claude-3-5-haiku-20241022", wantProvider: "anthropic"},
		{model: "", wantErr: "model cannot be empty"},
		{model: "gpt-5", wantErr: "no provider serves model gpt-5"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("model=%q", tt.model), func(t *testing.T) {
			provider, err := reg.GetByModel(ctx, tt.model)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantProvider, provider.Name())
		})
	}
}

func TestRegistry_List(t *testing.T) {
	ctx := context.Background()

	t.Run("should return empty list when no providers registered", func(t *testing.T) {
		providers, err := registry.NewRegistry().List(ctx)
		require.NoError(t, err)
		require.NotNil(t, providers)
		require.Empty(t, providers)
	})

	t.Run("should list providers and models sorted", func(t *testing.T) {
		reg := registry.NewRegistry()
		require.NoError(t, reg.Register(ctx, newProvider(t, "openai", "gpt-4o", "gpt-4o-mini")))
		require.NoError(t, reg.Register(ctx, newProvider(t, "anthropic", "claude-3-5-sonnet-latest")))
		require.NoError(t, reg.Register(ctx, newProvider(t, "echo", "echo4")))

		providers, err := reg.List(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"anthropic", "echo", "openai"}, providers)
		require.Equal(t,
			[]string{"claude-3-5-sonnet-latest", "echo4", "gpt-4o", "gpt-4o-mini"},
			reg.Models(ctx))
	})
}

func TestRegistry_Concurrent(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewRegistry()

	var wg sync.WaitGroup
	for i := range 10 {
		provider := newProvider(t, fmt.Sprintf("provider-%d", i), fmt.Sprintf("model-%d", i))
		wg.Go(func() {
			_ = reg.Register(ctx, provider)
		})
	}
	wg.Wait()

	providers, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, providers, 10)
	require.Len(t, reg.Models(ctx), 10)
}

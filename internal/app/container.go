// Package app assembles the dependency graph shared by the server and the admin CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/davidbz/tally/internal/config"
	"github.com/davidbz/tally/internal/domain"
	"github.com/davidbz/tally/internal/observability"
	"github.com/davidbz/tally/internal/provider/anthropic"
	"github.com/davidbz/tally/internal/provider/echo"
	"github.com/davidbz/tally/internal/provider/openai"
	"github.com/davidbz/tally/internal/provider/registry"
	reconcileredis "github.com/davidbz/tally/internal/reconcile/redis"
	"github.com/davidbz/tally/internal/store/memory"
	"github.com/davidbz/tally/internal/store/postgres"
)

// Closers collects shutdown hooks registered by providers.
type Closers struct {
	mu  sync.Mutex
	fns []func()
}

// Add registers fn to run on Close.
func (c *Closers) Add(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, fn)
}

// Close runs the hooks in reverse order.
func (c *Closers) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.fns) - 1; i >= 0; i-- {
		c.fns[i]()
	}
	c.fns = nil
}

// BuildContainer provides configuration, observability, storage, pricing,
// providers and the metering services.
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	constructors := []struct {
		name string
		fn   any
	}{
		{name: "config", fn: config.Load},
		{name: "config dependencies", fn: config.ParseDependenciesConfig},
		{name: "closers", fn: func() *Closers { return &Closers{} }},

		// Observability
		{name: "logger", fn: func(cfg *config.TelemetryConfig) (*zap.Logger, error) {
			return observability.InitLogger(cfg.LogLevel)
		}},
		{name: "event bus", fn: func(logger *zap.Logger) domain.EventPublisher {
			return observability.NewEventBus(logger)
		}},
		{name: "metrics registry", fn: NewMetricsRegistry},
		{name: "metrics gatherer", fn: func(reg *prometheus.Registry) prometheus.Gatherer { return reg }},
		{name: "metrics", fn: func(reg *prometheus.Registry) (*observability.Metrics, error) {
			return observability.NewMetrics(reg)
		}},

		// Storage
		{name: "metering store", fn: NewMeteringStore},
		{name: "reconciliation queue", fn: NewReconciliationQueue},

		// Pricing and providers
		{name: "pricing table", fn: NewPricingTable},
		{name: "provider registry", fn: NewProviderRegistry},
		{name: "provider registry interface", fn: func(r *registry.Registry) domain.ProviderRegistry { return r }},

		// Domain services
		{name: "cost calculator", fn: domain.NewCostCalculator},
		{name: "ledger", fn: domain.NewLedger},
		{name: "accumulator", fn: domain.NewAccumulator},
		{name: "usage reporter", fn: domain.NewUsageReporter},
		{name: "admission controller", fn: domain.NewAdmissionController},
	}

	for _, c := range constructors {
		if err := container.Provide(c.fn); err != nil {
			return nil, fmt.Errorf("failed to provide %s: %w", c.name, err)
		}
	}

	return container, nil
}

// NewMetricsRegistry creates the Prometheus registry with runtime collectors.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewMeteringStore opens the configured store. PostgreSQL is migrated on open.
func NewMeteringStore(cfg *config.DatabaseConfig, closers *Closers) (domain.MeteringStore, error) {
	ctx := context.Background()
	logger := observability.FromContext(ctx)

	switch cfg.Driver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory metering store; balances are lost on restart")
		return memory.NewMeteringStore(), nil

	case config.StoreDriverPostgres:
		client, err := postgres.New(ctx, cfg.URL, postgres.PoolOptions{
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
		if err != nil {
			return nil, err
		}
		closers.Add(client.Close)

		if err := client.RunMigrations(ctx); err != nil {
			return nil, err
		}
		return postgres.NewMeteringStore(client), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// NewReconciliationQueue connects the Redis stream. Without REDIS_ADDR failed
// charges are only logged.
func NewReconciliationQueue(cfg *config.RedisConfig, closers *Closers) (domain.ReconciliationQueue, error) {
	ctx := context.Background()

	if cfg.Addr == "" {
		observability.FromContext(ctx).Warn("reconciliation queue disabled; failed charges are only logged")
		return nil, nil
	}

	client, err := reconcileredis.NewClient(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, err
	}
	closers.Add(func() { _ = client.Close() })

	return reconcileredis.NewQueue(client, cfg.Stream)
}

// NewPricingTable loads the built-in prices and applies the override file.
func NewPricingTable(cfg *config.MeteringConfig) (domain.PricingTable, error) {
	ctx := context.Background()
	table := domain.NewInMemoryPricingRegistry()

	registrations := []func(context.Context, domain.PricingTable) error{
		openai.RegisterPricing,
		anthropic.RegisterPricing,
		echo.RegisterPricing,
	}
	for _, register := range registrations {
		if err := register(ctx, table); err != nil {
			return nil, err
		}
	}

	if cfg.PricingFile != "" {
		entries, err := config.LoadPricingFile(cfg.PricingFile)
		if err != nil {
			return nil, err
		}
		if err := config.ApplyPricing(ctx, table, entries); err != nil {
			return nil, err
		}
		observability.FromContext(ctx).Info("applied pricing overrides",
			observability.String("file", cfg.PricingFile),
			observability.Int("models", len(entries)))
	}

	return table, nil
}

// errProviderNotConfigured marks a provider without credentials; it is skipped.
var errProviderNotConfigured = errors.New("provider not configured")

// NewProviderRegistry registers every configured provider and checks that
// each served model has a price.
func NewProviderRegistry(cfg *config.Config, pricing domain.PricingTable) (*registry.Registry, error) {
	ctx := context.Background()
	logger := observability.FromContext(ctx)
	reg := registry.NewRegistry()

	builders := []struct {
		name  string
		build func() (domain.Provider, error)
	}{
		{name: "openai", build: func() (domain.Provider, error) {
			return compatible(openai.OpenAIEndpoint, cfg.OpenAI)
		}},
		{name: "groq", build: func() (domain.Provider, error) {
			return compatible(openai.GroqEndpoint, cfg.Groq)
		}},
		{name: "gemini", build: func() (domain.Provider, error) {
			return compatible(openai.GeminiEndpoint, cfg.Gemini)
		}},
		{name: "anthropic", build: func() (domain.Provider, error) {
			if cfg.Anthropic.APIKey == "" {
				return nil, errProviderNotConfigured
			}
			return anthropic.NewProvider(cfg.Anthropic)
		}},
		{name: "echo", build: func() (domain.Provider, error) {
			if !cfg.Echo.Enabled {
				return nil, errProviderNotConfigured
			}
			return echo.NewProvider(), nil
		}},
	}

	for _, b := range builders {
		provider, err := b.build()
		if errors.Is(err, errProviderNotConfigured) {
			logger.Info("provider not configured", observability.String("provider", b.name))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create %s provider: %w", b.name, err)
		}

		if err := reg.Register(ctx, provider); err != nil {
			return nil, fmt.Errorf("failed to register %s provider: %w", b.name, err)
		}
		logger.Info("provider registered", observability.String("provider", b.name))
	}

	// Fail fast: a selectable model without a price would fail every request.
	if err := domain.ValidateCoverage(ctx, pricing, reg.Models(ctx)); err != nil {
		return nil, err
	}

	return reg, nil
}

func compatible(endpoint openai.Endpoint, cfg openai.Config) (domain.Provider, error) {
	if cfg.APIKey == "" {
		return nil, errProviderNotConfigured
	}
	return openai.NewCompatibleProvider(endpoint, cfg)
}

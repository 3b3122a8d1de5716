package domain_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/tally/internal/domain"
	"github.com/davidbz/tally/internal/provider/registry"
	"github.com/davidbz/tally/internal/store/memory"
)

const testModel = "test-model"

func money(s string) decimal.Decimal {
	return domain.MustParseMoney(s)
}

// fakeProvider is a func-field implementation of domain.Provider.
type fakeProvider struct {
	name         string
	models       []string
	calls        atomic.Int32
	completeFunc func(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error)
	streamFunc   func(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamChunk, error)
}

func (p *fakeProvider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	p.calls.Add(1)
	if p.completeFunc != nil {
		return p.completeFunc(ctx, req)
	}
	return &domain.CompletionResponse{
		ID:         "resp-1",
		Model:      req.Model,
		Provider:   p.name,
		Content:    "hello back",
		Usage:      domain.NewUsage(1000, 500),
		FinishTime: time.Now(),
	}, nil
}

func (p *fakeProvider) Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamChunk, error) {
	p.calls.Add(1)
	if p.streamFunc != nil {
		return p.streamFunc(ctx, req)
	}
	usage := domain.NewUsage(1000, 500)
	chunks := make(chan domain.StreamChunk, 3)
	chunks <- domain.StreamChunk{Delta: "hello "}
	chunks <- domain.StreamChunk{Delta: "back"}
	chunks <- domain.StreamChunk{Done: true, Usage: &usage}
	close(chunks)
	return chunks, nil
}

func (p *fakeProvider) Name() string {
	return p.name
}

func (p *fakeProvider) IsModelSupported(_ context.Context, model string) bool {
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

func (p *fakeProvider) SupportedModels(_ context.Context) []string {
	return p.models
}

// faultyStore fails the nth transaction and delegates everything else.
type faultyStore struct {
	domain.MeteringStore
	calls    atomic.Int32
	failCall int32
}

func (s *faultyStore) RunInTx(ctx context.Context, fn func(tx domain.MeteringTx) error) error {
	if s.calls.Add(1) == s.failCall {
		return errors.New("connection refused")
	}
	return s.MeteringStore.RunInTx(ctx, fn)
}

type fixture struct {
	store       *memory.MeteringStore
	pricing     *domain.InMemoryPricingRegistry
	calculator  *domain.CostCalculator
	ledger      *domain.Ledger
	accumulator *domain.Accumulator
	registry    *registry.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	pricing := domain.NewInMemoryPricingRegistry()
	require.NoError(t, pricing.Register(ctx, domain.PriceEntry{
		ModelID:        testModel,
		InputUnitCost:  money("0.0000015"),
		OutputUnitCost: money("0.000002"),
	}))

	store := memory.NewMeteringStore()
	return &fixture{
		store:       store,
		pricing:     pricing,
		calculator:  domain.NewCostCalculator(pricing),
		ledger:      domain.NewLedger(store),
		accumulator: domain.NewAccumulator(store),
		registry:    registry.NewRegistry(),
	}
}

func (f *fixture) addProvider(t *testing.T, provider domain.Provider) {
	t.Helper()
	require.NoError(t, f.registry.Register(context.Background(), provider))
}

func (f *fixture) openAccount(t *testing.T, userID, ceiling string) {
	t.Helper()
	_, err := f.accumulator.CreateAccount(context.Background(), userID, money(ceiling))
	require.NoError(t, err)
}

func (f *fixture) controller(store domain.MeteringStore, queue domain.ReconciliationQueue) *domain.AdmissionController {
	return domain.NewAdmissionController(
		f.registry, f.calculator, store, queue, nil, nil, domain.DefaultAdmissionOptions())
}

func (f *fixture) held(t *testing.T, userID string) decimal.Decimal {
	t.Helper()

	var held decimal.Decimal
	err := f.store.RunInTx(context.Background(), func(tx domain.MeteringTx) error {
		var err error
		held, err = tx.HeldAmount(context.Background(), userID, time.Now())
		return err
	})
	require.NoError(t, err)
	return held
}

func chatRequest(userID, messageID string, maxTokens int64) *domain.MeteredRequest {
	return &domain.MeteredRequest{
		UserID:    userID,
		MessageID: messageID,
		Completion: &domain.CompletionRequest{
			Model:     testModel,
			Messages:  []domain.Message{{Role: "user", Content: "hello"}},
			MaxTokens: maxTokens,
		},
	}
}

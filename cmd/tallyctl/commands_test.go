package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/dig"

	"github.com/davidbz/tally/internal/app"
	"github.com/davidbz/tally/internal/domain"
	"github.com/davidbz/tally/internal/mocks"
)

func newTestContainer(t *testing.T) *dig.Container {
	t.Helper()
	os.Clearenv()
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ECHO_PROVIDER_ENABLED", "true")

	container, err := app.BuildContainer()
	require.NoError(t, err)
	return container
}

func execute(t *testing.T, container *dig.Container, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd(func() (*dig.Container, error) { return container, nil })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestAccountCommands(t *testing.T) {
	container := newTestContainer(t)

	out, err := execute(t, container, "account", "create", "user-1", "--ceiling", "2.5")
	require.NoError(t, err)

	var created accountView
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.Equal(t, "user-1", created.UserID)
	require.Equal(t, "2.50000000000000000000", created.SpendCeiling)
	require.Equal(t, "0.00000000000000000000", created.CumulativeSpend)
	require.True(t, created.UnderCeiling)

	_, err = execute(t, container, "account", "create", "user-1")
	require.ErrorIs(t, err, domain.ErrAccountExists)

	_, err = execute(t, container, "account", "create", "user-2", "--ceiling", "ten")
	require.ErrorContains(t, err, "invalid ceiling")

	out, err = execute(t, container, "account", "ceiling", "user-1", "0")
	require.NoError(t, err)

	var updated accountView
	require.NoError(t, json.Unmarshal([]byte(out), &updated))
	require.False(t, updated.UnderCeiling)
	require.Equal(t, "0.00000000000000000000", updated.Remaining)

	out, err = execute(t, container, "balance", "get", "user-1")
	require.NoError(t, err)
	require.Contains(t, out, `"spend_ceiling": "0.00000000000000000000"`)

	_, err = execute(t, container, "balance", "get", "missing")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestUsageAndVerifyCommands(t *testing.T) {
	container := newTestContainer(t)

	_, err := execute(t, container, "account", "create", "user-1", "--ceiling", "1")
	require.NoError(t, err)

	err = container.Invoke(func(controller *domain.AdmissionController) {
		_, err := controller.AdmitAndInvoke(context.Background(), &domain.MeteredRequest{
			UserID:    "user-1",
			MessageID: "msg-1",
			Completion: &domain.CompletionRequest{
				Model:    "echo4",
				Messages: []domain.Message{{Role: "user", Content: "hello"}},
			},
		})
		require.NoError(t, err)
	})
	require.NoError(t, err)

	out, err := execute(t, container, "usage", "summary", "user-1")
	require.NoError(t, err)

	var summary domain.UsageSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	require.Len(t, summary.ModelBreakdown, 1)
	require.Equal(t, "echo4", summary.ModelBreakdown[0].Model)
	require.Equal(t, int64(1), summary.ModelBreakdown[0].Requests)

	_, err = execute(t, container, "usage", "summary", "user-1", "--from", "2026-02-01", "--to", "2026-01-01")
	require.ErrorContains(t, err, "--from must be before --to")

	_, err = execute(t, container, "usage", "summary", "user-1", "--from", "yesterday")
	require.ErrorContains(t, err, "invalid --from")

	out, err = execute(t, container, "verify", "user-1")
	require.NoError(t, err)

	var reports []domain.IntegrityReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	require.True(t, reports[0].Consistent)
	require.Equal(t, int64(1), reports[0].Records)
}

func TestReconcileCommand(t *testing.T) {
	t.Run("should fail without a queue", func(t *testing.T) {
		container := newTestContainer(t)

		_, err := execute(t, container, "reconcile")
		require.ErrorIs(t, err, errQueueDisabled)
	})

	t.Run("should replay and ack pending charges", func(t *testing.T) {
		container := newTestContainer(t)
		queue := mocks.NewMockReconciliationQueue(t)
		require.NoError(t, container.Decorate(func(domain.ReconciliationQueue) domain.ReconciliationQueue {
			return queue
		}))

		_, err := execute(t, container, "account", "create", "user-1", "--ceiling", "1")
		require.NoError(t, err)

		record := domain.UsageRecord{
			UserID:       "user-1",
			MessageID:    "msg-1",
			ModelID:      "gpt-4o-mini",
			InputTokens:  1000,
			OutputTokens: 500,
			Cost:         domain.MustParseMoney("0.00045"),
		}
		queue.EXPECT().Pending(mock.Anything, "", int64(10)).Return([]domain.PendingCharge{
			{ID: "1-0", Record: record, Reason: "ledger write failed"},
			{ID: "2-0", Record: record, Reason: "ledger write failed"},
			{ID: "3-0", Record: domain.UsageRecord{UserID: "ghost", MessageID: "msg-2", ModelID: "gpt-4o-mini"}},
		}, "3-0", nil).Once()
		queue.EXPECT().Pending(mock.Anything, "3-0", int64(10)).Return(nil, "", nil).Once()
		queue.EXPECT().Ack(mock.Anything, "1-0").Return(nil).Once()
		queue.EXPECT().Ack(mock.Anything, "2-0").Return(nil).Once()

		out, err := execute(t, container, "reconcile", "--limit", "10")
		require.ErrorContains(t, err, "1 charge(s) could not be replayed")

		var result reconcileResult
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		require.Equal(t, reconcileResult{Replayed: 1, Duplicates: 1, Failed: 1}, result)

		out, err = execute(t, container, "balance", "get", "user-1")
		require.NoError(t, err)
		require.Contains(t, out, `"cumulative_spend": "0.00045000000000000000"`)
	})

	t.Run("should replay charges queued behind a failed one", func(t *testing.T) {
		container := newTestContainer(t)
		queue := mocks.NewMockReconciliationQueue(t)
		require.NoError(t, container.Decorate(func(domain.ReconciliationQueue) domain.ReconciliationQueue {
			return queue
		}))

		_, err := execute(t, container, "account", "create", "user-1", "--ceiling", "1")
		require.NoError(t, err)

		stuck := domain.PendingCharge{ID: "1-0", Record: domain.UsageRecord{UserID: "ghost", MessageID: "msg-1", ModelID: "gpt-4o-mini"}}
		behind := domain.PendingCharge{ID: "2-0", Record: domain.UsageRecord{
			UserID:    "user-1",
			MessageID: "msg-2",
			ModelID:   "gpt-4o-mini",
			Cost:      domain.MustParseMoney("0.001"),
		}}
		queue.EXPECT().Pending(mock.Anything, "", int64(1)).Return([]domain.PendingCharge{stuck}, "1-0", nil).Once()
		queue.EXPECT().Pending(mock.Anything, "1-0", int64(1)).Return([]domain.PendingCharge{behind}, "2-0", nil).Once()
		queue.EXPECT().Pending(mock.Anything, "2-0", int64(1)).Return(nil, "", nil).Once()
		queue.EXPECT().Ack(mock.Anything, "2-0").Return(nil).Once()

		out, err := execute(t, container, "reconcile", "--limit", "1")
		require.ErrorContains(t, err, "1 charge(s) could not be replayed")

		var result reconcileResult
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		require.Equal(t, reconcileResult{Replayed: 1, Failed: 1}, result)

		out, err = execute(t, container, "balance", "get", "user-1")
		require.NoError(t, err)
		require.Contains(t, out, `"cumulative_spend": "0.00100000000000000000"`)
	})

	t.Run("should reject a non-positive batch size", func(t *testing.T) {
		container := newTestContainer(t)

		_, err := execute(t, container, "reconcile", "--limit", "0")
		require.ErrorContains(t, err, "--limit must be positive")
	})
}

func TestReservationsPurgeCommand(t *testing.T) {
	container := newTestContainer(t)

	out, err := execute(t, container, "reservations", "purge", "--older-than", "1h")
	require.NoError(t, err)
	require.JSONEq(t, `{"purged": 0}`, out)
}

func TestPricingListCommand(t *testing.T) {
	container := newTestContainer(t)

	out, err := execute(t, container, "pricing", "list")
	require.NoError(t, err)

	var prices []priceView
	require.NoError(t, json.Unmarshal([]byte(out), &prices))
	require.NotEmpty(t, prices)

	byModel := make(map[string]priceView, len(prices))
	for _, p := range prices {
		byModel[p.Model] = p
	}
	require.Equal(t, "0.00000015000000000000", byModel["gpt-4o-mini"].Input)
	require.Equal(t, "0.00000060000000000000", byModel["gpt-4o-mini"].Output)
	require.Equal(t, "0.00000000000000000000", byModel["echo4"].Input)
}

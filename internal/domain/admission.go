package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/davidbz/tally/internal/observability"
)

const tracerName = "github.com/davidbz/tally/internal/domain"

// RequestState is the position of a request in the admission state machine.
type RequestState int

const (
	StateReceived RequestState = iota
	StateAdmitted
	StateInvoked
	StateCharged
	StateComplete
	StateRejected
	StateFailed
)

func (s RequestState) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateAdmitted:
		return "ADMITTED"
	case StateInvoked:
		return "INVOKED"
	case StateCharged:
		return "CHARGED"
	case StateComplete:
		return "COMPLETE"
	case StateRejected:
		return "REJECTED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("RequestState(%d)", int(s))
	}
}

// AdmissionOptions tunes reservations and the charge step.
type AdmissionOptions struct {
	// ReservationTTL bounds how long an in-flight estimate counts against a balance.
	ReservationTTL time.Duration

	// DefaultOutputTokens is used for the estimate when a request sets no max_tokens.
	DefaultOutputTokens int64

	// ChargeTimeout bounds the charge transaction, which ignores client cancellation.
	ChargeTimeout time.Duration

	// AutoCreateAccounts opens a balance with DefaultCeiling for unknown users.
	AutoCreateAccounts bool
	DefaultCeiling     decimal.Decimal
}

// DefaultAdmissionOptions returns the options used when none are configured.
func DefaultAdmissionOptions() AdmissionOptions {
	return AdmissionOptions{
		ReservationTTL:      10 * time.Minute,
		DefaultOutputTokens: 1000,
		ChargeTimeout:       10 * time.Second,
		AutoCreateAccounts:  false,
		DefaultCeiling:      decimal.Zero,
	}
}

// AdmissionController gates model invocations on the spend ceiling and
// charges completed ones.
type AdmissionController struct {
	registry   ProviderRegistry
	calculator *CostCalculator
	store      MeteringStore
	queue      ReconciliationQueue
	events     EventPublisher
	metrics    *observability.Metrics
	opts       AdmissionOptions
	tracer     trace.Tracer
	now        func() time.Time
}

// NewAdmissionController creates a new admission controller (DI constructor).
// queue, events and metrics may be nil.
func NewAdmissionController(
	registry ProviderRegistry,
	calculator *CostCalculator,
	store MeteringStore,
	queue ReconciliationQueue,
	events EventPublisher,
	metrics *observability.Metrics,
	opts AdmissionOptions,
) *AdmissionController {
	return &AdmissionController{
		registry:   registry,
		calculator: calculator,
		store:      store,
		queue:      queue,
		events:     events,
		metrics:    metrics,
		opts:       opts,
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}
}

// admitted is what survives admission.
type admitted struct {
	provider      Provider
	reservationID string
}

// AdmitAndInvoke admits a request, invokes the provider and charges the result.
// A charge failure after a successful generation does not fail the request:
// the content is returned with BillingPendingReconciliation.
func (c *AdmissionController) AdmitAndInvoke(ctx context.Context, req *MeteredRequest) (*MeteredResponse, error) {
	ctx, err := c.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	adm, err := c.admit(ctx, req)
	if err != nil {
		return nil, err
	}

	response, err := c.invoke(ctx, req, adm)
	if err != nil {
		return nil, err
	}

	usage := response.Usage
	result := c.charge(ctx, req, adm, usage)
	result.Response = response

	c.transition(ctx, StateCharged, StateComplete)
	result.State = StateComplete

	return result, nil
}

// AdmitAndStream admits a request and streams the provider output.
// The returned channel ends with a chunk whose Done is set and which carries the
// charge outcome. Charging is driven by the provider's final chunk and still runs
// when ctx is cancelled after the provider reported usage.
func (c *AdmissionController) AdmitAndStream(ctx context.Context, req *MeteredRequest) (<-chan MeteredChunk, error) {
	ctx, err := c.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	adm, err := c.admit(ctx, req)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "metering.invoke", trace.WithAttributes(
		attribute.String("provider", adm.provider.Name()),
		attribute.String("model", req.Completion.Model),
		attribute.Bool("stream", true),
	))

	chunks, err := adm.provider.Stream(ctx, req.Completion)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream failed")
		span.End()
		return nil, c.failInvocation(ctx, req, adm, err)
	}
	c.transition(ctx, StateAdmitted, StateInvoked)

	out := make(chan MeteredChunk)
	go func() {
		defer close(out)
		defer span.End()

		c.forward(ctx, req, adm, chunks, out)
	}()

	return out, nil
}

func (c *AdmissionController) forward(
	ctx context.Context,
	req *MeteredRequest,
	adm *admitted,
	chunks <-chan StreamChunk,
	out chan<- MeteredChunk,
) {
	// Unblock a provider still writing after an early return.
	defer func() {
		go func() {
			for range chunks {
			}
		}()
	}()

	send := func(chunk MeteredChunk) {
		select {
		case out <- chunk:
		case <-ctx.Done():
		}
	}

	for chunk := range chunks {
		if chunk.Error != nil {
			err := c.failInvocation(ctx, req, adm, chunk.Error)
			send(MeteredChunk{StreamChunk: StreamChunk{Done: true, Error: err}})
			return
		}

		if !chunk.Done {
			send(MeteredChunk{StreamChunk: chunk})
			continue
		}

		if chunk.Usage == nil {
			err := c.failInvocation(ctx, req, adm, errors.New("stream ended without token usage"))
			send(MeteredChunk{StreamChunk: StreamChunk{Done: true, Error: err}})
			return
		}

		if err := validateUsage(req.Completion, *chunk.Usage); err != nil {
			err = c.failInvocation(ctx, req, adm, err)
			send(MeteredChunk{StreamChunk: StreamChunk{Done: true, Error: err}})
			return
		}

		result := c.charge(ctx, req, adm, *chunk.Usage)
		c.transition(ctx, StateCharged, StateComplete)

		send(MeteredChunk{
			StreamChunk:   chunk,
			RecordID:      result.RecordID,
			Cost:          result.Cost,
			NewSpend:      result.NewSpend,
			BillingStatus: result.BillingStatus,
		})
		return
	}

	// The provider closed the stream without a final chunk, usually because ctx
	// was cancelled before usage was reported. Nothing was charged.
	err := c.failInvocation(ctx, req, adm, errors.New("stream closed before completion"))
	send(MeteredChunk{StreamChunk: StreamChunk{Done: true, Error: err}})
}

// prepare validates the request and decorates the context used for logging.
func (c *AdmissionController) prepare(ctx context.Context, req *MeteredRequest) (context.Context, error) {
	if req == nil || req.Completion == nil {
		return ctx, fmt.Errorf("%w: request cannot be nil", ErrInvalidRequest)
	}

	if req.UserID == "" {
		return ctx, fmt.Errorf("%w: user id cannot be empty", ErrInvalidRequest)
	}

	if req.Completion.Model == "" {
		return ctx, fmt.Errorf("%w: model cannot be empty", ErrInvalidRequest)
	}

	if len(req.Completion.Messages) == 0 {
		return ctx, fmt.Errorf("%w: messages cannot be empty", ErrInvalidRequest)
	}

	if req.Completion.MaxTokens < 0 {
		return ctx, fmt.Errorf("%w: max_tokens=%d", ErrInvalidTokenCount, req.Completion.MaxTokens)
	}

	if req.RequestID == "" {
		req.RequestID = observability.GetRequestID(ctx)
		if req.RequestID == "" {
			req.RequestID = observability.GenerateRequestID()
			ctx = observability.WithRequestID(ctx, req.RequestID)
		}
	}

	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}

	ctx = observability.WithUserID(ctx, req.UserID)
	ctx = observability.WithMessageID(ctx, req.MessageID)
	ctx = observability.WithModel(ctx, req.Completion.Model)

	observability.FromContext(ctx).Info("request state",
		observability.String("state", StateReceived.String()))

	return ctx, nil
}

// admit moves a request from RECEIVED to ADMITTED or REJECTED.
func (c *AdmissionController) admit(ctx context.Context, req *MeteredRequest) (*admitted, error) {
	ctx, span := c.tracer.Start(ctx, "metering.admit", trace.WithAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("model", req.Completion.Model),
	))
	defer span.End()

	reject := func(outcome string, err error) (*admitted, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		c.metrics.ObserveAdmission(outcome)
		c.transition(ctx, StateReceived, StateRejected, observability.Error(err))
		return nil, err
	}

	maxTokens := req.Completion.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.opts.DefaultOutputTokens
	}

	estimate, err := c.calculator.EstimateCost(ctx, req.Completion.Model, req.Completion.Messages, maxTokens)
	if err != nil {
		if errors.Is(err, ErrPricingNotFound) {
			observability.FromContext(ctx).Error("model has no price entry", observability.Error(err))
			return reject("pricing_not_found", err)
		}
		return reject("invalid", err)
	}

	provider, err := c.registry.GetByModel(ctx, req.Completion.Model)
	if err != nil {
		return reject("unsupported_model", fmt.Errorf("%w: %w", ErrUnsupportedModel, err))
	}

	reservationID := uuid.NewString()
	err = c.ensureAccount(ctx, req.UserID)
	if err == nil {
		err = c.store.RunInTx(ctx, func(tx MeteringTx) error {
			return c.reserve(ctx, tx, req, reservationID, estimate)
		})
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrQuotaExceeded):
		return reject("quota_exceeded", err)
	case errors.Is(err, ErrDuplicateMessage):
		return reject("duplicate_message", err)
	case errors.Is(err, ErrAccountNotFound):
		return reject("account_not_found", err)
	default:
		// Fail closed: an unreadable balance never admits unmetered usage.
		observability.FromContext(ctx).Error("balance store unavailable during admission", observability.Error(err))
		return reject("balance_unavailable", fmt.Errorf("%w: %w", ErrBalanceUnavailable, err))
	}

	c.metrics.ObserveAdmission("admitted")
	c.transition(ctx, StateReceived, StateAdmitted,
		observability.String("reservation_id", reservationID),
		observability.Decimal("estimate", estimate))

	return &admitted{
		provider:      provider,
		reservationID: reservationID,
	}, nil
}

// reserve holds estimate against the balance unless the ceiling is already reached
// or the user already sent the message id. Spend plus active reservations must
// stay strictly below the ceiling.
func (c *AdmissionController) reserve(
	ctx context.Context,
	tx MeteringTx,
	req *MeteredRequest,
	reservationID string,
	estimate decimal.Decimal,
) error {
	userID := req.UserID
	balance, err := tx.LockBalance(ctx, userID)
	if err != nil {
		return err
	}

	now := c.now()
	seen, err := tx.MessageSeen(ctx, userID, req.MessageID, now)
	if err != nil {
		return err
	}
	if seen {
		return fmt.Errorf("%w: %s", ErrDuplicateMessage, req.MessageID)
	}

	held, err := tx.HeldAmount(ctx, userID, now)
	if err != nil {
		return err
	}

	committed := balance.CumulativeSpend.Add(held)
	if !committed.LessThan(balance.SpendCeiling) {
		return fmt.Errorf("%w: spend %s with %s in flight, ceiling %s",
			ErrQuotaExceeded, balance.CumulativeSpend, held, balance.SpendCeiling)
	}

	return tx.PutReservation(ctx, Reservation{
		ID:        reservationID,
		UserID:    userID,
		MessageID: req.MessageID,
		Amount:    estimate,
		ExpiresAt: now.Add(c.opts.ReservationTTL),
	})
}

// ensureAccount opens a balance for an unknown user when auto-provisioning is on.
func (c *AdmissionController) ensureAccount(ctx context.Context, userID string) error {
	if !c.opts.AutoCreateAccounts {
		return nil
	}

	_, err := c.store.GetBalance(ctx, userID)
	if err == nil || !errors.Is(err, ErrAccountNotFound) {
		return err
	}

	// A concurrent first request may have created it already.
	if _, err := c.store.CreateBalance(ctx, userID, c.opts.DefaultCeiling); err != nil && !errors.Is(err, ErrAccountExists) {
		return err
	}

	observability.FromContext(ctx).Info("account provisioned",
		observability.Decimal("spend_ceiling", c.opts.DefaultCeiling))

	return nil
}

// invoke moves a request from ADMITTED to INVOKED.
func (c *AdmissionController) invoke(ctx context.Context, req *MeteredRequest, adm *admitted) (*CompletionResponse, error) {
	ctx, span := c.tracer.Start(ctx, "metering.invoke", trace.WithAttributes(
		attribute.String("provider", adm.provider.Name()),
		attribute.String("model", req.Completion.Model),
	))
	defer span.End()

	response, err := adm.provider.Complete(ctx, req.Completion)
	if err == nil && response == nil {
		err = errors.New("provider returned no response")
	}
	if err == nil {
		err = validateUsage(req.Completion, response.Usage)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invocation failed")
		return nil, c.failInvocation(ctx, req, adm, err)
	}

	c.transition(ctx, StateAdmitted, StateInvoked)
	return response, nil
}

// failInvocation releases the reservation and wraps err as a ProviderError.
// Nothing is charged for a failed generation.
func (c *AdmissionController) failInvocation(ctx context.Context, req *MeteredRequest, adm *admitted, err error) error {
	c.release(ctx, adm.reservationID)

	providerErr := &ProviderError{
		Provider: adm.provider.Name(),
		Model:    req.Completion.Model,
		Err:      err,
	}

	c.transition(ctx, StateAdmitted, StateFailed, observability.Error(err))
	c.publish(ctx, "usage.provider_failed", map[string]interface{}{
		"provider": providerErr.Provider,
		"model":    providerErr.Model,
	})

	return providerErr
}

func (c *AdmissionController) release(ctx context.Context, reservationID string) {
	ctx, cancel := c.detached(ctx)
	defer cancel()

	err := c.store.RunInTx(ctx, func(tx MeteringTx) error {
		return tx.DeleteReservation(ctx, reservationID)
	})
	if err != nil {
		// The reservation expires on its own after ReservationTTL.
		observability.FromContext(ctx).Warn("failed to release reservation",
			observability.String("reservation_id", reservationID),
			observability.Error(err))
	}
}

// charge moves a request from INVOKED to CHARGED. It never returns an error:
// a failed charge is queued for reconciliation and reported in BillingStatus.
func (c *AdmissionController) charge(ctx context.Context, req *MeteredRequest, adm *admitted, usage Usage) *MeteredResponse {
	ctx, cancel := c.detached(ctx)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "metering.charge", trace.WithAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("message_id", req.MessageID),
		attribute.Int64("input_tokens", usage.PromptTokens),
		attribute.Int64("output_tokens", usage.CompletionTokens),
	))
	defer span.End()

	started := c.now()
	result := &MeteredResponse{
		BillingStatus: BillingCharged,
		State:         StateCharged,
	}

	// The requested model id is charged: providers may echo a dated variant of it.
	cost, err := c.calculator.ComputeCost(ctx, req.Completion.Model, usage.PromptTokens, usage.CompletionTokens)
	if err != nil {
		c.alarm(ctx, req, adm, nil, err)
		result.BillingStatus = BillingPendingReconciliation
		c.metrics.ObserveCharge("failed", c.now().Sub(started))
		return result
	}
	result.Cost = cost

	rec := &UsageRecord{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		MessageID:    req.MessageID,
		ModelID:      req.Completion.Model,
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		Cost:         cost,
		Timestamp:    c.now().UTC(),
	}

	err = c.store.RunInTx(ctx, func(tx MeteringTx) error {
		balance, txErr := tx.LockBalance(ctx, req.UserID)
		if txErr != nil {
			return txErr
		}

		id, created, txErr := tx.AppendUsage(ctx, rec)
		if txErr != nil {
			return txErr
		}
		result.RecordID = id

		if created {
			result.NewSpend, txErr = tx.AddSpend(ctx, req.UserID, cost)
			if txErr != nil {
				return txErr
			}
		} else {
			result.NewSpend = balance.CumulativeSpend
			result.BillingStatus = BillingDuplicate
		}

		return tx.DeleteReservation(ctx, adm.reservationID)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "charge failed")
		c.alarm(ctx, req, adm, rec, fmt.Errorf("%w: %w", ErrLedgerWrite, err))
		result.RecordID = ""
		result.NewSpend = decimal.Zero
		result.BillingStatus = BillingPendingReconciliation
		c.metrics.ObserveCharge("failed", c.now().Sub(started))
		return result
	}

	c.metrics.ObserveCharge(string(result.BillingStatus), c.now().Sub(started))
	c.metrics.AddChargedCost(req.Completion.Model, cost.InexactFloat64())
	c.transition(ctx, StateInvoked, StateCharged,
		observability.String("record_id", result.RecordID),
		observability.Decimal("cost", cost),
		observability.Decimal("new_spend", result.NewSpend),
		observability.String("billing_status", string(result.BillingStatus)))
	c.publish(ctx, "usage.charged", map[string]interface{}{
		"record_id":      result.RecordID,
		"message_id":     req.MessageID,
		"cost":           FormatMoney(cost),
		"billing_status": string(result.BillingStatus),
	})

	return result
}

// alarm escalates a charge that did not commit after a successful generation.
// rec is nil when the cost itself could not be computed.
func (c *AdmissionController) alarm(ctx context.Context, req *MeteredRequest, adm *admitted, rec *UsageRecord, cause error) {
	c.metrics.ReconciliationAlarm()

	logger := observability.FromContext(ctx).With(
		observability.String("alarm", "reconciliation_required"),
		observability.String("message_id", req.MessageID),
		observability.String("reservation_id", adm.reservationID),
	)

	if rec == nil || c.queue == nil {
		logger.Error("charge failed after successful generation", observability.Error(cause), zapRecord(rec))
		return
	}

	pending := PendingCharge{
		Record:        *rec,
		ReservationID: adm.reservationID,
		Reason:        cause.Error(),
		FailedAt:      c.now().UTC(),
	}
	if err := c.queue.Enqueue(ctx, pending); err != nil {
		logger.Error("charge failed after successful generation and could not be queued",
			observability.Error(cause),
			observability.String("queue_error", err.Error()),
			zapRecord(rec))
		return
	}

	logger.Error("charge failed after successful generation, queued for reconciliation",
		observability.Error(cause),
		observability.String("record_id", rec.ID))
}

// Replay charges a queued record. It is idempotent on the record's message id.
func (c *AdmissionController) Replay(ctx context.Context, pending PendingCharge) (*MeteredResponse, error) {
	rec := pending.Record
	if err := prepareRecord(&rec, c.now); err != nil {
		return nil, err
	}

	result := &MeteredResponse{
		Cost:          rec.Cost,
		BillingStatus: BillingCharged,
		State:         StateCharged,
	}

	err := c.store.RunInTx(ctx, func(tx MeteringTx) error {
		balance, txErr := tx.LockBalance(ctx, rec.UserID)
		if txErr != nil {
			return txErr
		}

		id, created, txErr := tx.AppendUsage(ctx, &rec)
		if txErr != nil {
			return txErr
		}
		result.RecordID = id

		if created {
			result.NewSpend, txErr = tx.AddSpend(ctx, rec.UserID, rec.Cost)
			if txErr != nil {
				return txErr
			}
		} else {
			result.NewSpend = balance.CumulativeSpend
			result.BillingStatus = BillingDuplicate
		}

		if pending.ReservationID == "" {
			return nil
		}
		return tx.DeleteReservation(ctx, pending.ReservationID)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerWrite, err)
	}

	observability.FromContext(ctx).Info("pending charge replayed",
		observability.String("message_id", rec.MessageID),
		observability.String("record_id", result.RecordID),
		observability.String("billing_status", string(result.BillingStatus)))

	return result, nil
}

// detached returns a context that survives client cancellation, bounded by ChargeTimeout.
func (c *AdmissionController) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.opts.ChargeTimeout
	if timeout <= 0 {
		timeout = DefaultAdmissionOptions().ChargeTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (c *AdmissionController) transition(ctx context.Context, from, to RequestState, fields ...zap.Field) {
	fields = append(fields,
		observability.String("from", from.String()),
		observability.String("state", to.String()))
	observability.FromContext(ctx).Info("request state", fields...)
}

func (c *AdmissionController) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if c.events == nil {
		return
	}
	c.events.Publish(ctx, eventType, data)
}

// validateUsage rejects negative counts and a zero input count for a prompt
// that has content.
func validateUsage(req *CompletionRequest, usage Usage) error {
	if usage.PromptTokens < 0 || usage.CompletionTokens < 0 {
		return fmt.Errorf("%w: malformed usage input=%d output=%d",
			ErrInvalidTokenCount, usage.PromptTokens, usage.CompletionTokens)
	}
	if usage.PromptTokens == 0 && hasContent(req.Messages) {
		return fmt.Errorf("%w: provider reported no input tokens", ErrInvalidTokenCount)
	}
	return nil
}

func hasContent(messages []Message) bool {
	for _, m := range messages {
		if strings.TrimSpace(m.Content) != "" {
			return true
		}
	}
	return false
}

func zapRecord(rec *UsageRecord) zap.Field {
	if rec == nil {
		return zap.Skip()
	}
	return zap.Object("usage_record", usageRecordMarshaler{rec})
}

type usageRecordMarshaler struct {
	rec *UsageRecord
}

func (m usageRecordMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", m.rec.ID)
	enc.AddString("user_id", m.rec.UserID)
	enc.AddString("message_id", m.rec.MessageID)
	enc.AddString("model_id", m.rec.ModelID)
	enc.AddInt64("input_tokens", m.rec.InputTokens)
	enc.AddInt64("output_tokens", m.rec.OutputTokens)
	enc.AddString("cost", FormatMoney(m.rec.Cost))
	enc.AddTime("timestamp", m.rec.Timestamp)
	return nil
}

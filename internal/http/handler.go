package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidbz/tally/internal/domain"
	"github.com/davidbz/tally/internal/observability"
)

const defaultUsageWindow = 30 * 24 * time.Hour

// Handler handles HTTP requests.
type Handler struct {
	controller *domain.AdmissionController
	balances   *domain.Accumulator
	reports    *domain.UsageReporter
	now        func() time.Time
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(
	controller *domain.AdmissionController,
	balances *domain.Accumulator,
	reports *domain.UsageReporter,
) *Handler {
	return &Handler{
		controller: controller,
		balances:   balances,
		reports:    reports,
		now:        time.Now,
	}
}

// ChatRequest is the body of POST /v1/chat/completions.
type ChatRequest struct {
	Model        string           `json:"model"`
	Messages     []domain.Message `json:"messages"`
	Temperature  float64          `json:"temperature,omitempty"`
	MaxTokens    int64            `json:"max_tokens,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
	MessageID    string           `json:"message_id,omitempty"`
	IncludeUsage bool             `json:"include_usage,omitempty"`
}

// ChatResponse is a metered completion.
type ChatResponse struct {
	ID            string               `json:"id"`
	MessageID     string               `json:"message_id"`
	Model         string               `json:"model"`
	Provider      string               `json:"provider"`
	Content       string               `json:"content"`
	Usage         domain.Usage         `json:"usage"`
	Cost          string               `json:"cost"`
	NewBalance    string               `json:"new_balance,omitempty"`
	BillingStatus domain.BillingStatus `json:"billing_status"`
}

// StreamEvent is one SSE data payload. The event with Done set closes the stream.
type StreamEvent struct {
	Delta         string               `json:"delta,omitempty"`
	Done          bool                 `json:"done,omitempty"`
	MessageID     string               `json:"message_id,omitempty"`
	Usage         *domain.Usage        `json:"usage,omitempty"`
	Cost          string               `json:"cost,omitempty"`
	NewBalance    string               `json:"new_balance,omitempty"`
	BillingStatus domain.BillingStatus `json:"billing_status,omitempty"`
}

// BalanceResponse reports a user's spend against the ceiling.
type BalanceResponse struct {
	UserID          string `json:"user_id"`
	CumulativeSpend string `json:"cumulative_spend"`
	SpendCeiling    string `json:"spend_ceiling"`
	Remaining       string `json:"remaining"`
	UnderCeiling    bool   `json:"under_ceiling"`
}

// HandleCompletion processes metered chat completion requests.
func (h *Handler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if body.Model == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "model is required")
		return
	}

	req := &domain.MeteredRequest{
		RequestID: observability.GetRequestID(ctx),
		UserID:    observability.GetUserID(ctx),
		MessageID: body.MessageID,
		Completion: &domain.CompletionRequest{
			Model:       body.Model,
			Messages:    body.Messages,
			Temperature: body.Temperature,
			MaxTokens:   body.MaxTokens,
			Stream:      body.Stream,
		},
	}

	ctx = observability.WithModel(ctx, body.Model)
	logger := observability.FromContext(ctx)
	logger.Info("completion request received",
		observability.String("model", body.Model),
		observability.Bool("stream", body.Stream),
	)

	if body.Stream {
		h.handleStream(ctx, w, req, body.IncludeUsage)
		return
	}

	result, err := h.controller.AdmitAndInvoke(ctx, req)
	if err != nil {
		logger.Warn("completion failed", observability.Error(err))
		writeDomainError(w, err)
		return
	}

	logger.Info("completion succeeded",
		observability.Int64("tokens", result.Response.Usage.TotalTokens),
		observability.Decimal("cost", result.Cost),
		observability.String("billing_status", string(result.BillingStatus)),
	)

	resp := ChatResponse{
		ID:            result.Response.ID,
		MessageID:     req.MessageID,
		Model:         result.Response.Model,
		Provider:      result.Response.Provider,
		Content:       result.Response.Content,
		Usage:         result.Response.Usage,
		Cost:          domain.FormatMoney(result.Cost),
		BillingStatus: result.BillingStatus,
	}
	if result.BillingStatus == domain.BillingCharged {
		resp.NewBalance = domain.FormatMoney(result.NewSpend)
	}

	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		logger.Error("failed to encode response", observability.Error(err))
	}
}

// handleStream admits first so rejections keep their status codes, then
// switches to SSE. A client that goes away stops the writes; the charge still
// completes inside the admission controller.
func (h *Handler) handleStream(ctx context.Context, w http.ResponseWriter, req *domain.MeteredRequest, includeUsage bool) {
	logger := observability.FromContext(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("streaming not supported")
		writeError(w, http.StatusInternalServerError, CodeInternal, "streaming not supported")
		return
	}

	chunks, err := h.controller.AdmitAndStream(ctx, req)
	if err != nil {
		logger.Warn("stream rejected", observability.Error(err))
		writeDomainError(w, err)
		return
	}

	// Set headers for SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			// Client disconnected or timeout
			logger.Info("stream context done", observability.Error(ctx.Err()))
			return

		case chunk, chunkOk := <-chunks:
			if !chunkOk {
				logger.Info("stream completed normally")
				return
			}

			if chunk.Error != nil {
				logger.Warn("stream failed", observability.Error(chunk.Error))
				_, code := classify(chunk.Error)
				data, _ := json.Marshal(ErrorResponse{Error: publicMessage(chunk.Error, code), Code: code})
				fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
				flusher.Flush()
				return
			}

			event := StreamEvent{Delta: chunk.Delta}
			if chunk.Done {
				event = finalEvent(req.MessageID, chunk, includeUsage)
			}

			data, _ := json.Marshal(event)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()

			if chunk.Done {
				logger.Info("stream completed",
					observability.String("billing_status", string(chunk.BillingStatus)))
				return
			}
		}
	}
}

func finalEvent(messageID string, chunk domain.MeteredChunk, includeUsage bool) StreamEvent {
	event := StreamEvent{
		Done:          true,
		MessageID:     messageID,
		Cost:          domain.FormatMoney(chunk.Cost),
		BillingStatus: chunk.BillingStatus,
	}
	if includeUsage {
		event.Usage = chunk.Usage
	}
	if chunk.BillingStatus == domain.BillingCharged {
		event.NewBalance = domain.FormatMoney(chunk.NewSpend)
	}
	return event
}

// HandleUsage returns the usage summary of the calling user.
// from and to are RFC3339; the default window is the last 30 days.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := observability.GetUserID(ctx)

	to := h.now().UTC()
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid 'to' parameter, expected RFC3339")
			return
		}
		to = parsed
	}

	from := to.Add(-defaultUsageWindow)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid 'from' parameter, expected RFC3339")
			return
		}
		from = parsed
	}

	if !from.Before(to) {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "'from' must be before 'to'")
		return
	}

	summary, err := h.reports.Summary(ctx, userID, from, to)
	if err != nil {
		observability.FromContext(ctx).Warn("usage summary failed", observability.Error(err))
		writeDomainError(w, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, summary); err != nil {
		observability.FromContext(ctx).Error("failed to encode response", observability.Error(err))
	}
}

// HandleBalance returns the calling user's spend and ceiling.
func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	balance, err := h.balances.GetBalance(ctx, observability.GetUserID(ctx))
	if err != nil {
		observability.FromContext(ctx).Warn("balance lookup failed", observability.Error(err))
		writeDomainError(w, err)
		return
	}

	remaining := balance.SpendCeiling.Sub(balance.CumulativeSpend)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	if err := writeJSON(w, http.StatusOK, BalanceResponse{
		UserID:          balance.UserID,
		CumulativeSpend: domain.FormatMoney(balance.CumulativeSpend),
		SpendCeiling:    domain.FormatMoney(balance.SpendCeiling),
		Remaining:       domain.FormatMoney(remaining),
		UnderCeiling:    balance.CumulativeSpend.LessThan(balance.SpendCeiling),
	}); err != nil {
		observability.FromContext(ctx).Error("failed to encode response", observability.Error(err))
	}
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	// Status is already written, so an encode failure cannot be reported.
	_ = writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/davidbz/tally/internal/domain"
)

// Stable error codes returned in the error body.
const (
	CodeQuotaExceeded      = "QUOTA_EXCEEDED"
	CodePricingNotFound    = "PRICING_NOT_FOUND"
	CodeProviderError      = "PROVIDER_ERROR"
	CodeBalanceUnavailable = "BALANCE_UNAVAILABLE"
	CodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
	CodeDuplicateMessage   = "DUPLICATE_MESSAGE"
	CodeBadRequest         = "BAD_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInternal           = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// classify maps a domain error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusPaymentRequired, CodeQuotaExceeded
	case errors.Is(err, domain.ErrPricingNotFound):
		return http.StatusInternalServerError, CodePricingNotFound
	case errors.Is(err, domain.ErrProviderFailure):
		return http.StatusBadGateway, CodeProviderError
	case errors.Is(err, domain.ErrBalanceUnavailable):
		return http.StatusServiceUnavailable, CodeBalanceUnavailable
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound, CodeAccountNotFound
	case errors.Is(err, domain.ErrDuplicateMessage):
		return http.StatusConflict, CodeDuplicateMessage
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidTokenCount),
		errors.Is(err, domain.ErrUnsupportedModel):
		return http.StatusBadRequest, CodeBadRequest
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// publicMessage hides configuration and store detail from clients.
func publicMessage(err error, code string) string {
	switch code {
	case CodeQuotaExceeded:
		return domain.ErrQuotaExceeded.Error()
	case CodePricingNotFound:
		return "model is not priced"
	case CodeBalanceUnavailable:
		return "balance temporarily unavailable"
	case CodeInternal:
		return "internal error"
	default:
		return err.Error()
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	_ = writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, publicMessage(err, code))
}

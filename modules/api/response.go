package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/swiftsaleapp/entitlement/pkg/entitlement"
)

// envelope is the standard JSON response structure.
type envelope struct {
	Data  any          `json:"data,omitempty"`
	Error *errorDetail `json:"error,omitempty"`
}

// errorDetail carries a stable machine-readable code alongside the message.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: &errorDetail{Code: code, Message: message}})
}

// Stable error codes exposed to clients. Clients branch on the code, not
// the message, so these never change between releases.
const (
	codeInvalidTransition = "invalid_transition"
	codeAccountCancelled  = "account_cancelled"
	codePaymentRejected   = "payment_rejected"
	codeContention        = "contention"
	codeNotFound          = "not_found"
	codeValidationError   = "validation_error"
	codeInternalError     = "internal_error"
)

// writeServiceError maps service errors to HTTP status and stable code.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entitlement.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "account not found")
	case errors.Is(err, entitlement.ErrTierNotFound):
		writeError(w, http.StatusUnprocessableEntity, codeValidationError, "unknown tier")
	case errors.Is(err, entitlement.ErrInvalidEmail):
		writeError(w, http.StatusUnprocessableEntity, codeValidationError, "invalid email")
	case errors.Is(err, entitlement.ErrAccountCancelled):
		writeError(w, http.StatusConflict, codeAccountCancelled, "account is cancelled")
	case errors.Is(err, entitlement.ErrInvalidTransition):
		writeError(w, http.StatusConflict, codeInvalidTransition, "transition not allowed")
	case errors.Is(err, entitlement.ErrPaymentRejected):
		writeError(w, http.StatusPaymentRequired, codePaymentRejected, "payment was not authorized")
	case errors.Is(err, entitlement.ErrContention):
		writeError(w, http.StatusTooManyRequests, codeContention, "account is busy, retry the request")
	default:
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}

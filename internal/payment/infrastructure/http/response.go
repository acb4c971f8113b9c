package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmehra2102/payment-webhooks/internal/payment/domain"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, msg string, data any) {
	writeJSON(w, http.StatusOK, envelope{Status: statusSuccess, Message: msg, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Status: statusError, Message: msg})
}

// statusFor maps the error taxonomy onto HTTP. Messages never carry internals
// for 5xx responses.
func statusFor(err error) (int, string) {
	var (
		nerr *domain.NormalizationError
		serr *domain.StorageError
	)
	switch {
	case errors.Is(err, domain.ErrMalformedRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrVerificationFailed):
		return http.StatusBadRequest, "invalid signature"
	case errors.As(err, &nerr):
		return http.StatusBadRequest, nerr.Error()
	case errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrBalanceNotFound):
		return http.StatusNotFound, "balance not found"
	case errors.As(err, &serr):
		return http.StatusInternalServerError, "storage unavailable, retry later"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

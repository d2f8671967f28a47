package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/log"
	"fintrack/internal/predict"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

var validationErrors = []error{
	core.ErrInvalidDate,
	core.ErrInvalidAmount,
	core.ErrInvalidType,
	core.ErrEmptyName,
	core.ErrNameLength,
	core.ErrDescriptionTooLong,
	core.ErrIncomeCategory,
	core.ErrIncomeNeedsSentinel,
	core.ErrUnknownCategory,
	ledger.ErrNegativeBalance,
	predict.ErrInvalidPeriod,
}

// statusFor maps a domain error to an HTTP status code.
func statusFor(err error) int {
	var outErr *predict.OutputError
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, predict.ErrInsufficientHistory):
		return http.StatusUnprocessableEntity
	case errors.Is(err, predict.ErrNoOutput), errors.As(err, &outErr):
		return http.StatusBadGateway
	case errors.Is(err, predict.ErrDisabled), errors.Is(err, ledger.ErrNotLoaded):
		return http.StatusServiceUnavailable
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

// writeDomainError reports err to the client. Server-side failures are
// logged and hidden behind a generic message.
func (s *Server) writeDomainError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	msg := err.Error()

	var outErr *predict.OutputError
	switch {
	case errors.Is(err, predict.ErrNoOutput):
		msg = predict.ErrNoOutput.Error()
	case errors.As(err, &outErr):
		msg = predict.ErrNoOutput.Error()
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		msg = "Internal server error"
	}

	if status >= http.StatusInternalServerError {
		s.access.LogError(ctx, "Request failed", err, log.ComponentHTTP, op, nil)
	}
	writeError(w, status, msg)
}

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

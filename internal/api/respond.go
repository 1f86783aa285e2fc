package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/punchamoorthee/payledger/internal/domain"
)

const maxBodyBytes = 1 << 20

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func respondWithError(w http.ResponseWriter, code int, reason, message string) {
	respondWithJSON(w, code, map[string]string{"error": reason, "message": message})
}

// statusFor maps a ledger error onto its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrReceiverCapacityExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrAlreadyProcessed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrConflictRetryable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondWithDomainError writes err with its stable code. Unexpected errors
// are logged and reported without detail.
func (h *Handler) respondWithDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	reason := domain.Code(err)
	message := err.Error()

	switch {
	case code == http.StatusInternalServerError:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		message = "internal server error"
	case errors.Is(err, domain.ErrAuthenticationFailed):
		message = domain.ErrAuthenticationFailed.Error()
	case errors.Is(err, domain.ErrConflictRetryable):
		w.Header().Set("Retry-After", "1")
	}
	respondWithError(w, code, reason, message)
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields.
func decodeJSON(body io.Reader, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("malformed JSON body: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("malformed JSON body: trailing data")
	}
	return nil
}

func respondWithMalformed(w http.ResponseWriter, err error) {
	respondWithError(w, http.StatusBadRequest, "validation_error", err.Error())
}

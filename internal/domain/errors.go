package domain

import "errors"

// Every failure returned by the ledger core wraps exactly one of these.
var (
	ErrValidation               = errors.New("validation failed")
	ErrNotFound                 = errors.New("not found")
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrReceiverCapacityExceeded = errors.New("receiver capacity exceeded")
	ErrAlreadyProcessed         = errors.New("already processed")
	ErrExpired                  = errors.New("expired")
	ErrAuthenticationFailed     = errors.New("invalid credentials")
	ErrConflictRetryable        = errors.New("conflict, retry the operation")
	ErrInternal                 = errors.New("internal error")
)

// Code returns the stable reason string for err, or "internal_error".
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrReceiverCapacityExceeded):
		return "receiver_capacity_exceeded"
	case errors.Is(err, ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAuthenticationFailed):
		return "authentication_failed"
	case errors.Is(err, ErrConflictRetryable):
		return "conflict_retryable"
	default:
		return "internal_error"
	}
}

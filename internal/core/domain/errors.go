package domain

import (
	"context"
	"errors"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conditional update conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrGatewayTimeout   = errors.New("payment gateway timeout")
	ErrPaymentDeclined  = errors.New("payment declined")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
)

// Retryable reports whether the operation may succeed when repeated later.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrGatewayTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}

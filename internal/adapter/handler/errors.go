package handler

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/yassinshaher1/CCB/internal/core/domain"
)

const (
	kindBadRequest       = "bad_request"
	kindNotFound         = "not_found"
	kindConflict         = "conflict"
	kindStoreUnavailable = "store_unavailable"
	kindGatewayTimeout   = "gateway_timeout"
	kindPaymentDeclined  = "payment_declined"
	kindUnauthorized     = "unauthorized"
	kindForbidden        = "forbidden"
	kindTimeout          = "timeout"
	kindCanceled         = "canceled"
	kindInternal         = "internal"
)

// errorKind classifies an error for transport responses.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrValidation):
		return kindBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return kindNotFound
	case errors.Is(err, domain.ErrConflict):
		return kindConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		return kindStoreUnavailable
	case errors.Is(err, domain.ErrGatewayTimeout):
		return kindGatewayTimeout
	case errors.Is(err, domain.ErrPaymentDeclined):
		return kindPaymentDeclined
	case errors.Is(err, domain.ErrUnauthorized):
		return kindUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return kindForbidden
	case errors.Is(err, context.DeadlineExceeded):
		return kindTimeout
	case errors.Is(err, context.Canceled):
		return kindCanceled
	default:
		return kindInternal
	}
}

var kindToStatus = map[string]int{
	kindBadRequest:       http.StatusBadRequest,
	kindNotFound:         http.StatusNotFound,
	kindConflict:         http.StatusConflict,
	kindStoreUnavailable: http.StatusServiceUnavailable,
	kindGatewayTimeout:   http.StatusGatewayTimeout,
	kindPaymentDeclined:  http.StatusPaymentRequired,
	kindUnauthorized:     http.StatusUnauthorized,
	kindForbidden:        http.StatusForbidden,
	kindTimeout:          http.StatusGatewayTimeout,
	kindCanceled:         http.StatusRequestTimeout,
}

func httpStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if s, ok := kindToStatus[errorKind(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

var kindToCode = map[string]codes.Code{
	kindBadRequest:       codes.InvalidArgument,
	kindNotFound:         codes.NotFound,
	kindConflict:         codes.Aborted,
	kindStoreUnavailable: codes.Unavailable,
	kindGatewayTimeout:   codes.DeadlineExceeded,
	kindPaymentDeclined:  codes.FailedPrecondition,
	kindUnauthorized:     codes.Unauthenticated,
	kindForbidden:        codes.PermissionDenied,
	kindTimeout:          codes.DeadlineExceeded,
	kindCanceled:         codes.Canceled,
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if c, ok := kindToCode[errorKind(err)]; ok {
		return c
	}
	return codes.Internal
}

package port

import (
	"context"

	"github.com/yassinshaher1/CCB/internal/core/domain"
)

type PaymentGateway interface {
	// Charge blocks until the gateway answers or ctx is done
	Charge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeReceipt, error)
}

type Authenticator interface {
	// AuthenticateBearer resolves a bearer token or returns domain.ErrUnauthorized
	AuthenticateBearer(ctx context.Context, token string) (domain.Principal, error)
}

package port

import (
	"context"
	"time"

	"github.com/yassinshaher1/CCB/internal/core/domain"
)

type ClaimRepository interface {
	// Claim marks orderID as in flight, returns false if another worker holds it
	Claim(ctx context.Context, orderID string, ttl time.Duration) (bool, error)

	// Release drops the in-flight marker
	Release(ctx context.Context, orderID string) error
}

type CatalogRepository interface {
	// GetProduct returns the product or domain.ErrNotFound
	GetProduct(ctx context.Context, id string) (domain.Product, error)
}

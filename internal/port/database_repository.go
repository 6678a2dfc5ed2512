package port

import (
	"context"
	"time"

	"github.com/yassinshaher1/CCB/internal/core/domain"
)

type OrderRepository interface {
	// Insert persists a new order atomically and returns its id
	Insert(ctx context.Context, order domain.Order) (string, error)

	// Get returns the order or domain.ErrNotFound
	Get(ctx context.Context, id string) (domain.Order, error)

	// GetAll returns every order keyed by id
	GetAll(ctx context.Context) (map[string]domain.Order, error)

	// ListByUser returns orders whose userId or customerEmail equals identity
	ListByUser(ctx context.Context, identity string) ([]domain.Order, error)

	// ListPending returns up to limit PENDING orders last updated before the given time that sort
	// after the cursor, ordered by (updatedAt, id)
	ListPending(ctx context.Context, updatedBefore time.Time, after domain.PendingCursor, limit int) ([]domain.Order, error)

	// Update applies a partial update; with patch.ExpectStatus set it is a compare-and-set
	// returning domain.ErrConflict when the stored status differs
	Update(ctx context.Context, id string, patch domain.OrderPatch) error
}

type PaymentRepository interface {
	// CreatePayment persists a new payment record
	CreatePayment(ctx context.Context, payment domain.Payment) error

	// DeletePayment discards a payment that lost the settlement race
	DeletePayment(ctx context.Context, id string) error

	// ListPaymentsByOrder returns the payments that reference orderID
	ListPaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
}

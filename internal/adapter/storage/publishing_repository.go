package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/yassinshaher1/CCB/internal/core/domain"
	"github.com/yassinshaher1/CCB/internal/port"
)

// PublishingRepository turns a plain OrderRepository into a change source:
// every successful insert or update is followed by a published event. A
// failed publish is logged only; the pending sweep picks the order up later.
type PublishingRepository struct {
	port.OrderRepository
	publisher port.ChangePublisher
	logger    *slog.Logger
}

func NewPublishingRepository(repo port.OrderRepository, publisher port.ChangePublisher, logger *slog.Logger) *PublishingRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishingRepository{
		OrderRepository: repo,
		publisher:       publisher,
		logger:          logger,
	}
}

func (r *PublishingRepository) Insert(ctx context.Context, order domain.Order) (string, error) {
	id, err := r.OrderRepository.Insert(ctx, order)
	if err != nil {
		return "", err
	}

	order.ID = id
	r.publish(ctx, domain.NewChangeEvent(domain.ChangeCreated, order))
	return id, nil
}

func (r *PublishingRepository) Update(ctx context.Context, id string, patch domain.OrderPatch) error {
	if patch.UpdatedAt.IsZero() {
		patch.UpdatedAt = time.Now().UTC()
	}
	if err := r.OrderRepository.Update(ctx, id, patch); err != nil {
		return err
	}

	current, err := r.OrderRepository.Get(ctx, id)
	if err != nil {
		r.logger.Warn("re-read after update failed, change not published", "order_id", id, "error", err)
		return nil
	}
	r.publish(ctx, domain.NewChangeEvent(domain.ChangeUpdated, current))
	return nil
}

func (r *PublishingRepository) publish(ctx context.Context, ev domain.ChangeEvent) {
	if err := r.publisher.Publish(ctx, ev); err != nil {
		r.logger.Warn("failed to publish order change", "order_id", ev.OrderID, "kind", ev.Kind, "error", err)
	}
}

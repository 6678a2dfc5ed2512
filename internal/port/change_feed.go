package port

import (
	"context"

	"github.com/yassinshaher1/CCB/internal/core/domain"
)

// ChangeHandler receives one change notification. Delivery is at-least-once.
type ChangeHandler func(ctx context.Context, event domain.ChangeEvent)

type ChangeFeed interface {
	// Subscribe delivers events until ctx is done (returns nil) or the subscription breaks
	Subscribe(ctx context.Context, handler ChangeHandler) error
}

type ChangePublisher interface {
	// Publish appends an event to the feed
	Publish(ctx context.Context, event domain.ChangeEvent) error
}

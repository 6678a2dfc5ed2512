package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/yassinshaher1/CCB/internal/core/domain"
	"github.com/yassinshaher1/CCB/internal/port"
)

const minPollInterval = 10 * time.Millisecond

type seenOrder struct {
	status    domain.OrderStatus
	updatedAt time.Time
}

// PollingFeed emulates change notifications for stores without a native
// listen capability by scanning the whole collection on a fixed interval.
type PollingFeed struct {
	repo     port.OrderRepository
	interval time.Duration
	logger   *slog.Logger
}

func NewPollingFeed(repo port.OrderRepository, interval time.Duration, logger *slog.Logger) *PollingFeed {
	if interval < minPollInterval {
		interval = minPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PollingFeed{
		repo:     repo,
		interval: interval,
		logger:   logger,
	}
}

// Subscribe scans immediately and then on every tick. An unseen record is
// reported as created, a record whose status or updatedAt moved as updated.
// Records already seen in a settled state are not reported again.
func (f *PollingFeed) Subscribe(ctx context.Context, handler port.ChangeHandler) error {
	seen := make(map[string]seenOrder)

	if err := f.scan(ctx, seen, handler); err != nil {
		return err
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := f.scan(ctx, seen, handler); err != nil {
				return err
			}
		}
	}
}

func (f *PollingFeed) scan(ctx context.Context, seen map[string]seenOrder, handler port.ChangeHandler) error {
	all, err := f.repo.GetAll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("poll orders: %w", err)
	}

	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		o := all[id]
		prev, ok := seen[id]
		seen[id] = seenOrder{status: o.Status, updatedAt: o.UpdatedAt}

		switch {
		case !ok:
			handler(ctx, domain.NewChangeEvent(domain.ChangeCreated, o))
		case prev.status != o.Status || !prev.updatedAt.Equal(o.UpdatedAt):
			handler(ctx, domain.NewChangeEvent(domain.ChangeUpdated, o))
		}
	}

	f.logger.Debug("polled orders", "count", len(all))
	return nil
}

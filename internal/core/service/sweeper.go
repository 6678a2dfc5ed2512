package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yassinshaher1/CCB/internal/core/domain"
	"github.com/yassinshaher1/CCB/internal/port"
)

const defaultSweepBatch = 100

// Dispatcher hands an order to a settlement worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, o domain.Order) bool
}

type SweeperConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

// Sweeper periodically re-dispatches orders that stayed PENDING longer than
// StaleAfter, e.g. because their notification was lost or the gateway timed out.
// Each sweep resumes after the last order of the previous one and wraps to the
// oldest once the backlog is exhausted, so orders that keep failing cannot
// hide the rest of the backlog.
type Sweeper struct {
	orders     port.OrderRepository
	dispatcher Dispatcher
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	logger     *slog.Logger

	now func() time.Time

	mu     sync.Mutex
	cursor domain.PendingCursor
}

func NewSweeper(orders port.OrderRepository, dispatcher Dispatcher, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSweepBatch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		orders:     orders,
		dispatcher: dispatcher,
		interval:   cfg.Interval,
		staleAfter: cfg.StaleAfter,
		batchSize:  cfg.BatchSize,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("pending sweeper started", "interval", s.interval, "stale_after", s.staleAfter)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("pending sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce dispatches one batch of stale PENDING orders and returns how many
// workers were started.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.staleAfter)

	orders, err := s.listPending(ctx, cutoff, s.cursor)
	if err == nil && len(orders) == 0 && !s.cursor.IsZero() {
		// the tail was drained last time, start over from the oldest
		orders, err = s.listPending(ctx, cutoff, domain.PendingCursor{})
	}
	if err != nil {
		return 0, fmt.Errorf("list stale pending orders: %w", err)
	}

	if len(orders) < s.batchSize {
		s.cursor = domain.PendingCursor{}
	} else {
		s.cursor = domain.CursorOf(orders[len(orders)-1])
	}

	started := 0
	for _, o := range orders {
		if ctx.Err() != nil {
			break
		}
		if s.dispatcher.Dispatch(ctx, o) {
			started++
		}
	}
	if len(orders) > 0 {
		s.logger.Info("swept stale orders", "found", len(orders), "dispatched", started)
	}
	return started, nil
}

func (s *Sweeper) listPending(ctx context.Context, cutoff time.Time, after domain.PendingCursor) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultStoreTimeout)
	defer cancel()
	return s.orders.ListPending(ctx, cutoff, after, s.batchSize)
}

package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/yassinshaher1/CCB/internal/core/domain"
	"github.com/yassinshaher1/CCB/internal/port"
)

const (
	defaultMaxWorkers = 16
	defaultClaimTTL   = time.Minute
)

var errSubscriptionEnded = errors.New("change feed subscription ended")

// Settler settles one order. *SettlementWorker is the production implementation.
type Settler interface {
	Settle(ctx context.Context, orderID string, snapshot domain.Order) (Outcome, error)
}

type ListenerConfig struct {
	MaxWorkers int
	ClaimTTL   time.Duration
	Backoff    BackoffConfig
}

// SettlementListener subscribes to order changes and starts one settlement
// worker per PENDING order it has not already got in flight.
type SettlementListener struct {
	feed     port.ChangeFeed
	claims   port.ClaimRepository
	settler  Settler
	claimTTL time.Duration
	backoff  BackoffConfig
	logger   *slog.Logger

	sem      *semaphore.Weighted
	local    sync.Map
	inFlight atomic.Int64
	wg       sync.WaitGroup
}

// NewSettlementListener builds a listener. claims may be nil when a single
// listener process runs; the conditional update keeps settlement correct
// either way.
func NewSettlementListener(feed port.ChangeFeed, claims port.ClaimRepository, settler Settler, cfg ListenerConfig, logger *slog.Logger) *SettlementListener {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = defaultClaimTTL
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoffConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SettlementListener{
		feed:     feed,
		claims:   claims,
		settler:  settler,
		claimTTL: cfg.ClaimTTL,
		backoff:  cfg.Backoff,
		logger:   logger,
		sem:      semaphore.NewWeighted(int64(cfg.MaxWorkers)),
	}
}

// Run keeps a subscription open until ctx is done, resubscribing with
// backoff whenever the feed fails. It returns after in-flight workers finish.
func (l *SettlementListener) Run(ctx context.Context) error {
	l.logger.Info("settlement listener started")
	bo := newBackoff(l.backoff)

	for {
		var delivered atomic.Bool
		err := l.feed.Subscribe(ctx, func(ctx context.Context, ev domain.ChangeEvent) {
			delivered.Store(true)
			l.Handle(ctx, ev)
		})
		if ctx.Err() != nil {
			break
		}
		if err == nil {
			err = errSubscriptionEnded
		}
		if delivered.Load() {
			bo.reset()
		}

		delay := bo.next()
		l.logger.Warn("change feed lost, resubscribing", "error", err, "retry_in", delay)
		if !sleep(ctx, delay) {
			break
		}
	}

	l.Wait()
	l.logger.Info("settlement listener stopped")
	return nil
}

// Handle reacts to one change notification. Anything other than a created or
// updated PENDING order is ignored, including the listener's own write-backs.
// It returns once a worker is dispatched, so feeds that acknowledge on return
// rely on the Sweeper for orders whose worker never finished.
func (l *SettlementListener) Handle(ctx context.Context, ev domain.ChangeEvent) {
	if !ev.Actionable() {
		return
	}
	order := ev.Order
	if order.ID == "" {
		order.ID = ev.OrderID
	}
	l.Dispatch(ctx, order)
}

// Dispatch starts a worker for o unless one is already running for it here
// or in another process. It never blocks on the worker pool.
func (l *SettlementListener) Dispatch(ctx context.Context, o domain.Order) bool {
	if _, busy := l.local.LoadOrStore(o.ID, struct{}{}); busy {
		l.logger.Debug("settlement already in flight", "order_id", o.ID)
		return false
	}

	claimed, ok := l.claim(ctx, o.ID)
	if !ok {
		l.local.Delete(o.ID)
		return false
	}

	l.inFlight.Add(1)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.inFlight.Add(-1)
		defer l.local.Delete(o.ID)
		if claimed {
			defer l.release(ctx, o.ID)
		}

		if err := l.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer l.sem.Release(1)

		outcome, err := l.settler.Settle(ctx, o.ID, o)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info("settlement interrupted", "order_id", o.ID, "error", err)
				return
			}
			l.logger.Error("settlement failed", "order_id", o.ID, "retryable", domain.Retryable(err), "error", err)
			return
		}
		l.logger.Debug("settlement finished", "order_id", o.ID, "outcome", outcome)
	}()
	return true
}

// claim takes the distributed marker. The second result is false when the
// order must be skipped. If the claim store itself fails the worker still
// runs without a claim.
func (l *SettlementListener) claim(ctx context.Context, orderID string) (claimed, ok bool) {
	if l.claims == nil {
		return false, true
	}
	won, err := l.claims.Claim(ctx, orderID, l.claimTTL)
	if err != nil {
		if ctx.Err() != nil {
			return false, false
		}
		l.logger.Warn("claim store unavailable, settling unclaimed", "order_id", orderID, "error", err)
		return false, true
	}
	if !won {
		l.logger.Debug("order claimed by another worker", "order_id", orderID)
		return false, false
	}
	return true, true
}

func (l *SettlementListener) release(ctx context.Context, orderID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultStoreTimeout)
	defer cancel()

	if err := l.claims.Release(ctx, orderID); err != nil {
		l.logger.Warn("release claim failed", "order_id", orderID, "error", err)
	}
}

// InFlight returns the number of workers started and not yet finished.
func (l *SettlementListener) InFlight() int64 {
	return l.inFlight.Load()
}

// Wait blocks until every started worker has returned.
func (l *SettlementListener) Wait() {
	l.wg.Wait()
}

// Package gateway provides the payment gateway used by settlement workers.
//
// SimulatedGateway stands in for a bank API: it waits for a configurable
// delay, respects context cancellation and approves every charge unless a
// decline rule says otherwise.
package gateway

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/yassinshaher1/CCB/internal/core/domain"
)

const (
	DefaultDelay    = 3 * time.Second
	DefaultCurrency = "USD"
	DefaultMethod   = "card"
)

// DeclineFunc decides whether a charge is refused.
type DeclineFunc func(req domain.ChargeRequest) bool

type SimulatedGateway struct {
	delay   time.Duration
	decline DeclineFunc
	calls   atomic.Int64
}

// NewSimulated returns a gateway that answers after delay. A negative delay
// selects DefaultDelay; zero answers immediately.
func NewSimulated(delay time.Duration, decline DeclineFunc) *SimulatedGateway {
	if delay < 0 {
		delay = DefaultDelay
	}
	return &SimulatedGateway{delay: delay, decline: decline}
}

// Charge waits for the configured delay and returns a receipt. The receipt
// of a declined charge has Approved == false and no error.
func (g *SimulatedGateway) Charge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeReceipt, error) {
	g.calls.Add(1)

	if err := waitOrCancel(ctx, g.delay); err != nil {
		return domain.ChargeReceipt{}, err
	}

	if math.IsNaN(req.Amount) || req.Amount < 0 {
		return domain.ChargeReceipt{}, fmt.Errorf("charge %s: invalid amount %v", req.OrderID, req.Amount)
	}

	currency := req.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	receipt := domain.ChargeReceipt{
		Approved:  true,
		Reference: uuid.NewString(),
		Currency:  currency,
		Method:    DefaultMethod,
	}
	if g.decline != nil && g.decline(req) {
		receipt.Approved = false
	}
	return receipt, nil
}

// Calls returns how many charges were attempted.
func (g *SimulatedGateway) Calls() int64 { return g.calls.Load() }

// DeclineAbove refuses charges larger than limit.
func DeclineAbove(limit float64) DeclineFunc {
	return func(req domain.ChargeRequest) bool {
		return req.Amount > limit
	}
}

// waitOrCancel blocks for d or until ctx is canceled.
func waitOrCancel(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

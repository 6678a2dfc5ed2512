package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yassinshaher1/CCB/internal/core/domain"
	"github.com/yassinshaher1/CCB/internal/port"
)

const defaultGatewayTimeout = 10 * time.Second

type Outcome string

const (
	OutcomeSettled        Outcome = "settled"
	OutcomeFailed         Outcome = "failed"
	OutcomeAlreadySettled Outcome = "already_settled"
	OutcomeDuplicate      Outcome = "duplicate"
)

// SettlementWorker charges one order and writes the result back with a
// conditional update, so only one of several concurrent workers wins.
type SettlementWorker struct {
	orders         port.OrderRepository
	payments       port.PaymentRepository
	gateway        port.PaymentGateway
	gatewayTimeout time.Duration
	storeTimeout   time.Duration
	logger         *slog.Logger

	now   func() time.Time
	newID func() string
}

func NewSettlementWorker(
	orders port.OrderRepository,
	payments port.PaymentRepository,
	gateway port.PaymentGateway,
	gatewayTimeout, storeTimeout time.Duration,
	logger *slog.Logger,
) *SettlementWorker {
	if gatewayTimeout <= 0 {
		gatewayTimeout = defaultGatewayTimeout
	}
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SettlementWorker{
		orders:         orders,
		payments:       payments,
		gateway:        gateway,
		gatewayTimeout: gatewayTimeout,
		storeTimeout:   storeTimeout,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID:          uuid.NewString,
	}
}

// Settle drives orderID from PENDING to PAID or FAILED. The snapshot is the
// order as seen in the notification; the stored record is authoritative.
//
// A nil error comes with one of the four outcomes. Errors are retryable:
// the order is left PENDING and a later notification or sweep picks it up.
func (w *SettlementWorker) Settle(ctx context.Context, orderID string, snapshot domain.Order) (Outcome, error) {
	logger := w.logger.With("order_id", orderID)

	current, err := w.read(ctx, orderID)
	if err != nil {
		return "", err
	}
	if current.Status != domain.OrderStatusPending {
		logger.Debug("order already settled", "status", current.Status)
		return OutcomeAlreadySettled, nil
	}
	if snapshot.ID != "" && snapshot.TotalPrice != current.TotalPrice {
		logger.Warn("notification snapshot is stale", "snapshot_total", snapshot.TotalPrice, "stored_total", current.TotalPrice)
	}

	receipt, err := w.charge(ctx, current)
	if err != nil {
		logger.Warn("charge failed, order stays pending", "error", err)
		return "", err
	}

	payment := domain.Payment{
		ID:        w.newID(),
		OrderID:   orderID,
		Amount:    current.TotalPrice,
		Currency:  receipt.Currency,
		Method:    receipt.Method,
		Status:    domain.PaymentStatusSuccess,
		CreatedAt: w.now(),
	}
	if !receipt.Approved {
		payment.Status = domain.PaymentStatusFailure
	}

	if err := w.createPayment(ctx, payment); err != nil {
		return "", err
	}

	outcome, err := w.writeBack(ctx, orderID, payment)
	if err != nil {
		return "", err
	}

	logger.Info("order settled", "outcome", outcome, "payment_id", payment.ID, "amount", payment.Amount)
	return outcome, nil
}

func (w *SettlementWorker) read(ctx context.Context, orderID string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, w.storeTimeout)
	defer cancel()

	o, err := w.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("read order %s: %w", orderID, classifyStoreErr(err))
	}
	return o, nil
}

func (w *SettlementWorker) charge(ctx context.Context, o domain.Order) (domain.ChargeReceipt, error) {
	chargeCtx, cancel := context.WithTimeout(ctx, w.gatewayTimeout)
	defer cancel()

	receipt, err := w.gateway.Charge(chargeCtx, domain.ChargeRequest{
		OrderID: o.ID,
		UserID:  o.UserID,
		Amount:  o.TotalPrice,
	})
	if err == nil {
		return receipt, nil
	}

	// The parent context ending is a shutdown, not a gateway problem.
	if ctx.Err() != nil {
		return domain.ChargeReceipt{}, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ChargeReceipt{}, fmt.Errorf("charge order %s after %s: %w", o.ID, w.gatewayTimeout, domain.ErrGatewayTimeout)
	}
	return domain.ChargeReceipt{}, fmt.Errorf("charge order %s: %w", o.ID, err)
}

func (w *SettlementWorker) createPayment(ctx context.Context, p domain.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, w.storeTimeout)
	defer cancel()

	if err := w.payments.CreatePayment(ctx, p); err != nil {
		return fmt.Errorf("record payment for %s: %w", p.OrderID, classifyStoreErr(err))
	}
	return nil
}

func (w *SettlementWorker) writeBack(ctx context.Context, orderID string, p domain.Payment) (Outcome, error) {
	status := domain.OrderStatusPaid
	paymentID := p.ID
	outcome := OutcomeSettled
	if p.Status == domain.PaymentStatusFailure {
		status = domain.OrderStatusFailed
		paymentID = ""
		outcome = OutcomeFailed
	}

	updateCtx, cancel := context.WithTimeout(ctx, w.storeTimeout)
	defer cancel()

	err := w.orders.Update(updateCtx, orderID, domain.OrderPatch{
		Status:       &status,
		PaymentID:    &paymentID,
		UpdatedAt:    w.now(),
		ExpectStatus: domain.OrderStatusPending,
	})
	switch {
	case err == nil:
		return outcome, nil
	case errors.Is(err, domain.ErrConflict):
		w.discardPayment(ctx, p)
		w.logger.Info("duplicate settlement discarded", "order_id", orderID, "payment_id", p.ID)
		return OutcomeDuplicate, nil
	default:
		// the write may have committed before the error surfaced
		if w.landed(ctx, p, status, paymentID) {
			w.logger.Warn("order update reported an error but committed", "order_id", orderID, "payment_id", p.ID, "error", err)
			return outcome, nil
		}
		return "", fmt.Errorf("settle order %s: %w", orderID, classifyStoreErr(err))
	}
}

// landed re-reads the order after a failed update. The payment is discarded
// only when the order is known not to reference it; if the re-read fails too
// the payment stays and is logged as a possible orphan.
func (w *SettlementWorker) landed(ctx context.Context, p domain.Payment, status domain.OrderStatus, paymentID string) bool {
	readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.storeTimeout)
	defer cancel()

	current, err := w.orders.Get(readCtx, p.OrderID)
	if err != nil {
		w.logger.Warn("possible orphan payment, order state unknown", "order_id", p.OrderID, "payment_id", p.ID, "error", err)
		return false
	}
	if current.Status == status && current.PaymentID == paymentID {
		return true
	}
	w.discardPayment(ctx, p)
	return false
}

// discardPayment removes a payment whose order update did not go through.
// A leftover record is logged; it never references an order's paymentId.
func (w *SettlementWorker) discardPayment(ctx context.Context, p domain.Payment) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.storeTimeout)
	defer cancel()

	if err := w.payments.DeletePayment(ctx, p.ID); err != nil {
		w.logger.Warn("orphan payment left behind", "order_id", p.OrderID, "payment_id", p.ID, "error", err)
	}
}

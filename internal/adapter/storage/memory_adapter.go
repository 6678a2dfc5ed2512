package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/yassinshaher1/CCB/internal/core/domain"
	"github.com/yassinshaher1/CCB/internal/port"
)

const subscriberBuffer = 256

type subscriber struct {
	events chan domain.ChangeEvent
	done   chan struct{}
}

// MemoryStore keeps orders and payments in process memory and pushes a change
// event to every subscriber after each successful write.
type MemoryStore struct {
	mu       sync.RWMutex
	orders   map[string]domain.Order
	payments map[string]domain.Payment

	subMu  sync.Mutex
	subs   map[int]*subscriber
	nextID int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]domain.Order),
		payments: make(map[string]domain.Payment),
		subs:     make(map[int]*subscriber),
	}
}

func (m *MemoryStore) Insert(ctx context.Context, order domain.Order) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if order.ID == "" {
		return "", fmt.Errorf("%w: order id is required", domain.ErrValidation)
	}
	if order.Items == nil {
		order.Items = []json.RawMessage{}
	}

	m.mu.Lock()
	if _, exists := m.orders[order.ID]; exists {
		m.mu.Unlock()
		return "", fmt.Errorf("insert order %s: duplicate id", order.ID)
	}
	stored := order.Clone()
	m.orders[order.ID] = stored
	m.mu.Unlock()

	m.notify(domain.NewChangeEvent(domain.ChangeCreated, stored.Clone()))
	return order.ID, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return o.Clone(), nil
}

func (m *MemoryStore) GetAll(ctx context.Context) (map[string]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make(map[string]domain.Order, len(m.orders))
	for id, o := range m.orders {
		all[id] = o.Clone()
	}
	return all, nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, identity string) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	var orders []domain.Order
	for _, o := range m.orders {
		if o.BelongsTo(identity) {
			orders = append(orders, o.Clone())
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(orders, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return orders, nil
}

func (m *MemoryStore) ListPending(ctx context.Context, updatedBefore time.Time, after domain.PendingCursor, limit int) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	var orders []domain.Order
	for _, o := range m.orders {
		if o.Status == domain.OrderStatusPending && o.UpdatedAt.Before(updatedBefore) && after.After(o) {
			orders = append(orders, o.Clone())
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(orders, func(a, b domain.Order) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, patch domain.OrderPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if patch.UpdatedAt.IsZero() {
		patch.UpdatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	current, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	if patch.ExpectStatus != "" && current.Status != patch.ExpectStatus {
		m.mu.Unlock()
		return fmt.Errorf("order %s is %s, expected %s: %w", id, current.Status, patch.ExpectStatus, domain.ErrConflict)
	}
	updated := patch.Apply(current)
	m.orders[id] = updated
	m.mu.Unlock()

	m.notify(domain.NewChangeEvent(domain.ChangeUpdated, updated.Clone()))
	return nil
}

func (m *MemoryStore) CreatePayment(ctx context.Context, payment domain.Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.payments[payment.ID]; exists {
		return fmt.Errorf("insert payment %s: duplicate id", payment.ID)
	}
	m.payments[payment.ID] = payment
	return nil
}

func (m *MemoryStore) DeletePayment(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.payments[id]; !ok {
		return fmt.Errorf("payment %s: %w", id, domain.ErrNotFound)
	}
	delete(m.payments, id)
	return nil
}

func (m *MemoryStore) ListPaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	var payments []domain.Payment
	for _, p := range m.payments {
		if p.OrderID == orderID {
			payments = append(payments, p)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(payments, func(a, b domain.Payment) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return payments, nil
}

// Subscribe delivers every change made after the call until ctx is done.
func (m *MemoryStore) Subscribe(ctx context.Context, handler port.ChangeHandler) error {
	sub := &subscriber{
		events: make(chan domain.ChangeEvent, subscriberBuffer),
		done:   make(chan struct{}),
	}

	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = sub
	m.subMu.Unlock()

	defer func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
		close(sub.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-sub.events:
			handler(ctx, ev)
		}
	}
}

// Publish injects an event as if the store had produced it. Used to replay
// notifications, e.g. redelivery after a reconnect.
func (m *MemoryStore) Publish(_ context.Context, event domain.ChangeEvent) error {
	m.notify(event)
	return nil
}

// notify runs outside m.mu so a slow subscriber never blocks writers holding the lock.
func (m *MemoryStore) notify(ev domain.ChangeEvent) {
	m.subMu.Lock()
	subs := make([]*subscriber, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.subMu.Unlock()

	for _, s := range subs {
		select {
		case s.events <- ev:
		case <-s.done:
		}
	}
}

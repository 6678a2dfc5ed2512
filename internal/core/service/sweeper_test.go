package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yassinshaher1/CCB/internal/adapter/storage"
	"github.com/yassinshaher1/CCB/internal/core/domain"
)

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, o domain.Order) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, o.ID)
	return true
}

func (d *recordingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

func insertAt(t *testing.T, store *storage.MemoryStore, id string, status domain.OrderStatus, updatedAt time.Time) {
	t.Helper()
	_, err := store.Insert(context.Background(), domain.Order{
		ID:        id,
		UserID:    "user-1",
		Status:    status,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	})
	require.NoError(t, err)
}

func TestSweepOnce_DispatchesOnlyStalePending(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	insertAt(t, store, "stale-pending", domain.OrderStatusPending, now.Add(-10*time.Minute))
	insertAt(t, store, "older-pending", domain.OrderStatusPending, now.Add(-20*time.Minute))
	insertAt(t, store, "fresh-pending", domain.OrderStatusPending, now.Add(-10*time.Second))
	insertAt(t, store, "stale-paid", domain.OrderStatusPaid, now.Add(-10*time.Minute))

	d := &recordingDispatcher{}
	s := NewSweeper(store, d, SweeperConfig{StaleAfter: time.Minute}, nil)
	s.now = func() time.Time { return now }

	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"older-pending", "stale-pending"}, d.dispatched())
}

func TestSweepOnce_RespectsBatchSize(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Now().UTC()
	for _, id := range []string{"a", "b", "c"} {
		insertAt(t, store, id, domain.OrderStatusPending, now.Add(-time.Hour))
	}

	d := &recordingDispatcher{}
	s := NewSweeper(store, d, SweeperConfig{StaleAfter: time.Minute, BatchSize: 2}, nil)

	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSweepOnce_RotatesPastStuckOrders(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		insertAt(t, store, id, domain.OrderStatusPending, now.Add(-time.Hour+time.Duration(i)*time.Second))
	}

	// nothing settles, as when the gateway keeps failing
	d := &recordingDispatcher{}
	s := NewSweeper(store, d, SweeperConfig{StaleAfter: time.Minute, BatchSize: 2}, nil)
	s.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		_, err := s.SweepOnce(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "a", "b"}, d.dispatched())
}

func TestSweepOnce_WrapsAfterFullLastPage(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b"} {
		insertAt(t, store, id, domain.OrderStatusPending, now.Add(-time.Hour))
	}

	d := &recordingDispatcher{}
	s := NewSweeper(store, d, SweeperConfig{StaleAfter: time.Minute, BatchSize: 2}, nil)
	s.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		n, err := s.SweepOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	}
	assert.Equal(t, []string{"a", "b", "a", "b"}, d.dispatched())
}

func TestSweepOnce_StoreError(t *testing.T) {
	d := &recordingDispatcher{}
	s := NewSweeper(&unavailableRepo{err: errors.New("db down")}, d, SweeperConfig{}, nil)

	_, err := s.SweepOnce(context.Background())
	require.Error(t, err)
	assert.Empty(t, d.dispatched())
}

func TestSweeper_RunSettlesLostOrder(t *testing.T) {
	store := storage.NewMemoryStore()
	insertAt(t, store, "lost", domain.OrderStatusPending, time.Now().UTC().Add(-time.Hour))

	worker := newTestWorker(store, &mockGateway{}, time.Second)
	l := NewSettlementListener(store, storage.NewMemoryClaims(), worker, ListenerConfig{}, nil)
	s := NewSweeper(store, l, SweeperConfig{Interval: 10 * time.Millisecond, StaleAfter: time.Minute}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		o, err := store.Get(context.Background(), "lost")
		return err == nil && o.Status == domain.OrderStatusPaid
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	l.Wait()
}

func TestSweeper_RecoversOrderAbandonedMidSettlement(t *testing.T) {
	store := storage.NewMemoryStore()
	claims := storage.NewMemoryClaims()
	insertAt(t, store, "abandoned", domain.OrderStatusPending, time.Now().UTC().Add(-time.Hour))
	o, err := store.Get(context.Background(), "abandoned")
	require.NoError(t, err)

	// the event was consumed, but the process stops while the charge is in flight
	stuck := &mockGateway{delay: time.Hour}
	first := NewSettlementListener(store, claims, newTestWorker(store, stuck, 2*time.Hour), ListenerConfig{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, first.Dispatch(ctx, o))
	require.Eventually(t, func() bool { return stuck.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	first.Wait()

	got, err := store.Get(context.Background(), "abandoned")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, got.Status)

	second := NewSettlementListener(store, claims, newTestWorker(store, &mockGateway{}, time.Second), ListenerConfig{}, nil)
	s := NewSweeper(store, second, SweeperConfig{StaleAfter: time.Minute}, nil)

	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	second.Wait()

	got, err = store.Get(context.Background(), "abandoned")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, got.Status)
}

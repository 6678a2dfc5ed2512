package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yassinshaher1/CCB/internal/adapter/storage"
	"github.com/yassinshaher1/CCB/internal/core/domain"
	"github.com/yassinshaher1/CCB/internal/port"
)

// Mock OrderRepository that fails every call
type unavailableRepo struct {
	port.OrderRepository
	err error
}

func (r *unavailableRepo) Insert(context.Context, domain.Order) (string, error) { return "", r.err }
func (r *unavailableRepo) Get(context.Context, string) (domain.Order, error) {
	return domain.Order{}, r.err
}
func (r *unavailableRepo) GetAll(context.Context) (map[string]domain.Order, error) {
	return nil, r.err
}
func (r *unavailableRepo) ListByUser(context.Context, string) ([]domain.Order, error) {
	return nil, r.err
}
func (r *unavailableRepo) ListPending(context.Context, time.Time, domain.PendingCursor, int) ([]domain.Order, error) {
	return nil, r.err
}

// fakeClock hands out strictly increasing timestamps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *fakeClock) Fixed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func newTestOrderService(repo port.OrderRepository) *OrderService {
	return NewOrderService(repo, nil, time.Second, nil)
}

func TestSubmit_Success(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newTestOrderService(store)

	id, err := svc.Submit(context.Background(), SubmitRequest{
		UserID:     "  user-1 ",
		Items:      []json.RawMessage{json.RawMessage(`{"productId":"p-1","quantity":2}`)},
		TotalPrice: 42.5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	o, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "user-1", o.UserID)
	assert.Equal(t, domain.OrderStatusPending, o.Status)
	assert.Empty(t, o.PaymentID)
	assert.Equal(t, 42.5, o.TotalPrice)
	assert.Len(t, o.Items, 1)
	assert.True(t, o.CreatedAt.Equal(o.UpdatedAt))
	assert.Equal(t, time.UTC, o.CreatedAt.Location())
}

func TestSubmit_MissingItemsBecomeEmpty(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newTestOrderService(store)

	id, err := svc.Submit(context.Background(), SubmitRequest{UserID: "user-1"})
	require.NoError(t, err)

	o, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.NotNil(t, o.Items)
	assert.Empty(t, o.Items)
	assert.Zero(t, o.TotalPrice)
}

func TestSubmit_Validation(t *testing.T) {
	neg := -1.0

	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{name: "missing_user", req: SubmitRequest{TotalPrice: 10}},
		{name: "blank_user", req: SubmitRequest{UserID: "   ", TotalPrice: 10}},
		{name: "negative_total", req: SubmitRequest{UserID: "u", TotalPrice: -0.01}},
		{name: "nan_total", req: SubmitRequest{UserID: "u", TotalPrice: math.NaN()}},
		{name: "infinite_total", req: SubmitRequest{UserID: "u", TotalPrice: math.Inf(1)}},
		{name: "negative_tax", req: SubmitRequest{UserID: "u", TotalPrice: 1, Tax: &neg}},
		{name: "negative_shipping", req: SubmitRequest{UserID: "u", TotalPrice: 1, Shipping: &neg}},
		{name: "invalid_item", req: SubmitRequest{UserID: "u", Items: []json.RawMessage{json.RawMessage(`{`)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			svc := newTestOrderService(store)

			_, err := svc.Submit(context.Background(), tt.req)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}

			all, err := store.GetAll(context.Background())
			require.NoError(t, err)
			assert.Empty(t, all, "invalid submission must not be stored")
		})
	}
}

func TestSubmit_StoreUnavailable(t *testing.T) {
	svc := newTestOrderService(&unavailableRepo{err: errors.New("connection refused")})

	_, err := svc.Submit(context.Background(), SubmitRequest{UserID: "u", TotalPrice: 1})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	assert.True(t, domain.Retryable(err))
}

func TestSubmit_RoundTrip(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newTestOrderService(store)
	sub, ship, tax := 40.0, 5.0, 3.2

	req := SubmitRequest{
		UserID:        "user-7",
		CustomerEmail: "seven@example.com",
		Items: []json.RawMessage{
			json.RawMessage(`{"id":"p-1","qty":1}`),
			json.RawMessage(`"gift-wrap"`),
		},
		TotalPrice: 48.2,
		Subtotal:   &sub,
		Shipping:   &ship,
		Tax:        &tax,
	}
	id, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)

	o, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, o.ID)
	assert.Equal(t, req.CustomerEmail, o.CustomerEmail)
	assert.Equal(t, req.Items, o.Items)
	assert.Equal(t, req.TotalPrice, o.TotalPrice)
	require.NotNil(t, o.Tax)
	assert.Equal(t, tax, *o.Tax)
	assert.Equal(t, domain.OrderStatusPending, o.Status)
}

func TestGet_NotFound(t *testing.T) {
	svc := newTestOrderService(storage.NewMemoryStore())

	_, err := svc.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, err = svc.Get(context.Background(), "")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty id, got %v", err)
	}
}

func TestListByUser_NewestFirst(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newTestOrderService(store)
	clock := newFakeClock()
	svc.now = clock.Now

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := svc.Submit(context.Background(), SubmitRequest{UserID: "user-1", TotalPrice: float64(i)})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := svc.Submit(context.Background(), SubmitRequest{UserID: "user-2", TotalPrice: 9})
	require.NoError(t, err)

	orders, err := svc.ListByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, ids[2], orders[0].ID)
	assert.Equal(t, ids[1], orders[1].ID)
	assert.Equal(t, ids[0], orders[2].ID)
}

func TestListByUser_TiesBrokenByID(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newTestOrderService(store)
	clock := newFakeClock()
	svc.now = clock.Fixed

	seq := 0
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("order-%02d", seq)
	}

	for i := 0; i < 3; i++ {
		_, err := svc.Submit(context.Background(), SubmitRequest{UserID: "user-1"})
		require.NoError(t, err)
	}

	orders, err := svc.ListByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, []string{"order-03", "order-02", "order-01"}, []string{orders[0].ID, orders[1].ID, orders[2].ID})
}

func TestListByUser_MatchesEmailAlias(t *testing.T) {
	svc := newTestOrderService(storage.NewMemoryStore())

	_, err := svc.Submit(context.Background(), SubmitRequest{UserID: "user-1", CustomerEmail: "a@example.com"})
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), SubmitRequest{UserID: "user-2", CustomerEmail: "b@example.com"})
	require.NoError(t, err)

	orders, err := svc.ListByUser(context.Background(), "a@example.com")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "user-1", orders[0].UserID)
}

func TestListByUser_UnknownIdentity(t *testing.T) {
	svc := newTestOrderService(storage.NewMemoryStore())

	orders, err := svc.ListByUser(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, orders)
	assert.Empty(t, orders)
}

func TestListByUser_StoreUnavailable(t *testing.T) {
	svc := newTestOrderService(&unavailableRepo{err: errors.New("timeout")})

	orders, err := svc.ListByUser(context.Background(), "user-1")
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	assert.NotNil(t, orders)
	assert.Empty(t, orders)

	all, err := svc.ListAll(context.Background())
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from ListAll, got %v", err)
	}
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestListAll(t *testing.T) {
	svc := newTestOrderService(storage.NewMemoryStore())
	clock := newFakeClock()
	svc.now = clock.Now

	first, err := svc.Submit(context.Background(), SubmitRequest{UserID: "user-1"})
	require.NoError(t, err)
	second, err := svc.Submit(context.Background(), SubmitRequest{UserID: "user-2"})
	require.NoError(t, err)

	orders, err := svc.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second, orders[0].ID)
	assert.Equal(t, first, orders[1].ID)
}

func TestDescribe_ResolvesProducts(t *testing.T) {
	store := storage.NewMemoryStore()
	catalog := storage.NewMemoryCatalog(domain.Product{ID: "p-1", Name: "Keyboard", Price: 30, Stock: 3})
	svc := NewOrderService(store, catalog, time.Second, nil)

	id, err := svc.Submit(context.Background(), SubmitRequest{
		UserID: "user-1",
		Items: []json.RawMessage{
			json.RawMessage(`{"productId":"p-1"}`),
			json.RawMessage(`{"productId":"p-unknown"}`),
			json.RawMessage(`17`),
		},
		TotalPrice: 30,
	})
	require.NoError(t, err)

	detail, err := svc.Describe(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, detail.Order.ID)
	require.Len(t, detail.Products, 1)
	assert.Equal(t, "Keyboard", detail.Products["p-1"].Name)
}

func TestDescribe_WithoutCatalog(t *testing.T) {
	svc := newTestOrderService(storage.NewMemoryStore())

	id, err := svc.Submit(context.Background(), SubmitRequest{UserID: "user-1"})
	require.NoError(t, err)

	detail, err := svc.Describe(context.Background(), id)
	require.NoError(t, err)
	assert.NotNil(t, detail.Products)
	assert.Empty(t, detail.Products)
}

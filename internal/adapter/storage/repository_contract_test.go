package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yassinshaher1/CCB/internal/core/domain"
	"github.com/yassinshaher1/CCB/internal/port"
)

type orderStore interface {
	port.OrderRepository
	port.PaymentRepository
}

var contractEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func contractOrder(user string, offset time.Duration) domain.Order {
	ts := contractEpoch.Add(offset)
	return domain.Order{
		ID:         uuid.NewString(),
		UserID:     user,
		Items:      []json.RawMessage{json.RawMessage(`{"productId":"p-1","quantity":1}`)},
		TotalPrice: 19.99,
		Status:     domain.OrderStatusPending,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
}

// runRepositoryContract checks the behavior every order store must share.
func runRepositoryContract(t *testing.T, newStore func(t *testing.T) orderStore) {
	t.Run("insert_get_round_trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tax := 1.5
		o := contractOrder("user-"+uuid.NewString(), 0)
		o.CustomerEmail = "buyer@example.com"
		o.Tax = &tax

		id, err := s.Insert(ctx, o)
		require.NoError(t, err)
		assert.Equal(t, o.ID, id)

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, o.UserID, got.UserID)
		assert.Equal(t, o.CustomerEmail, got.CustomerEmail)
		assert.JSONEq(t, string(o.Items[0]), string(got.Items[0]))
		assert.Equal(t, o.TotalPrice, got.TotalPrice)
		require.NotNil(t, got.Tax)
		assert.Equal(t, tax, *got.Tax)
		assert.Nil(t, got.Subtotal)
		assert.Equal(t, domain.OrderStatusPending, got.Status)
		assert.Empty(t, got.PaymentID)
		assert.True(t, o.CreatedAt.Equal(got.CreatedAt))
		assert.True(t, o.UpdatedAt.Equal(got.UpdatedAt))
	})

	t.Run("get_not_found", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Get(context.Background(), "missing-"+uuid.NewString())
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("list_by_user_newest_first", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user := "user-" + uuid.NewString()

		older := contractOrder(user, 0)
		newer := contractOrder(user, time.Minute)
		aliased := contractOrder("someone-else", 2*time.Minute)
		aliased.CustomerEmail = user
		other := contractOrder("user-"+uuid.NewString(), 3*time.Minute)

		for _, o := range []domain.Order{older, newer, aliased, other} {
			_, err := s.Insert(ctx, o)
			require.NoError(t, err)
		}

		orders, err := s.ListByUser(ctx, user)
		require.NoError(t, err)
		require.Len(t, orders, 3)
		assert.Equal(t, aliased.ID, orders[0].ID)
		assert.Equal(t, newer.ID, orders[1].ID)
		assert.Equal(t, older.ID, orders[2].ID)
	})

	t.Run("conditional_update", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		o := contractOrder("user-"+uuid.NewString(), 0)
		_, err := s.Insert(ctx, o)
		require.NoError(t, err)

		paid := domain.OrderStatusPaid
		paymentID := "pay-1"
		patch := domain.OrderPatch{
			Status:       &paid,
			PaymentID:    &paymentID,
			UpdatedAt:    contractEpoch.Add(time.Hour),
			ExpectStatus: domain.OrderStatusPending,
		}
		require.NoError(t, s.Update(ctx, o.ID, patch))

		got, err := s.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusPaid, got.Status)
		assert.Equal(t, "pay-1", got.PaymentID)
		assert.True(t, got.UpdatedAt.Equal(patch.UpdatedAt))

		err = s.Update(ctx, o.ID, patch)
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict on second update, got %v", err)
		}

		err = s.Update(ctx, "missing-"+uuid.NewString(), patch)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("concurrent_conditional_update_single_winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		o := contractOrder("user-"+uuid.NewString(), 0)
		_, err := s.Insert(ctx, o)
		require.NoError(t, err)

		var wins, conflicts atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				paid := domain.OrderStatusPaid
				paymentID := fmt.Sprintf("pay-%d", i)
				err := s.Update(ctx, o.ID, domain.OrderPatch{
					Status:       &paid,
					PaymentID:    &paymentID,
					ExpectStatus: domain.OrderStatusPending,
				})
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, domain.ErrConflict):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.EqualValues(t, 1, wins.Load())
		assert.EqualValues(t, 9, conflicts.Load())
	})

	t.Run("list_pending_stale_only", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user := "user-" + uuid.NewString()

		stale := contractOrder(user, -time.Hour)
		fresh := contractOrder(user, time.Hour)
		settled := contractOrder(user, -time.Hour)
		settled.Status = domain.OrderStatusFailed
		for _, o := range []domain.Order{stale, fresh, settled} {
			_, err := s.Insert(ctx, o)
			require.NoError(t, err)
		}

		pending, err := s.ListPending(ctx, contractEpoch, domain.PendingCursor{}, 0)
		require.NoError(t, err)

		ids := make(map[string]bool)
		for _, o := range pending {
			ids[o.ID] = true
			assert.Equal(t, domain.OrderStatusPending, o.Status)
		}
		assert.True(t, ids[stale.ID])
		assert.False(t, ids[fresh.ID])
		assert.False(t, ids[settled.ID])
	})

	t.Run("list_pending_resumes_after_cursor", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user := "user-" + uuid.NewString()

		tiedA := contractOrder(user, -2*time.Hour)
		tiedB := contractOrder(user, -2*time.Hour)
		if tiedB.ID < tiedA.ID {
			tiedA, tiedB = tiedB, tiedA
		}
		later := contractOrder(user, -time.Hour)
		for _, o := range []domain.Order{later, tiedB, tiedA} {
			_, err := s.Insert(ctx, o)
			require.NoError(t, err)
		}

		page, err := s.ListPending(ctx, contractEpoch, domain.CursorOf(tiedA), 0)
		require.NoError(t, err)

		var mine []string
		for i, o := range page {
			if i > 0 {
				prev := page[i-1]
				assert.False(t, o.UpdatedAt.Before(prev.UpdatedAt), "pages are ordered by updatedAt")
			}
			if o.UserID == user {
				mine = append(mine, o.ID)
			}
		}
		assert.Equal(t, []string{tiedB.ID, later.ID}, mine)
	})

	t.Run("payments", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		orderID := uuid.NewString()

		first := domain.Payment{ID: uuid.NewString(), OrderID: orderID, Amount: 10, Currency: "USD", Method: "card", Status: domain.PaymentStatusSuccess, CreatedAt: contractEpoch}
		second := domain.Payment{ID: uuid.NewString(), OrderID: orderID, Amount: 10, Currency: "USD", Method: "card", Status: domain.PaymentStatusFailure, CreatedAt: contractEpoch.Add(time.Second)}
		require.NoError(t, s.CreatePayment(ctx, first))
		require.NoError(t, s.CreatePayment(ctx, second))

		payments, err := s.ListPaymentsByOrder(ctx, orderID)
		require.NoError(t, err)
		require.Len(t, payments, 2)
		assert.Equal(t, first.ID, payments[0].ID)
		assert.Equal(t, domain.PaymentStatusFailure, payments[1].Status)
		assert.True(t, first.CreatedAt.Equal(payments[0].CreatedAt))

		require.NoError(t, s.DeletePayment(ctx, second.ID))
		payments, err = s.ListPaymentsByOrder(ctx, orderID)
		require.NoError(t, err)
		assert.Len(t, payments, 1)

		err = s.DeletePayment(ctx, second.ID)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
		}
	})
}

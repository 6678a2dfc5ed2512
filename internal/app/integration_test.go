package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yassinshaher1/CCB/internal/adapter/storage"
	"github.com/yassinshaher1/CCB/internal/config"
	"github.com/yassinshaher1/CCB/internal/core/domain"
	"github.com/yassinshaher1/CCB/internal/core/service"
)

type testEnv struct {
	app    *App
	redis  *redis.Client
	stream *storage.RedisStream
	cancel context.CancelFunc
	done   chan error
}

// setupTestEnv starts the full MySQL + Redis stack with a settlement
// listener on a private stream, or skips when either store is down.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/orders"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig(config.StoreMySQL, mysqlDSN, config.FeedPoll)
	cfg.RedisAddr = redisAddr
	cfg.GatewayDelay = 20 * time.Millisecond

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(context.Background(), cfg, logger)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	// a private stream keeps parallel runs from consuming each other's events
	name := "orders:changes:test:" + uuid.NewString()
	stream := storage.NewRedisStream(rdb, name, "settlement", logger)
	t.Cleanup(func() { rdb.Del(context.Background(), name) })

	a.Orders = storage.NewPublishingRepository(a.Orders, stream, logger)
	a.OrderService = service.NewOrderService(a.Orders, a.Catalog, cfg.StoreTimeout, logger)
	a.Worker = service.NewSettlementWorker(a.Orders, a.Payments, a.Gateway, cfg.GatewayTimeout, cfg.StoreTimeout, logger)
	a.Listener = service.NewSettlementListener(stream, a.Claims, a.Worker, service.ListenerConfig{
		MaxWorkers: cfg.SettlementWorkers,
		ClaimTTL:   cfg.ClaimTTL,
	}, logger)
	a.Sweeper = service.NewSweeper(a.Orders, a.Listener, service.SweeperConfig{Interval: time.Hour}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	env := &testEnv{app: a, redis: rdb, stream: stream, cancel: cancel, done: make(chan error, 1)}
	go func() { env.done <- a.RunSettlement(ctx) }()
	t.Cleanup(env.stop)

	return env
}

func (e *testEnv) stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel = nil
}

func (e *testEnv) waitSettled(t *testing.T, ids ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, id := range ids {
			o, err := e.app.Orders.Get(context.Background(), id)
			if err != nil || !o.Status.Terminal() {
				return false
			}
		}
		return true
	}, 15*time.Second, 50*time.Millisecond)
}

func TestIntegration_FullSettlementFlow(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	user := "integration-" + uuid.NewString()

	totalRequests := 20
	ids := make([]string, totalRequests)
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := env.app.OrderService.Submit(ctx, service.SubmitRequest{UserID: user, TotalPrice: float64(i) + 1})
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	env.waitSettled(t, ids...)

	orders, err := env.app.OrderService.ListByUser(ctx, user)
	require.NoError(t, err)
	assert.Len(t, orders, totalRequests)

	for _, o := range orders {
		assert.Equal(t, domain.OrderStatusPaid, o.Status, "order %s", o.ID)
		payments, err := env.app.Payments.ListPaymentsByOrder(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, payments, 1, "order %s", o.ID)
		assert.Equal(t, o.PaymentID, payments[0].ID)
		assert.Equal(t, o.TotalPrice, payments[0].Amount)
	}
}

func TestIntegration_DuplicateEventsChargeOnce(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	id, err := env.app.OrderService.Submit(ctx, service.SubmitRequest{UserID: "dup-" + uuid.NewString(), TotalPrice: 42})
	require.NoError(t, err)

	o, err := env.app.Orders.Get(ctx, id)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, env.stream.Publish(ctx, domain.NewChangeEvent(domain.ChangeCreated, o)))
	}

	env.waitSettled(t, id)
	// give late duplicates a chance to run
	time.Sleep(200 * time.Millisecond)
	env.stop()

	payments, err := env.app.Payments.ListPaymentsByOrder(ctx, id)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
	assert.EqualValues(t, 1, env.app.Gateway.Calls())
}

func TestIntegration_ClaimHeldElsewhereSkipsOrder(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	// hold the claim before the order exists so the first event is skipped
	order := domain.Order{
		ID:         uuid.NewString(),
		UserID:     "claimed-" + uuid.NewString(),
		TotalPrice: 7,
		Status:     domain.OrderStatusPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	claimed, err := env.app.Claims.Claim(ctx, order.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = env.app.Orders.Insert(ctx, order)
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)
	got, err := env.app.Orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, got.Status)

	require.NoError(t, env.app.Claims.Release(ctx, order.ID))
	require.NoError(t, env.stream.Publish(ctx, domain.NewChangeEvent(domain.ChangeUpdated, got)))
	env.waitSettled(t, order.ID)

	payments, err := env.app.Payments.ListPaymentsByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

// Package app wires configuration into stores, services and transports.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/yassinshaher1/CCB/internal/adapter/gateway"
	"github.com/yassinshaher1/CCB/internal/adapter/handler"
	"github.com/yassinshaher1/CCB/internal/adapter/identity"
	"github.com/yassinshaher1/CCB/internal/adapter/storage"
	"github.com/yassinshaher1/CCB/internal/config"
	"github.com/yassinshaher1/CCB/internal/core/service"
	"github.com/yassinshaher1/CCB/internal/port"
)

type App struct {
	Config *config.Config
	Logger *slog.Logger

	Orders   port.OrderRepository
	Payments port.PaymentRepository
	Feed     port.ChangeFeed
	Claims   port.ClaimRepository
	Catalog  port.CatalogRepository
	Auth     port.Authenticator
	Gateway  *gateway.SimulatedGateway

	OrderService *service.OrderService
	Worker       *service.SettlementWorker
	Listener     *service.SettlementListener
	Sweeper      *service.Sweeper

	closers []func() error
}

// New connects to the configured stores and builds every component. A
// store that cannot be reached is a fatal error; nothing is left open.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	if err := a.initStores(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	if cfg.JWTSecret != "" {
		a.Auth = identity.NewJWTAuthenticator(cfg.JWTSecret)
	}
	a.Gateway = gateway.NewSimulated(cfg.GatewayDelay, nil)

	a.OrderService = service.NewOrderService(a.Orders, a.Catalog, cfg.StoreTimeout, logger.With("component", "order_service"))
	a.Worker = service.NewSettlementWorker(a.Orders, a.Payments, a.Gateway, cfg.GatewayTimeout, cfg.StoreTimeout,
		logger.With("component", "settlement_worker"))
	a.Listener = service.NewSettlementListener(a.Feed, a.Claims, a.Worker, service.ListenerConfig{
		MaxWorkers: cfg.SettlementWorkers,
		ClaimTTL:   cfg.ClaimTTL,
	}, logger.With("component", "settlement_listener"))
	a.Sweeper = service.NewSweeper(a.Orders, a.Listener, service.SweeperConfig{
		Interval:   cfg.SweepInterval,
		StaleAfter: cfg.SweepStaleAfter,
	}, logger.With("component", "sweeper"))

	return a, nil
}

func (a *App) initStores(ctx context.Context) error {
	cfg := a.Config

	var memory *storage.MemoryStore
	switch cfg.StoreDriver {
	case config.StoreMemory:
		memory = storage.NewMemoryStore()
		a.Orders, a.Payments = memory, memory
		a.Logger.Info("using in-memory order store")
	default:
		dialect, err := storage.ParseDialect(cfg.StoreDriver)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		defer cancel()

		db, err := storage.OpenDB(pingCtx, dialect, cfg.StoreDSN)
		if err != nil {
			return fmt.Errorf("order store: %w", err)
		}
		a.closers = append(a.closers, db.Close)

		if err := storage.InitSchema(pingCtx, db, dialect); err != nil {
			return fmt.Errorf("order store: %w", err)
		}
		adapter := storage.NewSQLAdapter(db, dialect)
		a.Orders, a.Payments = adapter, adapter
		a.Logger.Info("connected to order store", "driver", dialect)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		a.closers = append(a.closers, rdb.Close)

		pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}

		cache := storage.NewRedisAdapter(rdb)
		a.Claims, a.Catalog = cache, cache
		a.Logger.Info("connected to redis", "addr", cfg.RedisAddr)
	} else {
		a.Claims = storage.NewMemoryClaims()
		a.Catalog = storage.NewMemoryCatalog()
	}

	switch feed := cfg.Feed(); feed {
	case config.FeedMemory:
		if memory == nil {
			return errors.New("memory change feed requires the memory store")
		}
		a.Feed = memory
	case config.FeedRedis:
		if rdb == nil {
			return errors.New("redis change feed requires REDIS_ADDR")
		}
		stream := storage.NewRedisStream(rdb, "", "", a.Logger.With("component", "change_stream"))
		a.Orders = storage.NewPublishingRepository(a.Orders, stream, a.Logger)
		a.Feed = stream
	case config.FeedPoll:
		a.Feed = storage.NewPollingFeed(a.Orders, cfg.PollInterval, a.Logger.With("component", "polling_feed"))
	default:
		return fmt.Errorf("unknown change feed %q", feed)
	}

	return nil
}

// HTTPHandler returns the REST API, with bearer auth when a secret is configured.
func (a *App) HTTPHandler() *handler.HTTPHandler {
	return handler.NewHTTPHandler(a.OrderService, a.Auth, a.Logger)
}

func (a *App) GRPCHandler() *handler.GRPCHandler {
	return handler.NewGRPCHandler(a.OrderService, a.Logger)
}

// RunSettlement runs the listener and the pending sweeper until ctx is done.
func (a *App) RunSettlement(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Listener.Run(ctx) })
	g.Go(func() error { return a.Sweeper.Run(ctx) })

	err := g.Wait()
	a.Listener.Wait()
	return err
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

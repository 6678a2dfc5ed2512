// Command settlement runs the settlement listener and the pending sweeper
// against the shared order store, separate from the API server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/yassinshaher1/CCB/internal/app"
	"github.com/yassinshaher1/CCB/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("settlement stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return err
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("settlement listener started",
		"store", cfg.StoreDriver, "feed", cfg.Feed(), "workers", cfg.SettlementWorkers)

	if err := a.RunSettlement(ctx); err != nil {
		return err
	}
	logger.Info("workers stopped")
	return nil
}

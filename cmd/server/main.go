package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/yassinshaher1/CCB/internal/adapter/handler"
	"github.com/yassinshaher1/CCB/internal/app"
	"github.com/yassinshaher1/CCB/internal/config"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
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
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to close connections", "error", err)
		}
		logger.Info("connections closed")
	}()

	// Initialize gRPC server
	var opts []grpc.ServerOption
	if a.Auth != nil {
		opts = append(opts, grpc.UnaryInterceptor(handler.AuthUnaryInterceptor(a.Auth)))
	}
	grpcServer := grpc.NewServer(opts...)
	a.GRPCHandler().Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		return err
	}

	// Initialize HTTP server
	httpServer := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           a.HTTPHandler().Routes(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddress)
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", cfg.RunAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.EmbedSettlement {
		g.Go(func() error {
			logger.Info("settlement listener started", "workers", cfg.SettlementWorkers, "feed", cfg.Feed())
			return a.RunSettlement(gctx)
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		logger.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")
		return err
	})

	return g.Wait()
}

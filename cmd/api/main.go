package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xrfq/chain_ledger/internal/config"
	"github.com/xrfq/chain_ledger/internal/infra"
	"github.com/xrfq/chain_ledger/internal/logging"
	"github.com/xrfq/chain_ledger/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName, string(cfg.Region))

	ctx := context.Background()

	if cfg.RunMigrations {
		if err := infra.Migrate(cfg.DatabaseURL, logger); err != nil {
			logger.Error("run migrations", "error", err)
			os.Exit(1)
		}
	}

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, infra.PoolOptions{MaxConns: cfg.DBMaxConns})
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}()

	blocks, closeBlocks, err := infra.OpenBlockStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open block store", "backend", cfg.BlockStore, "error", err)
		os.Exit(1)
	}
	defer closeBlocks()

	srv, err := server.New(cfg, db, cache, blocks, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}

// Command replay re-writes blocks that were committed to the relational store but never reached
// the append-only store. It exits non-zero when any block is still pending afterwards.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xrfq/chain_ledger/internal/config"
	"github.com/xrfq/chain_ledger/internal/infra"
	"github.com/xrfq/chain_ledger/internal/ledger"
	"github.com/xrfq/chain_ledger/internal/logging"
	"github.com/xrfq/chain_ledger/internal/repair"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.AppName+"-replay", string(cfg.Region))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, infra.PoolOptions{MaxConns: 4})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	blocks, closeBlocks, err := infra.OpenBlockStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open block store: %w", err)
	}
	defer closeBlocks()

	report, err := repair.NewReplayer(ledger.NewPostgresStore(db), blocks, cfg.ReplayBatchSize, logger).Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("replay finished", "replayed", report.Replayed, "failed", len(report.Failed))
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d blocks still pending: %v", len(report.Failed), report.Failed)
	}
	return nil
}

// Package repair re-sends committed blocks that never reached the append-only store.
package repair

import (
	"context"
	"log/slog"

	"github.com/xrfq/chain_ledger/internal/chain"
)

// PendingSource lists and confirms blocks awaiting the append-only store.
type PendingSource interface {
	PendingBlocks(ctx context.Context, limit int) ([]chain.Block, error)
	MarkBlockPersisted(ctx context.Context, blockID string) error
}

// BlockWriter is the append-only store.
type BlockWriter interface {
	Write(ctx context.Context, block chain.Block) error
}

// Report summarizes one replay run.
type Report struct {
	Replayed int      `json:"replayed"`
	Failed   []string `json:"failed,omitempty"`
}

// Replayer drains pending blocks in batches.
type Replayer struct {
	source    PendingSource
	writer    BlockWriter
	batchSize int
	logger    *slog.Logger
}

// NewReplayer builds a replayer. A non-positive batch size defaults to 100.
func NewReplayer(source PendingSource, writer BlockWriter, batchSize int, logger *slog.Logger) *Replayer {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Replayer{source: source, writer: writer, batchSize: batchSize, logger: logger}
}

// Run replays until no pending block is left or a batch makes no progress. Blocks that still fail
// are reported and stay pending for the next run.
func (r *Replayer) Run(ctx context.Context) (Report, error) {
	var report Report
	skip := make(map[string]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		blocks, err := r.source.PendingBlocks(ctx, r.batchSize+len(skip))
		if err != nil {
			return report, err
		}

		progressed := false
		for _, b := range blocks {
			if _, failed := skip[b.ID]; failed {
				continue
			}
			if err := r.writer.Write(ctx, b); err != nil {
				r.logger.Error("block replay failed", slog.String("block_id", b.ID), slog.Any("error", err))
				skip[b.ID] = struct{}{}
				report.Failed = append(report.Failed, b.ID)
				continue
			}
			if err := r.source.MarkBlockPersisted(ctx, b.ID); err != nil {
				return report, err
			}
			r.logger.Info("block replayed", slog.String("block_id", b.ID), slog.String("chain_stamp_id", b.ChainStampID))
			report.Replayed++
			progressed = true
		}
		if !progressed {
			return report, nil
		}
	}
}

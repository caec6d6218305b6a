package infra

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xrfq/chain_ledger/internal/blockstore"
	"github.com/xrfq/chain_ledger/internal/config"
	"github.com/xrfq/chain_ledger/internal/ledger"
)

// OpenBlockStore connects the append-only backend selected by BLOCK_STORE. The returned close
// function releases its connections.
func OpenBlockStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (ledger.BlockWriter, func(), error) {
	switch cfg.BlockStore {
	case config.BlockStoreKafka:
		if err := EnsureBlockTopic(cfg.KafkaBrokers, cfg.AppID, cfg.KafkaBlockTopic, cfg.KafkaPartitions, cfg.KafkaReplication); err != nil {
			return nil, nil, err
		}
		producer, err := NewKafkaProducer(cfg.KafkaBrokers, cfg.AppID)
		if err != nil {
			return nil, nil, err
		}
		store := blockstore.NewKafkaStore(producer, cfg.KafkaBlockTopic)
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("close kafka producer", "error", err)
			}
		}, nil
	case config.BlockStoreCassandra:
		session, err := NewCassandraSession(cfg.CassandraHosts, cfg.CassandraKeyspace)
		if err != nil {
			return nil, nil, err
		}
		store := blockstore.NewCassandraStore(session)
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.BlockStoreMemory:
		logger.Warn("using in-memory block store; blocks are lost on exit")
		return blockstore.NewMemory(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown block store %q", cfg.BlockStore)
	}
}

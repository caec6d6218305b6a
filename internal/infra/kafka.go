package infra

import (
	"fmt"

	"github.com/IBM/sarama"

	"github.com/xrfq/chain_ledger/internal/blockstore"
)

// NewKafkaProducer opens the sync producer block writes go through.
func NewKafkaProducer(brokers []string, clientID string) (sarama.SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	producer, err := sarama.NewSyncProducer(brokers, blockstore.ProducerConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

// EnsureBlockTopic connects a cluster admin just long enough to make sure the block topic exists
// and is compacted.
func EnsureBlockTopic(brokers []string, clientID, topic string, partitions int32, replication int16) error {
	admin, err := sarama.NewClusterAdmin(brokers, blockstore.ProducerConfig(clientID))
	if err != nil {
		return fmt.Errorf("create kafka admin: %w", err)
	}
	defer admin.Close() // nolint:errcheck
	return blockstore.EnsureTopic(admin, topic, partitions, replication)
}

package blockstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/IBM/sarama"

	"github.com/xrfq/chain_ledger/internal/apperrors"
	"github.com/xrfq/chain_ledger/internal/chain"
)

// ProducerConfig returns the sarama configuration block writes require: idempotent delivery,
// acknowledgement from all in-sync replicas, and synchronous success reporting.
func ProducerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Version = sarama.V2_1_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// KafkaStore appends blocks to a topic. The block id is the message key, so a replayed block lands
// on the same partition as its first copy. Kafka keeps both copies; only a compacted topic (see
// EnsureTopic) collapses them, and consumers must still tolerate a repeated block id.
type KafkaStore struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaStore wraps a sync producer.
func NewKafkaStore(producer sarama.SyncProducer, topic string) *KafkaStore {
	return &KafkaStore{producer: producer, topic: topic}
}

func (s *KafkaStore) Write(ctx context.Context, b chain.Block) error {
	if err := ctx.Err(); err != nil {
		return apperrors.ServerError("write block %s: %v", b.ID, err)
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return apperrors.ServerError("encode block %s: %v", b.ID, err)
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(b.ID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("app_id"), Value: []byte(b.AppID)},
			{Key: []byte("region"), Value: []byte(b.Region)},
		},
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return apperrors.ServerError("send block %s: %v", b.ID, err)
	}
	return nil
}

const cleanupPolicy = "cleanup.policy"

// EnsureTopic creates the block topic with cleanup.policy=compact when it is missing and rejects
// an existing topic that does not compact.
func EnsureTopic(admin sarama.ClusterAdmin, topic string, partitions int32, replication int16) error {
	topics, err := admin.ListTopics()
	if err != nil {
		return apperrors.ServerError("list kafka topics: %v", err)
	}
	if _, ok := topics[topic]; ok {
		return checkCompacted(admin, topic)
	}

	compact := "compact"
	err = admin.CreateTopic(topic, &sarama.TopicDetail{
		NumPartitions:     partitions,
		ReplicationFactor: replication,
		ConfigEntries:     map[string]*string{cleanupPolicy: &compact},
	}, false)
	if errors.Is(err, sarama.ErrTopicAlreadyExists) {
		return checkCompacted(admin, topic)
	}
	if err != nil {
		return apperrors.ServerError("create kafka topic %s: %v", topic, err)
	}
	return nil
}

func checkCompacted(admin sarama.ClusterAdmin, topic string) error {
	entries, err := admin.DescribeConfig(sarama.ConfigResource{
		Type:        sarama.TopicResource,
		Name:        topic,
		ConfigNames: []string{cleanupPolicy},
	})
	if err != nil {
		return apperrors.ServerError("describe kafka topic %s: %v", topic, err)
	}
	for _, e := range entries {
		if e.Name == cleanupPolicy && strings.Contains(e.Value, "compact") {
			return nil
		}
	}
	return apperrors.InvalidRecordState("kafka topic %s must use %s=compact", topic, cleanupPolicy)
}

// Close releases the producer.
func (s *KafkaStore) Close() error {
	return s.producer.Close()
}

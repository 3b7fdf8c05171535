// Package messaging forwards outbox events to Kafka.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"lotpool/internal/domain/events"
	"lotpool/pkg/logger"
)

// KafkaConfig configures the producer.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
	Retries  int
}

var _ events.Handler = (*KafkaPublisher)(nil)

// KafkaPublisher sends outbox messages to a single topic keyed by aggregate
// id, so all events of one lot land on the same partition in order.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher dials the brokers with an idempotent sync producer.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = cfg.Retries
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, cfg.Topic), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Handle publishes msg. A broker error is returned so the relay retries.
func (p *KafkaPublisher) Handle(ctx context.Context, msg *events.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	message := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(msg.AggregateID.String()),
		Value: sarama.ByteEncoder(msg.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(msg.EventType)},
			{Key: []byte("event-id"), Value: []byte(msg.ID.String())},
			{Key: []byte("aggregate-type"), Value: []byte(msg.AggregateType)},
			{Key: []byte("timestamp"), Value: []byte(msg.CreatedAt.UTC().Format(time.RFC3339))},
		},
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		return fmt.Errorf("send %s to kafka: %w", msg.EventType, err)
	}

	logger.Debug(ctx, "event published to kafka",
		"topic", p.topic,
		"event_type", msg.EventType,
		"partition", partition,
		"offset", offset)
	return nil
}

// Close flushes and closes the producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

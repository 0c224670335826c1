package consumer

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaDeadLetter copies exhausted messages onto a dead-letter topic,
// preserving the original key, body, and headers and adding the failure
// reason for operators.
type KafkaDeadLetter struct {
	writer *kafka.Writer
}

func NewKafkaDeadLetter(brokers []string, topic string) *KafkaDeadLetter {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.Hash{},
	})
	return &KafkaDeadLetter{writer: writer}
}

func (d *KafkaDeadLetter) DeadLetter(ctx context.Context, msg kafka.Message, reason string) error {
	headers := append([]kafka.Header(nil), msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "dlq_reason", Value: []byte(reason)},
		kafka.Header{Key: "dlq_failed_at", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		kafka.Header{Key: "dlq_source_topic", Value: []byte(msg.Topic)},
	)
	return d.writer.WriteMessages(ctx, kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
}

func (d *KafkaDeadLetter) Close() error {
	return d.writer.Close()
}

package relay

import (
	"context"
	"encoding/json"

	"github.com/johnhamlin/event-driven-demo/libs/events"
	"github.com/johnhamlin/event-driven-demo/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

// KafkaBus publishes envelopes to a single topic, keyed by aggregate id so
// changes to the same aggregate land on the same partition. The change type
// rides in a header so subscribers can route without deserializing the body.
type KafkaBus struct {
	writer *kafka.Writer
}

func NewKafkaBus(brokers []string, topic string) *KafkaBus {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.Hash{},
	})
	return &KafkaBus{writer: writer}
}

func (b *KafkaBus) Publish(ctx context.Context, env events.Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(env.AggregateID),
		Value: value,
		Headers: []kafka.Header{
			{Key: kafkax.HeaderEventID, Value: []byte(env.ID)},
			{Key: kafkax.HeaderEventType, Value: []byte(env.Type)},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)
	return b.writer.WriteMessages(ctx, msg)
}

func (b *KafkaBus) Close() error {
	return b.writer.Close()
}

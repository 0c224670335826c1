package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/johnhamlin/event-driven-demo/libs/events"
	"github.com/johnhamlin/event-driven-demo/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Handler applies one decoded envelope. A nil return acknowledges the
// delivery; an error means the delivery failed and may be retried.
type Handler func(ctx context.Context, env events.Envelope) error

// DeadLetterer moves a message that exhausted its delivery budget to a
// holding queue for manual inspection.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, msg kafka.Message, reason string) error
}

type Consumer struct {
	reader        *kafka.Reader
	dlq           DeadLetterer
	handler       Handler
	logger        *slog.Logger
	maxDeliveries int
	retryBackoff  time.Duration
}

type Config struct {
	Brokers       string
	GroupID       string
	Topic         string
	MaxDeliveries int
	RetryBackoff  time.Duration
}

func New(logger *slog.Logger, dlq DeadLetterer, cfg Config, handler Handler) *Consumer {
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{
		reader:        reader,
		dlq:           dlq,
		handler:       handler,
		logger:        logger,
		maxDeliveries: cfg.MaxDeliveries,
		retryBackoff:  cfg.RetryBackoff,
	}
}

// Run fetches messages and commits each offset only after the message is
// either applied or dead-lettered, so a crash mid-apply redelivers.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		msgCtx := kafkax.ExtractTraceContext(ctx, msg)
		spanCtx, span := otel.Tracer("kafka").Start(msgCtx, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)

		// Committing the offset of a message we could not apply or
		// dead-letter would lose it, so keep retrying the whole message
		// until one of the two succeeds.
		for {
			err := c.processMessage(spanCtx, msg)
			if err == nil {
				break
			}
			span.RecordError(err)
			c.logger.Error("message handling stalled", "err", err)
			select {
			case <-ctx.Done():
				span.End()
				return
			case <-time.After(c.retryBackoff):
			}
		}
		span.End()

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			// The work is done and idempotent; the uncommitted offset just
			// means a redelivery after restart.
			c.logger.Error("offset commit failed", "err", err)
		}
	}
}

// processMessage drives one message to a terminal state: applied, or moved
// to the dead-letter queue after maxDeliveries failed attempts. Only a
// failed dead-letter write returns an error.
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)

	env, err := events.Decode(msg.Value)
	if err != nil {
		// A malformed envelope can never succeed; retrying burns the
		// delivery budget for nothing.
		c.logger.Error("poison message", "event_id", meta.EventID, "err", err)
		return c.dlq.DeadLetter(ctx, msg, "malformed envelope: "+err.Error())
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxDeliveries; attempt++ {
		lastErr = c.handler(ctx, env)
		if lastErr == nil {
			return nil
		}
		c.logger.Error("apply failed",
			"event_id", env.ID,
			"event_type", env.Type,
			"attempt", attempt,
			"max_deliveries", c.maxDeliveries,
			"err", lastErr,
		)
		if attempt < c.maxDeliveries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryBackoff):
			}
		}
	}

	c.logger.Error("delivery budget exhausted, dead-lettering",
		"event_id", env.ID,
		"event_type", env.Type,
	)
	return c.dlq.DeadLetter(ctx, msg, lastErr.Error())
}

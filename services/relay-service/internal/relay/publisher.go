package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/johnhamlin/event-driven-demo/libs/events"
	"github.com/johnhamlin/event-driven-demo/libs/otelx"
	"github.com/johnhamlin/event-driven-demo/services/relay-service/internal/ledger"
)

// Ledger is the change-ledger surface the publisher needs.
type Ledger interface {
	SelectUnpublished(ctx context.Context, limit int) ([]ledger.ChangeRecord, error)
	MarkPublished(ctx context.Context, id string) error
}

// Bus hands one envelope to the message bus. Implementations must not
// return nil unless the bus confirmed the write.
type Bus interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// Result summarizes one relay batch.
type Result struct {
	Published int
	FailedIDs []string
}

type Publisher struct {
	ledger    Ledger
	bus       Bus
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
}

type Config struct {
	PollEvery time.Duration
	BatchSize int
}

func NewPublisher(l Ledger, bus Bus, logger *slog.Logger, cfg Config) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 60 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Publisher{
		ledger:    l,
		bus:       bus,
		logger:    logger,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

// Run polls the ledger until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := p.RelayBatch(ctx)
			if err != nil {
				p.logger.Error("relay batch failed", "err", err)
				continue
			}
			if res.Published > 0 || len(res.FailedIDs) > 0 {
				p.logger.Info("relay batch done",
					"published", res.Published,
					"failed", len(res.FailedIDs),
				)
			}
		}
	}
}

// RelayBatch publishes one batch of unpublished change records. Each record
// is handled independently: a failed send or a failed published-mark is
// logged and skipped so one bad record never blocks the rest of the batch.
// The skipped record stays unpublished and is retried on the next tick,
// which can duplicate a delivery; the consumer absorbs that. Only a failure
// to read the ledger at all is returned as an error.
func (p *Publisher) RelayBatch(ctx context.Context) (Result, error) {
	records, err := p.ledger.SelectUnpublished(ctx, p.batchSize)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, rcd := range records {
		recCtx := otelx.ContextWithTraceContext(ctx, rcd.Traceparent, rcd.Tracestate)
		env := buildEnvelope(recCtx, rcd)

		if err := p.bus.Publish(recCtx, env); err != nil {
			p.logger.Error("publish failed",
				"change_id", rcd.ID,
				"change_type", rcd.ChangeType,
				"err", err,
			)
			res.FailedIDs = append(res.FailedIDs, rcd.ID)
			continue
		}

		if err := p.ledger.MarkPublished(ctx, rcd.ID); err != nil {
			// The bus already has the envelope. Leaving published_at null
			// means a duplicate send next tick, which is the accepted
			// outcome; downstream dedupe makes it harmless.
			p.logger.Error("mark published failed",
				"change_id", rcd.ID,
				"err", err,
			)
			res.FailedIDs = append(res.FailedIDs, rcd.ID)
			continue
		}

		res.Published++
	}
	return res, nil
}

func buildEnvelope(ctx context.Context, rcd ledger.ChangeRecord) events.Envelope {
	return events.Envelope{
		ID:            rcd.ID,
		Type:          rcd.ChangeType,
		Version:       rcd.Version,
		OccurredAt:    rcd.OccurredAt.UTC(),
		AggregateID:   rcd.AggregateID,
		AggregateType: rcd.AggregateType,
		Data:          rcd.Payload,
		TraceID:       otelx.TraceIDFromContext(ctx),
	}
}

package ledger

import (
	"context"
	"time"

	"github.com/johnhamlin/event-driven-demo/libs/db"
)

// ChangeRecord is one row of the change ledger: a domain change written
// atomically with the mutation that produced it, awaiting relay to the bus.
type ChangeRecord struct {
	ID            string
	ChangeType    string
	AggregateID   string
	AggregateType string
	Payload       []byte
	OccurredAt    time.Time
	PublishedAt   *time.Time
	Version       int
	Traceparent   string
	Tracestate    string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// SelectUnpublished returns up to limit records not yet handed to the bus,
// oldest first. Overlapping publisher ticks may select overlapping batches;
// that is tolerated because delivery is at-least-once by construction.
func (r *Repository) SelectUnpublished(ctx context.Context, limit int) ([]ChangeRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, change_type, aggregate_id, aggregate_type, payload, occurred_at, published_at, version, traceparent, tracestate
		FROM change_records
		WHERE published_at IS NULL
		ORDER BY occurred_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ChangeRecord
	for rows.Next() {
		var rcd ChangeRecord
		if err := rows.Scan(&rcd.ID, &rcd.ChangeType, &rcd.AggregateID, &rcd.AggregateType, &rcd.Payload,
			&rcd.OccurredAt, &rcd.PublishedAt, &rcd.Version, &rcd.Traceparent, &rcd.Tracestate); err != nil {
			return nil, err
		}
		records = append(records, rcd)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// MarkPublished records the confirmed bus hand-off. The published_at guard
// keeps the null -> non-null transition one-way.
func (r *Repository) MarkPublished(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE change_records
		SET published_at = now()
		WHERE id = $1 AND published_at IS NULL
	`, id)
	return err
}

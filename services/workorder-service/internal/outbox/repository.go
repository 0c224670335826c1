package outbox

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/johnhamlin/event-driven-demo/libs/otelx"
)

// Change is a domain change to append to the ledger. It must be inserted in
// the same transaction as the domain write it describes; that atomicity is
// the entire point of the outbox.
type Change struct {
	ChangeType    string
	AggregateID   string
	AggregateType string
	Payload       []byte
	Version       int
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert appends a change record with published_at null. The relay picks it
// up on its next poll; the current trace context rides along so the async
// leg joins the request's trace.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, chg Change) (string, error) {
	if chg.Version <= 0 {
		chg.Version = 1
	}
	id := uuid.NewString()
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO change_records (id, change_type, aggregate_id, aggregate_type, payload, version, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, chg.ChangeType, chg.AggregateID, chg.AggregateType, chg.Payload, chg.Version, traceparent, tracestate)
	if err != nil {
		return "", err
	}
	return id, nil
}

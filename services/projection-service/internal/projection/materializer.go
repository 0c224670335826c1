package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/johnhamlin/event-driven-demo/libs/events"
	"github.com/johnhamlin/event-driven-demo/services/projection-service/internal/dedupe"
)

// DedupeLedger tracks which event ids have already been applied.
type DedupeLedger interface {
	Get(ctx context.Context, eventID string) (*dedupe.Record, error)
	Put(ctx context.Context, rec dedupe.Record, ttl time.Duration) error
}

// ProjectionStore is the write surface of the derived store.
type ProjectionStore interface {
	Put(ctx context.Context, partitionKey, sortKey string, attributes map[string]any) error
	Delete(ctx context.Context, partitionKey, sortKey string) error
}

// workOrderPayload is the snake_case domain document inside envelope data.
type workOrderPayload struct {
	WorkOrderID    string    `json:"work_order_id"`
	OrgID          string    `json:"org_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Status         string    `json:"status"`
	Priority       string    `json:"priority"`
	AssignedTo     string    `json:"assigned_to"`
	PreviousStatus string    `json:"previous_status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Materializer applies delivered envelopes to the projection store
// exactly-once-in-effect. The dedupe check races with concurrent consumers
// of the same event id on purpose: the store write is a full overwrite at a
// deterministic key, so double-applying one envelope is harmless and dedupe
// stays a cost optimization rather than the correctness mechanism.
type Materializer struct {
	dedupe DedupeLedger
	store  ProjectionStore
	logger *slog.Logger
	ttl    time.Duration
}

const defaultDedupeTTL = 7 * 24 * time.Hour

func NewMaterializer(ledger DedupeLedger, store ProjectionStore, logger *slog.Logger, ttl time.Duration) *Materializer {
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &Materializer{
		dedupe: ledger,
		store:  store,
		logger: logger,
		ttl:    ttl,
	}
}

// Apply projects one envelope. Errors propagate so the delivery is not
// acknowledged and the bus redelivers.
func (m *Materializer) Apply(ctx context.Context, env events.Envelope) error {
	seen, err := m.dedupe.Get(ctx, env.ID)
	if err != nil {
		return fmt.Errorf("dedupe lookup for %s: %w", env.ID, err)
	}
	if seen != nil {
		m.logger.Info("duplicate event ignored", "event_id", env.ID, "event_type", env.Type)
		return nil
	}

	switch env.Type {
	case events.TypeWorkOrderCreated, events.TypeWorkOrderUpdated:
		if err := m.project(ctx, env); err != nil {
			return err
		}
	case events.TypeWorkOrderStatusChanged:
		if err := m.migrateStatus(ctx, env); err != nil {
			return err
		}
	default:
		// Unknown types are tolerated: skip projection, still record the
		// id so redeliveries of the same unknown event stay cheap.
		m.logger.Warn("unknown change type skipped", "event_id", env.ID, "event_type", env.Type)
	}

	now := time.Now().UTC()
	err = m.dedupe.Put(ctx, dedupe.Record{
		EventID:     env.ID,
		EventType:   env.Type,
		ProcessedAt: now,
		ExpiresAt:   now.Add(m.ttl),
	}, m.ttl)
	if err != nil {
		return fmt.Errorf("dedupe mark for %s: %w", env.ID, err)
	}
	return nil
}

func (m *Materializer) project(ctx context.Context, env events.Envelope) error {
	wo, err := parsePayload(env)
	if err != nil {
		return err
	}
	pk := PartitionKey(wo.OrgID)
	sk := SortKey(wo.Status, wo.CreatedAt, wo.WorkOrderID)
	return m.store.Put(ctx, pk, sk, attributes(env, wo))
}

// migrateStatus moves the row to its new-status key. Status is a sort-key
// component, so the old row must go away or it stays visible under the old
// status; the delete runs first, then the insert, and both are idempotent.
func (m *Materializer) migrateStatus(ctx context.Context, env events.Envelope) error {
	wo, err := parsePayload(env)
	if err != nil {
		return err
	}
	pk := PartitionKey(wo.OrgID)

	if wo.PreviousStatus != "" && wo.PreviousStatus != wo.Status {
		oldSK := SortKey(wo.PreviousStatus, wo.CreatedAt, wo.WorkOrderID)
		if err := m.store.Delete(ctx, pk, oldSK); err != nil {
			return fmt.Errorf("delete old-status row for %s: %w", env.ID, err)
		}
	}

	newSK := SortKey(wo.Status, wo.CreatedAt, wo.WorkOrderID)
	return m.store.Put(ctx, pk, newSK, attributes(env, wo))
}

func parsePayload(env events.Envelope) (workOrderPayload, error) {
	var wo workOrderPayload
	if err := json.Unmarshal(env.Data, &wo); err != nil {
		return workOrderPayload{}, fmt.Errorf("payload of %s: %w", env.ID, err)
	}
	if wo.WorkOrderID == "" {
		wo.WorkOrderID = env.AggregateID
	}
	if wo.WorkOrderID == "" || wo.OrgID == "" || wo.Status == "" {
		return workOrderPayload{}, fmt.Errorf("payload of %s missing work_order_id, org_id, or status", env.ID)
	}
	return wo, nil
}

// attributes builds the denormalized camelCase document stored at the key.
func attributes(env events.Envelope, wo workOrderPayload) map[string]any {
	return map[string]any{
		"workOrderId":     wo.WorkOrderID,
		"orgId":           wo.OrgID,
		"title":           wo.Title,
		"description":     wo.Description,
		"status":          wo.Status,
		"priority":        wo.Priority,
		"assignedTo":      wo.AssignedTo,
		"createdAt":       wo.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":       wo.UpdatedAt.UTC().Format(time.RFC3339),
		"projectedAt":     time.Now().UTC().Format(time.RFC3339),
		"sourceEventId":   env.ID,
		"sourceEventType": env.Type,
	}
}

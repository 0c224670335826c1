package projection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/johnhamlin/event-driven-demo/libs/events"
	"github.com/johnhamlin/event-driven-demo/services/projection-service/internal/dedupe"
)

type fakeDedupe struct {
	records map[string]dedupe.Record
	ttls    map[string]time.Duration
	getErr  error
	putErr  error
	puts    int
}

func newFakeDedupe() *fakeDedupe {
	return &fakeDedupe{
		records: map[string]dedupe.Record{},
		ttls:    map[string]time.Duration{},
	}
}

func (f *fakeDedupe) Get(_ context.Context, eventID string) (*dedupe.Record, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	rec, ok := f.records[eventID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeDedupe) Put(_ context.Context, rec dedupe.Record, ttl time.Duration) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.records[rec.EventID] = rec
	f.ttls[rec.EventID] = ttl
	f.puts++
	return nil
}

type fakeStore struct {
	rows    map[string]map[string]any
	putErr  error
	delErr  error
	puts    int
	deletes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]map[string]any{}}
}

func (f *fakeStore) Put(_ context.Context, pk, sk string, attrs map[string]any) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.rows[pk+"|"+sk] = attrs
	f.puts++
	return nil
}

func (f *fakeStore) Delete(_ context.Context, pk, sk string) error {
	if f.delErr != nil {
		return f.delErr
	}
	delete(f.rows, pk+"|"+sk)
	f.deletes++
	return nil
}

var testCreatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func createdEnvelope(id string) events.Envelope {
	return workOrderEnvelope(id, events.TypeWorkOrderCreated, "OPEN", "")
}

func workOrderEnvelope(id, changeType, status, previousStatus string) events.Envelope {
	data, _ := json.Marshal(map[string]any{
		"work_order_id":   "w1",
		"org_id":          "o1",
		"title":           "Replace compressor",
		"description":     "Unit on roof, bay 4",
		"status":          status,
		"priority":        "HIGH",
		"assigned_to":     "tech-7",
		"previous_status": previousStatus,
		"created_at":      testCreatedAt.Format(time.RFC3339),
		"updated_at":      testCreatedAt.Format(time.RFC3339),
	})
	return events.Envelope{
		ID:            id,
		Type:          changeType,
		Version:       1,
		OccurredAt:    testCreatedAt,
		AggregateID:   "w1",
		AggregateType: "WorkOrder",
		Data:          data,
	}
}

func newTestMaterializer(d DedupeLedger, s ProjectionStore) *Materializer {
	return NewMaterializer(d, s, slog.New(slog.DiscardHandler), 7*24*time.Hour)
}

func TestApply_CreatedWritesProjectionAndMarksDedupe(t *testing.T) {
	d := newFakeDedupe()
	s := newFakeStore()
	m := newTestMaterializer(d, s)

	if err := m.Apply(context.Background(), createdEnvelope("e1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	key := "ORG#o1|STATUS#OPEN#TS#2026-03-01T12:00:00Z#WO#w1"
	attrs, ok := s.rows[key]
	if !ok {
		t.Fatalf("expected row at %q, have %v", key, s.rows)
	}
	if attrs["workOrderId"] != "w1" || attrs["orgId"] != "o1" || attrs["status"] != "OPEN" {
		t.Fatalf("denormalized fields wrong: %v", attrs)
	}
	if attrs["assignedTo"] != "tech-7" || attrs["priority"] != "HIGH" {
		t.Fatalf("camelCase mapping wrong: %v", attrs)
	}
	if attrs["sourceEventId"] != "e1" || attrs["sourceEventType"] != events.TypeWorkOrderCreated {
		t.Fatalf("source event fields wrong: %v", attrs)
	}

	rec, ok := d.records["e1"]
	if !ok {
		t.Fatal("expected dedupe record for e1")
	}
	if rec.EventType != events.TypeWorkOrderCreated {
		t.Fatalf("dedupe event type %q", rec.EventType)
	}
	if got := rec.ExpiresAt.Sub(rec.ProcessedAt); got != 7*24*time.Hour {
		t.Fatalf("expected 7d expiry window, got %s", got)
	}
	if d.ttls["e1"] != 7*24*time.Hour {
		t.Fatalf("expected 7d ttl, got %s", d.ttls["e1"])
	}
}

func TestApply_SequentialReplayIsIdempotent(t *testing.T) {
	d := newFakeDedupe()
	s := newFakeStore()
	m := newTestMaterializer(d, s)

	env := createdEnvelope("e1")
	if err := m.Apply(context.Background(), env); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := m.Apply(context.Background(), env); err != nil {
		t.Fatalf("replay: %v", err)
	}

	if s.puts != 1 {
		t.Fatalf("expected 1 projection write, got %d", s.puts)
	}
	if d.puts != 1 {
		t.Fatalf("expected 1 dedupe write, got %d", d.puts)
	}
	if len(s.rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(s.rows))
	}
}

func TestApply_StatusChangeMigratesKey(t *testing.T) {
	d := newFakeDedupe()
	s := newFakeStore()
	m := newTestMaterializer(d, s)

	if err := m.Apply(context.Background(), createdEnvelope("e1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	change := workOrderEnvelope("e2", events.TypeWorkOrderStatusChanged, "CLOSED", "OPEN")
	if err := m.Apply(context.Background(), change); err != nil {
		t.Fatalf("status change: %v", err)
	}

	oldKey := "ORG#o1|STATUS#OPEN#TS#2026-03-01T12:00:00Z#WO#w1"
	newKey := "ORG#o1|STATUS#CLOSED#TS#2026-03-01T12:00:00Z#WO#w1"
	if _, ok := s.rows[oldKey]; ok {
		t.Fatal("old-status row must be removed")
	}
	attrs, ok := s.rows[newKey]
	if !ok {
		t.Fatalf("expected row at new key, have %v", s.rows)
	}
	if attrs["status"] != "CLOSED" {
		t.Fatalf("expected CLOSED, got %v", attrs["status"])
	}
}

func TestApply_StatusChangeReplayLeavesSameState(t *testing.T) {
	d := newFakeDedupe()
	s := newFakeStore()
	m := newTestMaterializer(d, s)

	change := workOrderEnvelope("e2", events.TypeWorkOrderStatusChanged, "CLOSED", "OPEN")
	if err := m.Apply(context.Background(), change); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	// Simulate a redelivery racing past the dedupe check.
	delete(d.records, "e2")
	if err := m.Apply(context.Background(), change); err != nil {
		t.Fatalf("replay: %v", err)
	}

	if len(s.rows) != 1 {
		t.Fatalf("expected exactly 1 row after replay, got %d", len(s.rows))
	}
	newKey := "ORG#o1|STATUS#CLOSED#TS#2026-03-01T12:00:00Z#WO#w1"
	if _, ok := s.rows[newKey]; !ok {
		t.Fatalf("expected row at %q", newKey)
	}
}

func TestApply_UnknownTypeSkipsProjectionButMarks(t *testing.T) {
	d := newFakeDedupe()
	s := newFakeStore()
	m := newTestMaterializer(d, s)

	env := createdEnvelope("e9")
	env.Type = "WorkOrderArchived"
	if err := m.Apply(context.Background(), env); err != nil {
		t.Fatalf("unknown type must not fail: %v", err)
	}
	if s.puts != 0 {
		t.Fatal("unknown type must not project")
	}
	if _, ok := d.records["e9"]; !ok {
		t.Fatal("unknown type must still be deduped")
	}
}

func TestApply_MalformedPayloadErrors(t *testing.T) {
	d := newFakeDedupe()
	s := newFakeStore()
	m := newTestMaterializer(d, s)

	env := events.Envelope{ID: "bad", Type: events.TypeWorkOrderCreated, AggregateID: "w1", Data: []byte(`{"org_id":`)}
	if err := m.Apply(context.Background(), env); err == nil {
		t.Fatal("expected error for malformed payload")
	}
	if d.puts != 0 {
		t.Fatal("failed apply must not mark dedupe")
	}
}

func TestApply_StoreFailurePropagates(t *testing.T) {
	d := newFakeDedupe()
	s := newFakeStore()
	s.putErr = errors.New("store timeout")
	m := newTestMaterializer(d, s)

	if err := m.Apply(context.Background(), createdEnvelope("e1")); err == nil {
		t.Fatal("expected store failure to propagate")
	}
	if d.puts != 0 {
		t.Fatal("dedupe must not be marked when projection failed")
	}
}

func TestApply_DedupePutFailurePropagates(t *testing.T) {
	d := newFakeDedupe()
	d.putErr = errors.New("redis down")
	s := newFakeStore()
	m := newTestMaterializer(d, s)

	if err := m.Apply(context.Background(), createdEnvelope("e1")); err == nil {
		t.Fatal("expected dedupe write failure to propagate")
	}
}

func TestApply_DedupeLookupFailurePropagates(t *testing.T) {
	d := newFakeDedupe()
	d.getErr = errors.New("redis down")
	s := newFakeStore()
	m := newTestMaterializer(d, s)

	if err := m.Apply(context.Background(), createdEnvelope("e1")); err == nil {
		t.Fatal("expected dedupe lookup failure to propagate")
	}
	if s.puts != 0 {
		t.Fatal("must not project when the dedupe check itself failed")
	}
}

package relay

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/johnhamlin/event-driven-demo/libs/events"
	"github.com/johnhamlin/event-driven-demo/services/relay-service/internal/ledger"
)

type fakeLedger struct {
	records   []ledger.ChangeRecord
	selectErr error
	markErrs  map[string]error
	published []string
}

func (f *fakeLedger) SelectUnpublished(_ context.Context, limit int) ([]ledger.ChangeRecord, error) {
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	if len(f.records) > limit {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func (f *fakeLedger) MarkPublished(_ context.Context, id string) error {
	if err := f.markErrs[id]; err != nil {
		return err
	}
	f.published = append(f.published, id)
	return nil
}

type fakeBus struct {
	failIDs map[string]error
	sent    []events.Envelope
}

func (f *fakeBus) Publish(_ context.Context, env events.Envelope) error {
	if err := f.failIDs[env.ID]; err != nil {
		return err
	}
	f.sent = append(f.sent, env)
	return nil
}

func testRecord(id string) ledger.ChangeRecord {
	return ledger.ChangeRecord{
		ID:            id,
		ChangeType:    events.TypeWorkOrderCreated,
		AggregateID:   "w-" + id,
		AggregateType: "WorkOrder",
		Payload:       []byte(`{"org_id":"o1","status":"OPEN"}`),
		OccurredAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Version:       1,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRelayBatch_PublishesAndMarks(t *testing.T) {
	l := &fakeLedger{records: []ledger.ChangeRecord{testRecord("e1"), testRecord("e2")}}
	bus := &fakeBus{}
	p := NewPublisher(l, bus, discardLogger(), Config{BatchSize: 10})

	res, err := p.RelayBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Published != 2 {
		t.Fatalf("expected 2 published, got %d", res.Published)
	}
	if len(res.FailedIDs) != 0 {
		t.Fatalf("expected no failures, got %v", res.FailedIDs)
	}
	if len(bus.sent) != 2 || len(l.published) != 2 {
		t.Fatalf("expected 2 sends and 2 marks, got %d and %d", len(bus.sent), len(l.published))
	}

	env := bus.sent[0]
	if env.ID != "e1" || env.Type != events.TypeWorkOrderCreated {
		t.Fatalf("envelope mapping wrong: %+v", env)
	}
	if env.AggregateID != "w-e1" || env.AggregateType != "WorkOrder" {
		t.Fatalf("envelope aggregate mapping wrong: %+v", env)
	}
	if env.Version != 1 {
		t.Fatalf("expected version 1, got %d", env.Version)
	}
	if string(env.Data) != `{"org_id":"o1","status":"OPEN"}` {
		t.Fatalf("payload not carried verbatim: %s", env.Data)
	}
	if !env.OccurredAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("occurredAt wrong: %s", env.OccurredAt)
	}
}

func TestRelayBatch_OneFailureDoesNotAbortBatch(t *testing.T) {
	l := &fakeLedger{records: []ledger.ChangeRecord{testRecord("e1"), testRecord("e2"), testRecord("e3")}}
	bus := &fakeBus{failIDs: map[string]error{"e2": errors.New("broker down")}}
	p := NewPublisher(l, bus, discardLogger(), Config{BatchSize: 10})

	res, err := p.RelayBatch(context.Background())
	if err != nil {
		t.Fatalf("per-record failure must not surface as batch error, got %v", err)
	}
	if res.Published != 2 {
		t.Fatalf("expected 2 published, got %d", res.Published)
	}
	if len(res.FailedIDs) != 1 || res.FailedIDs[0] != "e2" {
		t.Fatalf("expected failed ids [e2], got %v", res.FailedIDs)
	}
	for _, id := range l.published {
		if id == "e2" {
			t.Fatal("e2 must stay unpublished after a failed send")
		}
	}
}

func TestRelayBatch_MarkFailureLeavesRecordForRetry(t *testing.T) {
	l := &fakeLedger{
		records:  []ledger.ChangeRecord{testRecord("e1")},
		markErrs: map[string]error{"e1": errors.New("ledger timeout")},
	}
	bus := &fakeBus{}
	p := NewPublisher(l, bus, discardLogger(), Config{BatchSize: 10})

	res, err := p.RelayBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The send went through; the record is retried next tick and the
	// resulting duplicate is absorbed downstream.
	if len(bus.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(bus.sent))
	}
	if res.Published != 0 || len(res.FailedIDs) != 1 {
		t.Fatalf("expected 0 published / 1 failed, got %+v", res)
	}
}

func TestRelayBatch_LedgerUnreachableIsFatal(t *testing.T) {
	l := &fakeLedger{selectErr: errors.New("connection refused")}
	p := NewPublisher(l, &fakeBus{}, discardLogger(), Config{})

	if _, err := p.RelayBatch(context.Background()); err == nil {
		t.Fatal("expected error when the ledger cannot be read")
	}
}

func TestRelayBatch_RespectsBatchSize(t *testing.T) {
	l := &fakeLedger{}
	for i := 0; i < 25; i++ {
		l.records = append(l.records, testRecord(string(rune('a'+i))))
	}
	bus := &fakeBus{}
	p := NewPublisher(l, bus, discardLogger(), Config{BatchSize: 10})

	res, err := p.RelayBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Published != 10 {
		t.Fatalf("expected batch capped at 10, got %d", res.Published)
	}
}

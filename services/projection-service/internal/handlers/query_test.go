package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/johnhamlin/event-driven-demo/services/projection-service/internal/projection"
)

type fakeStore struct {
	rows   []projection.Row
	lastPK string
	lastSK string
}

func (f *fakeStore) QueryByPartitionPrefix(_ context.Context, pk, skPrefix string) ([]projection.Row, error) {
	f.lastPK = pk
	f.lastSK = skPrefix
	var out []projection.Row
	for _, row := range f.rows {
		if row.PartitionKey == pk && (skPrefix == "" || len(row.SortKey) >= len(skPrefix) && row.SortKey[:len(skPrefix)] == skPrefix) {
			out = append(out, row)
		}
	}
	return out, nil
}

func newTestMux(store Store) *http.ServeMux {
	mux := http.NewServeMux()
	New(store, slog.New(slog.DiscardHandler)).Register(mux)
	return mux
}

func TestListWorkOrders_FiltersByStatusPrefix(t *testing.T) {
	store := &fakeStore{rows: []projection.Row{
		{
			PartitionKey: "ORG#o1",
			SortKey:      "STATUS#OPEN#TS#2026-03-01T12:00:00Z#WO#w1",
			Attributes:   map[string]any{"workOrderId": "w1", "status": "OPEN"},
		},
		{
			PartitionKey: "ORG#o1",
			SortKey:      "STATUS#CLOSED#TS#2026-03-01T09:00:00Z#WO#w2",
			Attributes:   map[string]any{"workOrderId": "w2", "status": "CLOSED"},
		},
	}}
	mux := newTestMux(store)

	req := httptest.NewRequest(http.MethodGet, "/orgs/o1/workorders?status=open", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if store.lastPK != "ORG#o1" || store.lastSK != "STATUS#OPEN#" {
		t.Fatalf("queried pk=%q sk=%q", store.lastPK, store.lastSK)
	}

	var body struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Items) != 1 || body.Items[0]["workOrderId"] != "w1" {
		t.Fatalf("expected only the OPEN work order, got %v", body.Items)
	}
}

func TestListWorkOrders_NoStatusReturnsWholePartition(t *testing.T) {
	store := &fakeStore{rows: []projection.Row{
		{PartitionKey: "ORG#o1", SortKey: "STATUS#CLOSED#TS#t#WO#w2", Attributes: map[string]any{"workOrderId": "w2"}},
		{PartitionKey: "ORG#o1", SortKey: "STATUS#OPEN#TS#t#WO#w1", Attributes: map[string]any{"workOrderId": "w1"}},
		{PartitionKey: "ORG#o2", SortKey: "STATUS#OPEN#TS#t#WO#w3", Attributes: map[string]any{"workOrderId": "w3"}},
	}}
	mux := newTestMux(store)

	req := httptest.NewRequest(http.MethodGet, "/orgs/o1/workorders", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var body struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Items) != 2 {
		t.Fatalf("expected 2 items for o1, got %d", len(body.Items))
	}
}

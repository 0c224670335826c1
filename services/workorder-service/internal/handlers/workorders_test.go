package handlers

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newValidationMux() *http.ServeMux {
	// repo/outbox stay nil: these cases must fail before any storage call.
	mux := http.NewServeMux()
	New(nil, nil, slog.New(slog.DiscardHandler)).Register(mux)
	return mux
}

func TestCreate_RejectsInvalidJSON(t *testing.T) {
	mux := newValidationMux()
	req := httptest.NewRequest(http.MethodPost, "/workorders", strings.NewReader(`{"org_id":`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestCreate_RequiresOrgAndTitle(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing org", `{"title":"fix hvac"}`},
		{"missing title", `{"org_id":"o1"}`},
		{"blank title", `{"org_id":"o1","title":"   "}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := newValidationMux()
			req := httptest.NewRequest(http.MethodPost, "/workorders", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status %d", rec.Code)
			}
		})
	}
}

func TestUpdateStatus_RejectsUnknownStatus(t *testing.T) {
	mux := newValidationMux()
	req := httptest.NewRequest(http.MethodPatch, "/workorders/w1/status", strings.NewReader(`{"status":"BOGUS"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestCreateRequest_DefaultsPriority(t *testing.T) {
	req := createRequest{OrgID: " o1 ", Title: " fix hvac ", Priority: "high"}
	if err := req.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.OrgID != "o1" || req.Title != "fix hvac" {
		t.Fatalf("fields not trimmed: %+v", req)
	}
	if req.Priority != "HIGH" {
		t.Fatalf("priority %q", req.Priority)
	}

	req = createRequest{OrgID: "o1", Title: "t"}
	if err := req.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Priority != "MEDIUM" {
		t.Fatalf("expected default MEDIUM, got %q", req.Priority)
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/johnhamlin/event-driven-demo/services/projection-service/internal/projection"
)

// Store is the read surface of the projection store.
type Store interface {
	QueryByPartitionPrefix(ctx context.Context, partitionKey, sortKeyPrefix string) ([]projection.Row, error)
}

type Handler struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /orgs/{orgID}/workorders", h.ListWorkOrders)
}

// ListWorkOrders returns the work orders owned by an org, optionally
// filtered to one status via the sort-key prefix.
func (h *Handler) ListWorkOrders(w http.ResponseWriter, r *http.Request) {
	orgID := strings.TrimSpace(r.PathValue("orgID"))
	if orgID == "" {
		http.Error(w, "org id is required", http.StatusBadRequest)
		return
	}

	var prefix string
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		prefix = projection.StatusPrefix(strings.ToUpper(status))
	}

	rows, err := h.store.QueryByPartitionPrefix(r.Context(), projection.PartitionKey(orgID), prefix)
	if err != nil {
		h.logger.Error("projection query failed", "org_id", orgID, "err", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.Attributes)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
}

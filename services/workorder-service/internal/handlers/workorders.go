package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/johnhamlin/event-driven-demo/libs/events"
	"github.com/johnhamlin/event-driven-demo/services/workorder-service/internal/model"
	"github.com/johnhamlin/event-driven-demo/services/workorder-service/internal/outbox"
	"github.com/johnhamlin/event-driven-demo/services/workorder-service/internal/storage"
)

type Handler struct {
	repo   *storage.Repository
	outbox *outbox.Repository
	logger *slog.Logger
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, outbox: outboxRepo, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /workorders", h.Create)
	mux.HandleFunc("PUT /workorders/{id}", h.Update)
	mux.HandleFunc("PATCH /workorders/{id}/status", h.UpdateStatus)
}

type createRequest struct {
	OrgID       string `json:"org_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	AssignedTo  string `json:"assigned_to"`
}

func (req *createRequest) validate() error {
	req.OrgID = strings.TrimSpace(req.OrgID)
	req.Title = strings.TrimSpace(req.Title)
	req.Priority = strings.ToUpper(strings.TrimSpace(req.Priority))
	if req.OrgID == "" {
		return errors.New("org_id is required")
	}
	if req.Title == "" {
		return errors.New("title is required")
	}
	if req.Priority == "" {
		req.Priority = "MEDIUM"
	}
	return nil
}

// Create inserts the work order and its WorkOrderCreated change record in
// one transaction. The caller observes only the local write; the read model
// catches up after the next relay tick.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	wo := model.WorkOrder{
		ID:          uuid.NewString(),
		OrgID:       req.OrgID,
		Title:       req.Title,
		Description: req.Description,
		Status:      model.StatusOpen,
		Priority:    req.Priority,
		AssignedTo:  req.AssignedTo,
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		h.serverError(w, "begin failed", err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.repo.Create(ctx, tx, &wo); err != nil {
		h.serverError(w, "create failed", err)
		return
	}
	if err := h.appendChange(ctx, tx, events.TypeWorkOrderCreated, wo, ""); err != nil {
		h.serverError(w, "change record failed", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		h.serverError(w, "commit failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, workOrderResponse(wo))
}

type updateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Priority    *string `json:"priority"`
	AssignedTo  *string `json:"assigned_to"`
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		h.serverError(w, "begin failed", err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	wo, err := h.repo.GetForUpdate(ctx, tx, id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "work order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.serverError(w, "load failed", err)
		return
	}

	if req.Title != nil {
		wo.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		wo.Description = *req.Description
	}
	if req.Priority != nil {
		wo.Priority = strings.ToUpper(strings.TrimSpace(*req.Priority))
	}
	if req.AssignedTo != nil {
		wo.AssignedTo = strings.TrimSpace(*req.AssignedTo)
	}
	if wo.Title == "" {
		http.Error(w, "title cannot be empty", http.StatusBadRequest)
		return
	}

	if err := h.repo.UpdateFields(ctx, tx, &wo); err != nil {
		h.serverError(w, "update failed", err)
		return
	}
	if err := h.appendChange(ctx, tx, events.TypeWorkOrderUpdated, wo, ""); err != nil {
		h.serverError(w, "change record failed", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		h.serverError(w, "commit failed", err)
		return
	}

	writeJSON(w, http.StatusOK, workOrderResponse(wo))
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus transitions a work order's status and records a
// WorkOrderStatusChanged change carrying the previous status, which the
// projector needs for its key migration.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Status = strings.ToUpper(strings.TrimSpace(req.Status))
	if !model.ValidStatus(req.Status) {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		h.serverError(w, "begin failed", err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	wo, err := h.repo.GetForUpdate(ctx, tx, id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "work order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.serverError(w, "load failed", err)
		return
	}

	if wo.Status == req.Status {
		writeJSON(w, http.StatusOK, workOrderResponse(wo))
		return
	}

	previous := wo.Status
	wo.Status = req.Status
	if err := h.repo.UpdateStatus(ctx, tx, &wo); err != nil {
		h.serverError(w, "status update failed", err)
		return
	}
	if err := h.appendChange(ctx, tx, events.TypeWorkOrderStatusChanged, wo, previous); err != nil {
		h.serverError(w, "change record failed", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		h.serverError(w, "commit failed", err)
		return
	}

	writeJSON(w, http.StatusOK, workOrderResponse(wo))
}

func (h *Handler) appendChange(ctx context.Context, tx pgx.Tx, changeType string, wo model.WorkOrder, previousStatus string) error {
	payload, err := json.Marshal(wo.Payload(previousStatus))
	if err != nil {
		return err
	}
	_, err = h.outbox.Insert(ctx, tx, outbox.Change{
		ChangeType:    changeType,
		AggregateID:   wo.ID,
		AggregateType: "WorkOrder",
		Payload:       payload,
	})
	return err
}

func (h *Handler) serverError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

type workOrderBody struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	AssignedTo  string `json:"assigned_to"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func workOrderResponse(wo model.WorkOrder) workOrderBody {
	return workOrderBody{
		ID:          wo.ID,
		OrgID:       wo.OrgID,
		Title:       wo.Title,
		Description: wo.Description,
		Status:      wo.Status,
		Priority:    wo.Priority,
		AssignedTo:  wo.AssignedTo,
		CreatedAt:   wo.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   wo.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

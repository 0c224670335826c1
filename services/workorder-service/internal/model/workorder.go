package model

import "time"

const (
	StatusOpen       = "OPEN"
	StatusInProgress = "IN_PROGRESS"
	StatusClosed     = "CLOSED"
)

type WorkOrder struct {
	ID          string
	OrgID       string
	Title       string
	Description string
	Status      string
	Priority    string
	AssignedTo  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func ValidStatus(s string) bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusClosed:
		return true
	}
	return false
}

// ChangePayload is the post-write state of a work order as it appears in a
// change record's payload document. Field names are the snake_case source
// names the downstream projection maps from.
type ChangePayload struct {
	WorkOrderID    string `json:"work_order_id"`
	OrgID          string `json:"org_id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Status         string `json:"status"`
	Priority       string `json:"priority"`
	AssignedTo     string `json:"assigned_to"`
	PreviousStatus string `json:"previous_status,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// Payload builds the change payload for the work order's current state.
// previousStatus is set only on status transitions; the projector needs it
// to compute the old key it must delete.
func (w WorkOrder) Payload(previousStatus string) ChangePayload {
	return ChangePayload{
		WorkOrderID:    w.ID,
		OrgID:          w.OrgID,
		Title:          w.Title,
		Description:    w.Description,
		Status:         w.Status,
		Priority:       w.Priority,
		AssignedTo:     w.AssignedTo,
		PreviousStatus: previousStatus,
		CreatedAt:      w.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      w.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

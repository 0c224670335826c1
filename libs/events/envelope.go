package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Change types emitted for work orders. The status-changed type is distinct
// from a plain update because applying it requires a projection key
// migration, not just an overwrite.
const (
	TypeWorkOrderCreated       = "WorkOrderCreated"
	TypeWorkOrderUpdated       = "WorkOrderUpdated"
	TypeWorkOrderStatusChanged = "WorkOrderStatusChanged"
)

// Envelope is the wire format on the bus: a lossless projection of one
// change record. It carries no mutable state of its own.
type Envelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurredAt"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	Data          json.RawMessage `json:"data"`
	TraceID       string          `json:"traceId,omitempty"`
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope missing id")
	}
	if e.Type == "" {
		return fmt.Errorf("envelope %s missing type", e.ID)
	}
	if e.AggregateID == "" {
		return fmt.Errorf("envelope %s missing aggregateId", e.ID)
	}
	return nil
}

func Decode(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

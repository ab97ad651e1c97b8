package models

import (
	"encoding/json"
	"time"
)

// Branch operational event names
const (
	EventKitchenOrderCreated   = "kitchen.order.created"
	EventKitchenOrderStarted   = "kitchen.order.started"
	EventKitchenOrderCompleted = "kitchen.order.completed"
	EventOrderCreated          = "order.created"
	EventOrderCompleted        = "order.completed"
	EventTableOccupied         = "table.occupied"
	EventTableReleased         = "table.released"
	EventTableReserved         = "table.reserved"
	EventEmployeeCheckin       = "employee.checkin"
	EventEmployeeCheckout      = "employee.checkout"
	EventEmployeeBreakStart    = "employee.break.start"
	EventEmployeeBreakEnd      = "employee.break.end"
	EventQueueCustomerJoined   = "queue.customer.joined"
	EventQueueCustomerServed   = "queue.customer.served"
	EventSLABreach             = "sla.breach"
)

// BranchEvent is the envelope shared by the webhook and the branch-events topic
type BranchEvent struct {
	EventID   string          `json:"eventId,omitempty"`
	Event     string          `json:"event"`
	BranchID  string          `json:"branchId"`
	Timestamp string          `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// OccurredAt parses the envelope timestamp, falling back to now when absent or malformed
func (e *BranchEvent) OccurredAt() time.Time {
	if e.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
			return ts
		}
	}
	return time.Now().UTC()
}

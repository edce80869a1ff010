package auditlog

import "time"

// EventType groups trail entries for filtering.
type EventType string

const (
	EventRunSubmitted   EventType = "run_submitted"
	EventRunCancelled   EventType = "run_cancelled"
	EventRunFinished    EventType = "run_finished"
	EventJobTransition  EventType = "job_transition"
	EventReportRendered EventType = "report_rendered"
	EventInventory      EventType = "inventory_change"
)

// Event is one append-only audit trail entry.
type Event struct {
	ID         int64     `json:"id"`
	Type       EventType `json:"type"`
	RunID      string    `json:"run_id,omitempty"`
	JobID      string    `json:"job_id,omitempty"`
	ClientID   string    `json:"client_id,omitempty"`
	FirewallID string    `json:"firewall_id,omitempty"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

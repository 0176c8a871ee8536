package entity

import "time"

// AuditEvent records one engine decision (gate verdict, round outcome,
// allocation result). Events are append-only: written once, never mutated.
type AuditEvent struct {
	Timestamp time.Time
	Node      string
	Message   string
	Details   map[string]any
}

// NewAuditEvent stamps an event with the current UTC time.
func NewAuditEvent(node, message string, details map[string]any) AuditEvent {
	return AuditEvent{
		Timestamp: time.Now().UTC(),
		Node:      node,
		Message:   message,
		Details:   details,
	}
}

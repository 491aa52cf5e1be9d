package domain

import "time"

// TicketHistory is an immutable audit trail entry derived from workflow events.
type TicketHistory struct {
	ID        string
	OrgID     string
	TicketID  string
	ActorID   string
	EventType string
	Payload   map[string]any
	CreatedAt time.Time
}

package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/itsm-workflow/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated          EventType = "TicketCreated"
	EventTicketStatusChanged    EventType = "TicketStatusChanged"
	EventTicketAssigned         EventType = "TicketAssigned"
	EventTicketUpdateAdded      EventType = "TicketUpdateAdded"
	EventTicketPriorityChanged  EventType = "TicketPriorityChanged"
	EventChangeApproved         EventType = "ChangeApproved"
	EventChangeRejected         EventType = "ChangeRejected"
	EventServiceRequestApproved EventType = "ServiceRequestApproved"
	EventServiceRequestRejected EventType = "ServiceRequestRejected"
	EventSLAAtRisk              EventType = "SLAAtRisk"
	EventSLACritical            EventType = "SLACritical"
	EventSLABreached            EventType = "SLABreached"
	EventEscalationRequired     EventType = "EscalationRequired"
)

// AllEventTypes lists every event the engine can emit.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketStatusChanged,
	EventTicketAssigned,
	EventTicketUpdateAdded,
	EventTicketPriorityChanged,
	EventChangeApproved,
	EventChangeRejected,
	EventServiceRequestApproved,
	EventServiceRequestRejected,
	EventSLAAtRisk,
	EventSLACritical,
	EventSLABreached,
	EventEscalationRequired,
}

// Event represents a domain event emitted by the workflow engine.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	OrgID      string            `json:"org_id"`
	TicketID   string            `json:"ticket_id"`
	TicketType domain.TicketType `json:"ticket_type"`
	ActorID    string            `json:"actor_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Payload    interface{}       `json:"payload,omitempty"`
}

// NewTicketEvent stamps an event for ticket with a fresh id.
func NewTicketEvent(eventType EventType, ticket *domain.Ticket, actorID string, at time.Time, payload interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OrgID:      ticket.OrgID,
		TicketID:   ticket.ID,
		TicketType: ticket.TicketType,
		ActorID:    actorID,
		Timestamp:  at,
		Payload:    payload,
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Title    string                `json:"title"`
	Status   domain.TicketStatus   `json:"status"`
	Priority domain.TicketPriority `json:"priority"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}

// TicketAssignedPayload payload. A nil assignee means the ticket was unassigned.
type TicketAssignedPayload struct {
	AssigneeID         *string `json:"assignee_id"`
	PreviousAssigneeID *string `json:"previous_assignee_id,omitempty"`
}

// TicketUpdateAddedPayload payload.
type TicketUpdateAddedPayload struct {
	UpdateID string `json:"update_id"`
	Internal bool   `json:"internal"`
	Preview  string `json:"preview"`
}

// TicketPriorityChangedPayload payload.
type TicketPriorityChangedPayload struct {
	OldPriority domain.TicketPriority `json:"old_priority"`
	NewPriority domain.TicketPriority `json:"new_priority"`
}

// ApprovalDecisionPayload payload for approve/reject events.
type ApprovalDecisionPayload struct {
	ApproverID string `json:"approver_id"`
	Reason     string `json:"reason,omitempty"`
}

// SLAPayload payload for threshold and escalation events.
type SLAPayload struct {
	Priority           domain.TicketPriority `json:"priority"`
	ResolutionDeadline time.Time             `json:"resolution_deadline"`
	PercentRemaining   float64               `json:"percent_remaining"`
	AssignedTo         *string               `json:"assigned_to,omitempty"`
}

package domain

import "time"

// TicketType discriminates the work-item kinds sharing the tickets collection.
type TicketType string

const (
	TicketTypeTicket         TicketType = "ticket"
	TicketTypeIncident       TicketType = "incident"
	TicketTypeProblem        TicketType = "problem"
	TicketTypeChange         TicketType = "change"
	TicketTypeServiceRequest TicketType = "service_request"
)

// TicketTypes lists every supported type.
var TicketTypes = []TicketType{
	TicketTypeTicket,
	TicketTypeIncident,
	TicketTypeProblem,
	TicketTypeChange,
	TicketTypeServiceRequest,
}

// TicketStatus is a lifecycle state; the legal set depends on the ticket type.
type TicketStatus string

const (
	StatusOpen            TicketStatus = "open"
	StatusInProgress      TicketStatus = "in_progress"
	StatusResolved        TicketStatus = "resolved"
	StatusClosed          TicketStatus = "closed"
	StatusInvestigating   TicketStatus = "investigating"
	StatusIdentified      TicketStatus = "identified"
	StatusMonitoring      TicketStatus = "monitoring"
	StatusKnownError      TicketStatus = "known_error"
	StatusDraft           TicketStatus = "draft"
	StatusPendingApproval TicketStatus = "pending_approval"
	StatusApproved        TicketStatus = "approved"
	StatusRejected        TicketStatus = "rejected"
	StatusScheduled       TicketStatus = "scheduled"
	StatusImplementing    TicketStatus = "implementing"
	StatusCompleted       TicketStatus = "completed"
	StatusCancelled       TicketStatus = "cancelled"
	StatusSubmitted       TicketStatus = "submitted"
)

// TicketPriority drives the SLA budget.
type TicketPriority string

const (
	PriorityLow      TicketPriority = "low"
	PriorityMedium   TicketPriority = "medium"
	PriorityHigh     TicketPriority = "high"
	PriorityCritical TicketPriority = "critical"
)

// IsValid reports whether p is a known priority.
func (p TicketPriority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// ApprovalStatus tracks the approval sub-flow of changes and service requests.
type ApprovalStatus string

const (
	ApprovalNone     ApprovalStatus = "none"
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// SLA holds the budgets, absolute deadlines and the sticky escalation facts of a ticket.
// Breached and the *NotifiedAt/EscalatedAt timestamps only ever move from unset to set.
type SLA struct {
	ResponseMinutes    int
	ResolutionMinutes  int
	ResponseDeadline   time.Time
	ResolutionDeadline time.Time
	Breached           bool
	BreachedAt         *time.Time
	AtRiskNotifiedAt   *time.Time
	CriticalNotifiedAt *time.Time
	EscalatedAt        *time.Time
}

// TicketUpdate is an entry of the append-only incident/problem update log.
type TicketUpdate struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Internal  bool      `json:"internal"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Approval records who decided on a gated item.
type Approval struct {
	DecidedBy string
	DecidedAt time.Time
	Reason    string
}

// Ticket is the aggregate for every work-item kind.
type Ticket struct {
	ID              string
	OrgID           string
	TicketType      TicketType
	Title           string
	Description     string
	Status          TicketStatus
	Priority        TicketPriority
	Metadata        Metadata
	SLA             SLA
	ApprovalStatus  ApprovalStatus
	Approval        *Approval
	AssignedTo      *string
	Updates         []TicketUpdate
	CreatedBy       string
	FirstResponseAt *time.Time
	ResolvedAt      *time.Time
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsOwnedBy reports whether the user created or is assigned to the ticket.
func (t *Ticket) IsOwnedBy(userID string) bool {
	if userID == "" {
		return false
	}
	if t.CreatedBy == userID {
		return true
	}
	return t.AssignedTo != nil && *t.AssignedTo == userID
}

// Clone returns a deep copy so stores and callers never share mutable state.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.AssignedTo = clonePtr(t.AssignedTo)
	c.FirstResponseAt = clonePtr(t.FirstResponseAt)
	c.ResolvedAt = clonePtr(t.ResolvedAt)
	c.SLA.BreachedAt = clonePtr(t.SLA.BreachedAt)
	c.SLA.AtRiskNotifiedAt = clonePtr(t.SLA.AtRiskNotifiedAt)
	c.SLA.CriticalNotifiedAt = clonePtr(t.SLA.CriticalNotifiedAt)
	c.SLA.EscalatedAt = clonePtr(t.SLA.EscalatedAt)
	if t.Approval != nil {
		approval := *t.Approval
		c.Approval = &approval
	}
	if t.Updates != nil {
		c.Updates = append([]TicketUpdate(nil), t.Updates...)
	}
	if t.Metadata != nil {
		c.Metadata = t.Metadata.clone()
	}
	return &c
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

package dto

import (
	"encoding/json"
	"time"

	"github.com/spec-kit/itsm-workflow/internal/domain"
)

// CreateTicketRequest payload. Metadata is decoded against TicketType.
type CreateTicketRequest struct {
	TicketType  domain.TicketType     `json:"ticket_type"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Priority    domain.TicketPriority `json:"priority"`
	Metadata    json.RawMessage       `json:"metadata"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status domain.TicketStatus `json:"status"`
}

// AssignRequest payload. A null assignee unassigns.
type AssignRequest struct {
	AssigneeID *string `json:"assignee_id"`
}

// AddUpdateRequest payload.
type AddUpdateRequest struct {
	Message  string `json:"message"`
	Internal bool   `json:"internal"`
}

// UpdateMetadataRequest payload.
type UpdateMetadataRequest struct {
	Metadata json.RawMessage `json:"metadata"`
}

// UpdatePriorityRequest payload.
type UpdatePriorityRequest struct {
	Priority domain.TicketPriority `json:"priority"`
}

// RejectRequest payload.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// SLAResponse combines stored deadlines with the read-time clock.
type SLAResponse struct {
	ResponseMinutes      int        `json:"response_minutes"`
	ResolutionMinutes    int        `json:"resolution_minutes"`
	ResponseDeadline     time.Time  `json:"response_deadline"`
	ResolutionDeadline   time.Time  `json:"resolution_deadline"`
	Breached             bool       `json:"breached"`
	BreachedAt           *time.Time `json:"breached_at,omitempty"`
	AtRiskNotifiedAt     *time.Time `json:"at_risk_notified_at,omitempty"`
	CriticalNotifiedAt   *time.Time `json:"critical_notified_at,omitempty"`
	EscalatedAt          *time.Time `json:"escalated_at,omitempty"`
	PercentRemaining     float64    `json:"percent_remaining"`
	TimeRemainingSeconds int64      `json:"time_remaining_seconds"`
}

// ApprovalResponse describes the approval decision of gated tickets.
type ApprovalResponse struct {
	Status    domain.ApprovalStatus `json:"status"`
	DecidedBy string                `json:"decided_by,omitempty"`
	DecidedAt *time.Time            `json:"decided_at,omitempty"`
	Reason    string                `json:"reason,omitempty"`
}

// TicketUpdateResponse is one update log entry.
type TicketUpdateResponse struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Internal  bool      `json:"internal"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TicketResponse provides full ticket info.
type TicketResponse struct {
	ID              string                 `json:"id"`
	TicketType      domain.TicketType      `json:"ticket_type"`
	Title           string                 `json:"title"`
	Description     string                 `json:"description"`
	Status          domain.TicketStatus    `json:"status"`
	AllowedStatuses []domain.TicketStatus  `json:"allowed_statuses"`
	Priority        domain.TicketPriority  `json:"priority"`
	Metadata        domain.Metadata        `json:"metadata"`
	SLA             SLAResponse            `json:"sla"`
	Approval        ApprovalResponse       `json:"approval"`
	AssignedTo      *string                `json:"assigned_to"`
	Updates         []TicketUpdateResponse `json:"updates,omitempty"`
	CreatedBy       string                 `json:"created_by"`
	FirstResponseAt *time.Time             `json:"first_response_at,omitempty"`
	ResolvedAt      *time.Time             `json:"resolved_at,omitempty"`
	Version         int64                  `json:"version"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// TicketHistoryResponse is one audit trail entry.
type TicketHistoryResponse struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	ActorID   string         `json:"actor_id"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

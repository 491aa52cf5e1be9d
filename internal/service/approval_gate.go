package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spec-kit/itsm-workflow/internal/domain"
	"github.com/spec-kit/itsm-workflow/internal/events"
	apperrors "github.com/spec-kit/itsm-workflow/pkg/util"
)

// MinRejectionReasonLength is counted in characters after trimming.
const MinRejectionReasonLength = 10

// ApprovalGate runs the pending_approval -> approved/rejected sub-flow of gated types.
type ApprovalGate struct {
	perms     *PermissionGate
	validator TransitionValidator
}

// NewApprovalGate builds the gate. validator supplies the allowed statuses reported when
// a decision is attempted outside pending_approval.
func NewApprovalGate(perms *PermissionGate, validator TransitionValidator) *ApprovalGate {
	return &ApprovalGate{perms: perms, validator: validator}
}

// ValidateReason checks a rejection reason before any ticket is loaded.
func (g *ApprovalGate) ValidateReason(reason string) (string, error) {
	trimmed := strings.TrimSpace(reason)
	if utf8.RuneCountInString(trimmed) < MinRejectionReasonLength {
		return "", apperrors.NewValidationError("rejection reason must be at least 10 characters",
			map[string]any{"field": "reason", "min_length": MinRejectionReasonLength})
	}
	return trimmed, nil
}

// Approve grants the pending approval of ticket in place.
func (g *ApprovalGate) Approve(ctx context.Context, actor domain.Actor, ticket *domain.Ticket, now time.Time) (events.Event, error) {
	if err := g.precheck(ctx, actor, ticket, domain.StatusApproved); err != nil {
		return events.Event{}, err
	}
	ticket.Status = domain.StatusApproved
	ticket.ApprovalStatus = domain.ApprovalApproved
	ticket.Approval = &domain.Approval{DecidedBy: actor.UserID, DecidedAt: now}
	if ticket.FirstResponseAt == nil {
		ticket.FirstResponseAt = &now
	}

	eventType := events.EventChangeApproved
	if ticket.TicketType == domain.TicketTypeServiceRequest {
		eventType = events.EventServiceRequestApproved
	}
	return events.NewTicketEvent(eventType, ticket, actor.UserID, now, events.ApprovalDecisionPayload{
		ApproverID: actor.UserID,
	}), nil
}

// Reject declines the pending approval of ticket in place. reason must already have
// passed ValidateReason.
func (g *ApprovalGate) Reject(ctx context.Context, actor domain.Actor, ticket *domain.Ticket, reason string, now time.Time) (events.Event, error) {
	if err := g.precheck(ctx, actor, ticket, domain.StatusRejected); err != nil {
		return events.Event{}, err
	}
	ticket.Status = domain.StatusRejected
	ticket.ApprovalStatus = domain.ApprovalRejected
	ticket.Approval = &domain.Approval{DecidedBy: actor.UserID, DecidedAt: now, Reason: reason}
	if ticket.FirstResponseAt == nil {
		ticket.FirstResponseAt = &now
	}
	if ticket.ResolvedAt == nil {
		ticket.ResolvedAt = &now
	}

	eventType := events.EventChangeRejected
	if ticket.TicketType == domain.TicketTypeServiceRequest {
		eventType = events.EventServiceRequestRejected
	}
	return events.NewTicketEvent(eventType, ticket, actor.UserID, now, events.ApprovalDecisionPayload{
		ApproverID: actor.UserID,
		Reason:     reason,
	}), nil
}

func (g *ApprovalGate) precheck(ctx context.Context, actor domain.Actor, ticket *domain.Ticket, outcome domain.TicketStatus) error {
	policy := domain.MustPolicyFor(ticket.TicketType)
	if !policy.RequiresApproval() {
		return apperrors.NewValidationError("approval applies only to changes and service requests",
			map[string]any{"ticket_type": ticket.TicketType})
	}
	if err := g.perms.Authorize(ctx, actor, ticket.TicketType, ActionApprove, ticket); err != nil {
		return err
	}
	if ticket.Status != domain.StatusPendingApproval {
		return apperrors.NewInvalidTransition(string(ticket.Status), string(outcome),
			domain.StatusStrings(g.validator.Targets(ticket)))
	}
	return nil
}

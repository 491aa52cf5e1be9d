package service

import (
	"github.com/spec-kit/itsm-workflow/internal/domain"
	apperrors "github.com/spec-kit/itsm-workflow/pkg/util"
)

// TransitionValidator decides whether a ticket may move to target through UpdateStatus.
type TransitionValidator interface {
	Validate(ticket *domain.Ticket, target domain.TicketStatus) error
	// Targets lists the statuses UpdateStatus would currently accept.
	Targets(ticket *domain.Ticket) []domain.TicketStatus
}

// MembershipValidator accepts any status of the type's state set from any non-terminal
// status. Approval outcomes are left to ApprovalGate and post-approval work states need
// a granted approval.
type MembershipValidator struct{}

// NewMembershipValidator returns the permissive validator.
func NewMembershipValidator() MembershipValidator {
	return MembershipValidator{}
}

func (MembershipValidator) Validate(ticket *domain.Ticket, target domain.TicketStatus) error {
	return validateAgainst(ticket, target, membershipTargets(ticket))
}

func (MembershipValidator) Targets(ticket *domain.Ticket) []domain.TicketStatus {
	return membershipTargets(ticket)
}

func membershipTargets(ticket *domain.Ticket) []domain.TicketStatus {
	policy := domain.MustPolicyFor(ticket.TicketType)
	if policy.IsTerminal(ticket.Status) {
		return []domain.TicketStatus{}
	}
	targets := make([]domain.TicketStatus, 0, len(policy.States()))
	for _, status := range policy.States() {
		if status == ticket.Status {
			continue
		}
		if policy.RequiresApproval() {
			if status == domain.StatusApproved || status == domain.StatusRejected {
				continue
			}
			if policy.RequiresApprovedFor(status) && ticket.ApprovalStatus != domain.ApprovalApproved {
				continue
			}
		}
		targets = append(targets, status)
	}
	return targets
}

// GraphTransitionValidator restricts membership moves to an explicit adjacency table.
type GraphTransitionValidator struct {
	edges map[domain.TicketType]map[domain.TicketStatus][]domain.TicketStatus
}

// NewGraphTransitionValidator returns the validator with the default lifecycle graphs.
func NewGraphTransitionValidator() GraphTransitionValidator {
	return GraphTransitionValidator{edges: defaultTransitionGraph()}
}

func (v GraphTransitionValidator) Validate(ticket *domain.Ticket, target domain.TicketStatus) error {
	return validateAgainst(ticket, target, v.Targets(ticket))
}

func (v GraphTransitionValidator) Targets(ticket *domain.Ticket) []domain.TicketStatus {
	next := v.edges[ticket.TicketType][ticket.Status]
	targets := make([]domain.TicketStatus, 0, len(next))
	for _, status := range membershipTargets(ticket) {
		if containsStatus(next, status) {
			targets = append(targets, status)
		}
	}
	return targets
}

func defaultTransitionGraph() map[domain.TicketType]map[domain.TicketStatus][]domain.TicketStatus {
	return map[domain.TicketType]map[domain.TicketStatus][]domain.TicketStatus{
		domain.TicketTypeTicket: {
			domain.StatusOpen:       {domain.StatusInProgress, domain.StatusResolved, domain.StatusClosed},
			domain.StatusInProgress: {domain.StatusOpen, domain.StatusResolved, domain.StatusClosed},
			domain.StatusResolved:   {domain.StatusInProgress, domain.StatusClosed},
		},
		domain.TicketTypeIncident: {
			domain.StatusInvestigating: {domain.StatusIdentified, domain.StatusMonitoring, domain.StatusResolved},
			domain.StatusIdentified:    {domain.StatusInvestigating, domain.StatusMonitoring, domain.StatusResolved},
			domain.StatusMonitoring:    {domain.StatusIdentified, domain.StatusResolved},
		},
		domain.TicketTypeProblem: {
			domain.StatusOpen:          {domain.StatusInvestigating, domain.StatusClosed},
			domain.StatusInvestigating: {domain.StatusKnownError, domain.StatusResolved, domain.StatusClosed},
			domain.StatusKnownError:    {domain.StatusInvestigating, domain.StatusResolved, domain.StatusClosed},
			domain.StatusResolved:      {domain.StatusInvestigating, domain.StatusClosed},
		},
		domain.TicketTypeChange: {
			domain.StatusDraft:           {domain.StatusPendingApproval, domain.StatusCancelled},
			domain.StatusPendingApproval: {domain.StatusDraft, domain.StatusCancelled},
			domain.StatusApproved:        {domain.StatusScheduled, domain.StatusCancelled},
			domain.StatusScheduled:       {domain.StatusImplementing, domain.StatusCancelled},
			domain.StatusImplementing:    {domain.StatusCompleted, domain.StatusCancelled},
		},
		domain.TicketTypeServiceRequest: {
			domain.StatusSubmitted:       {domain.StatusPendingApproval, domain.StatusCancelled},
			domain.StatusPendingApproval: {domain.StatusSubmitted, domain.StatusCancelled},
			domain.StatusApproved:        {domain.StatusInProgress, domain.StatusCancelled},
			domain.StatusInProgress:      {domain.StatusCompleted, domain.StatusCancelled},
		},
	}
}

func validateAgainst(ticket *domain.Ticket, target domain.TicketStatus, allowed []domain.TicketStatus) error {
	if containsStatus(allowed, target) {
		return nil
	}
	return apperrors.NewInvalidTransition(string(ticket.Status), string(target), domain.StatusStrings(allowed))
}

func containsStatus(list []domain.TicketStatus, status domain.TicketStatus) bool {
	for _, candidate := range list {
		if candidate == status {
			return true
		}
	}
	return false
}

package domain

import (
	apperrors "github.com/spec-kit/itsm-workflow/pkg/util"
)

// TypePolicy is the per-type strategy consulted by the workflow engine.
type TypePolicy interface {
	Type() TicketType
	InitialStatus() TicketStatus
	States() []TicketStatus
	Allows(status TicketStatus) bool
	IsTerminal(status TicketStatus) bool
	TerminalStates() []TicketStatus
	RequiresApproval() bool
	// RequiresApprovedFor reports whether entering status needs a granted approval.
	RequiresApprovedFor(status TicketStatus) bool
	DerivesPriority() bool
	// PriorityFrom returns the priority implied by metadata. ok is false for types
	// whose priority is chosen by the caller.
	PriorityFrom(m Metadata) (priority TicketPriority, ok bool, err error)
	AcceptsUpdates() bool
	PermissionFamily() string
}

type statePolicy struct {
	ticketType TicketType
	family     string
	initial    TicketStatus
	states     []TicketStatus
	terminal   []TicketStatus
}

func (p statePolicy) Type() TicketType            { return p.ticketType }
func (p statePolicy) InitialStatus() TicketStatus { return p.initial }
func (p statePolicy) PermissionFamily() string    { return p.family }
func (p statePolicy) RequiresApproval() bool      { return false }
func (p statePolicy) DerivesPriority() bool       { return false }
func (p statePolicy) AcceptsUpdates() bool        { return false }

func (p statePolicy) States() []TicketStatus {
	return append([]TicketStatus(nil), p.states...)
}

func (p statePolicy) TerminalStates() []TicketStatus {
	return append([]TicketStatus(nil), p.terminal...)
}

func (p statePolicy) Allows(status TicketStatus) bool {
	return containsStatus(p.states, status)
}

func (p statePolicy) IsTerminal(status TicketStatus) bool {
	return containsStatus(p.terminal, status)
}

func (p statePolicy) RequiresApprovedFor(TicketStatus) bool { return false }

func (p statePolicy) PriorityFrom(Metadata) (TicketPriority, bool, error) {
	return "", false, nil
}

type ticketPolicy struct{ statePolicy }

type incidentPolicy struct{ statePolicy }

func (incidentPolicy) DerivesPriority() bool { return true }
func (incidentPolicy) AcceptsUpdates() bool  { return true }

func (incidentPolicy) PriorityFrom(m Metadata) (TicketPriority, bool, error) {
	im, ok := m.(IncidentMetadata)
	if !ok {
		return "", true, metadataMismatch(TicketTypeIncident, m)
	}
	p, err := DerivePriority(im.Impact, im.Urgency)
	return p, true, err
}

type problemPolicy struct{ statePolicy }

func (problemPolicy) DerivesPriority() bool { return true }
func (problemPolicy) AcceptsUpdates() bool  { return true }

func (problemPolicy) PriorityFrom(m Metadata) (TicketPriority, bool, error) {
	pm, ok := m.(ProblemMetadata)
	if !ok {
		return "", true, metadataMismatch(TicketTypeProblem, m)
	}
	p, err := DerivePriority(pm.Impact, pm.Urgency)
	return p, true, err
}

// gatedPolicy covers types whose work starts only after an approval decision.
type gatedPolicy struct {
	statePolicy
	afterApproval []TicketStatus
}

func (gatedPolicy) RequiresApproval() bool { return true }

func (p gatedPolicy) RequiresApprovedFor(status TicketStatus) bool {
	return containsStatus(p.afterApproval, status)
}

type changePolicy struct{ gatedPolicy }

type serviceRequestPolicy struct{ gatedPolicy }

var (
	ticketTypePolicy = ticketPolicy{statePolicy{
		ticketType: TicketTypeTicket,
		family:     "tickets",
		initial:    StatusOpen,
		states:     []TicketStatus{StatusOpen, StatusInProgress, StatusResolved, StatusClosed},
		terminal:   []TicketStatus{StatusClosed},
	}}
	incidentTypePolicy = incidentPolicy{statePolicy{
		ticketType: TicketTypeIncident,
		family:     "incidents",
		initial:    StatusInvestigating,
		states:     []TicketStatus{StatusInvestigating, StatusIdentified, StatusMonitoring, StatusResolved},
		terminal:   []TicketStatus{StatusResolved},
	}}
	problemTypePolicy = problemPolicy{statePolicy{
		ticketType: TicketTypeProblem,
		family:     "problems",
		initial:    StatusOpen,
		states:     []TicketStatus{StatusOpen, StatusInvestigating, StatusKnownError, StatusResolved, StatusClosed},
		terminal:   []TicketStatus{StatusClosed},
	}}
	changeTypePolicy = changePolicy{gatedPolicy{
		statePolicy: statePolicy{
			ticketType: TicketTypeChange,
			family:     "changes",
			initial:    StatusDraft,
			states: []TicketStatus{StatusDraft, StatusPendingApproval, StatusApproved, StatusRejected,
				StatusScheduled, StatusImplementing, StatusCompleted, StatusCancelled},
			terminal: []TicketStatus{StatusRejected, StatusCompleted, StatusCancelled},
		},
		afterApproval: []TicketStatus{StatusScheduled, StatusImplementing, StatusCompleted},
	}}
	serviceRequestTypePolicy = serviceRequestPolicy{gatedPolicy{
		statePolicy: statePolicy{
			ticketType: TicketTypeServiceRequest,
			family:     "service_requests",
			initial:    StatusSubmitted,
			states: []TicketStatus{StatusSubmitted, StatusPendingApproval, StatusApproved, StatusRejected,
				StatusInProgress, StatusCompleted, StatusCancelled},
			terminal: []TicketStatus{StatusRejected, StatusCompleted, StatusCancelled},
		},
		afterApproval: []TicketStatus{StatusInProgress, StatusCompleted},
	}}
)

// PolicyFor returns the strategy for a ticket type.
func PolicyFor(t TicketType) (TypePolicy, error) {
	switch t {
	case TicketTypeTicket:
		return ticketTypePolicy, nil
	case TicketTypeIncident:
		return incidentTypePolicy, nil
	case TicketTypeProblem:
		return problemTypePolicy, nil
	case TicketTypeChange:
		return changeTypePolicy, nil
	case TicketTypeServiceRequest:
		return serviceRequestTypePolicy, nil
	default:
		return nil, apperrors.NewValidationError("unknown ticket type", map[string]any{"ticket_type": t})
	}
}

// MustPolicyFor is PolicyFor for types already validated at creation.
func MustPolicyFor(t TicketType) TypePolicy {
	p, err := PolicyFor(t)
	if err != nil {
		panic(err)
	}
	return p
}

// StatusStrings converts statuses for error details.
func StatusStrings(statuses []TicketStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func containsStatus(list []TicketStatus, status TicketStatus) bool {
	for _, candidate := range list {
		if candidate == status {
			return true
		}
	}
	return false
}

func metadataMismatch(want TicketType, m Metadata) error {
	got := TicketType("")
	if m != nil {
		got = m.TicketType()
	}
	return apperrors.NewValidationError("metadata does not match ticket type",
		map[string]any{"ticket_type": want, "metadata_type": got})
}

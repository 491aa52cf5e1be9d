package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/itsm-workflow/internal/domain"
	"github.com/spec-kit/itsm-workflow/internal/events"
	"github.com/spec-kit/itsm-workflow/internal/observability"
	"github.com/spec-kit/itsm-workflow/internal/repository"
	"github.com/spec-kit/itsm-workflow/internal/sla"
	apperrors "github.com/spec-kit/itsm-workflow/pkg/util"
)

const (
	defaultMaxConflictRetry = 3
	minUpdateMessageLength  = 10
	updatePreviewLength     = 80
)

// errNoChange ends a mutation without a write or an event.
var errNoChange = errors.New("no change")

// WorkflowEngine is the single entry point for ticket mutations. Every operation
// authorizes, validates completely and then issues one conditional write.
type WorkflowEngine struct {
	tickets   repository.TicketRepository
	users     repository.UserRepository
	perms     *PermissionGate
	validator TransitionValidator
	approvals *ApprovalGate
	clock     *sla.Clock
	sink      events.Sink
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
	maxRetry  int
}

// EngineDependencies bundles collaborators for the engine.
type EngineDependencies struct {
	TicketRepo       repository.TicketRepository
	UserRepo         repository.UserRepository
	Permissions      PermissionChecker
	Validator        TransitionValidator
	Clock            *sla.Clock
	Sink             events.Sink
	Metrics          *observability.Metrics
	Logger           *zap.Logger
	Now              func() time.Time
	MaxConflictRetry int
}

// CreateTicketInput describes ticket creation payload. Priority is ignored for types that
// derive it from impact and urgency.
type CreateTicketInput struct {
	TicketType  domain.TicketType
	Title       string
	Description string
	Priority    domain.TicketPriority
	Metadata    domain.Metadata
}

// ListTicketsInput describes listing filters.
type ListTicketsInput struct {
	TicketType *domain.TicketType
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	AssignedTo *string
	Limit      int
	Offset     int
}

// NewWorkflowEngine constructs the engine.
func NewWorkflowEngine(deps EngineDependencies) *WorkflowEngine {
	perms := NewPermissionGate(deps.Permissions)
	e := &WorkflowEngine{
		tickets:   deps.TicketRepo,
		users:     deps.UserRepo,
		perms:     perms,
		validator: deps.Validator,
		clock:     deps.Clock,
		sink:      deps.Sink,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       deps.Now,
		maxRetry:  deps.MaxConflictRetry,
	}
	if e.validator == nil {
		e.validator = NewMembershipValidator()
	}
	e.approvals = NewApprovalGate(perms, e.validator)
	if e.clock == nil {
		e.clock = sla.NewClock(nil)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.maxRetry <= 0 {
		e.maxRetry = defaultMaxConflictRetry
	}
	return e
}

// Create validates and stores a new ticket in its type's initial state.
func (e *WorkflowEngine) Create(ctx context.Context, actor domain.Actor, input CreateTicketInput) (*domain.Ticket, error) {
	policy, err := domain.PolicyFor(input.TicketType)
	if err != nil {
		return nil, err
	}
	if err := e.perms.Authorize(ctx, actor, input.TicketType, ActionCreate, nil); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewValidationError("title is required", map[string]any{"field": "title"})
	}
	metadata, err := e.checkMetadata(input.TicketType, input.Metadata)
	if err != nil {
		return nil, err
	}
	priority, err := resolvePriority(policy, metadata, input.Priority)
	if err != nil {
		return nil, err
	}

	now := e.now()
	deadlines, err := e.clock.ComputeDeadlines(now, priority)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	ticket := &domain.Ticket{
		ID:             uuid.NewString(),
		OrgID:          actor.OrgID,
		TicketType:     input.TicketType,
		Title:          title,
		Description:    strings.TrimSpace(input.Description),
		Status:         policy.InitialStatus(),
		Priority:       priority,
		Metadata:       metadata,
		SLA:            deadlines,
		ApprovalStatus: domain.ApprovalNone,
		CreatedBy:      actor.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.tickets.Create(ctx, ticket); err != nil {
		return nil, storeError(err)
	}

	e.logger.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("org_id", ticket.OrgID),
		zap.String("ticket_type", string(ticket.TicketType)),
		zap.String("priority", string(ticket.Priority)))
	e.publishEvent(ctx, events.NewTicketEvent(events.EventTicketCreated, ticket, actor.UserID, now, events.TicketCreatedPayload{
		Title:    ticket.Title,
		Status:   ticket.Status,
		Priority: ticket.Priority,
	}))
	return ticket, nil
}

// Get returns a ticket visible to the actor.
func (e *WorkflowEngine) Get(ctx context.Context, actor domain.Actor, id string) (*domain.Ticket, error) {
	ticket, err := e.find(ctx, actor.OrgID, id)
	if err != nil {
		return nil, err
	}
	if err := e.perms.Authorize(ctx, actor, ticket.TicketType, ActionView, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

// List returns the tickets the actor may view, newest first.
func (e *WorkflowEngine) List(ctx context.Context, actor domain.Actor, input ListTicketsInput) ([]*domain.Ticket, error) {
	types := domain.TicketTypes
	if input.TicketType != nil {
		if _, err := domain.PolicyFor(*input.TicketType); err != nil {
			return nil, err
		}
		types = []domain.TicketType{*input.TicketType}
	}

	filter := repository.TicketFilter{
		OwnerID:    actor.UserID,
		Statuses:   input.Statuses,
		Priorities: input.Priorities,
		AssignedTo: input.AssignedTo,
		Limit:      input.Limit,
		Offset:     input.Offset,
	}
	for _, ticketType := range types {
		scope, err := e.perms.ScopeOf(ctx, actor, ticketType, ActionView)
		if err != nil {
			return nil, err
		}
		switch scope {
		case ScopeAll:
			filter.Types = append(filter.Types, ticketType)
		case ScopeOwn:
			filter.OwnTypes = append(filter.OwnTypes, ticketType)
		}
	}
	if len(filter.Types) == 0 && len(filter.OwnTypes) == 0 {
		if input.TicketType != nil {
			keys, _ := e.perms.Keys(actor, *input.TicketType, ActionView, nil)
			return nil, apperrors.NewPermissionDenied(keys...)
		}
		return []*domain.Ticket{}, nil
	}

	tickets, err := e.tickets.Query(ctx, actor.OrgID, filter)
	if err != nil {
		return nil, storeError(err)
	}
	return tickets, nil
}

// SLAView computes the read-time SLA state of ticket.
func (e *WorkflowEngine) SLAView(ticket *domain.Ticket) sla.View {
	return e.clock.ViewOf(e.now(), ticket)
}

// Targets lists the statuses UpdateStatus currently accepts for ticket.
func (e *WorkflowEngine) Targets(ticket *domain.Ticket) []domain.TicketStatus {
	return e.validator.Targets(ticket)
}

// UpdateStatus moves a ticket to target. Moving to the current status is a no-op.
// A non-zero expectedVersion must match the stored version.
func (e *WorkflowEngine) UpdateStatus(ctx context.Context, actor domain.Actor, id string, target domain.TicketStatus, expectedVersion int64) (*domain.Ticket, error) {
	return e.mutate(ctx, actor, id, expectedVersion, "update_status", func(t *domain.Ticket, now time.Time) ([]events.Event, error) {
		if err := e.perms.Authorize(ctx, actor, t.TicketType, ActionEdit, t); err != nil {
			return nil, err
		}
		if t.Status == target {
			return nil, errNoChange
		}
		if err := e.validator.Validate(t, target); err != nil {
			return nil, err
		}

		policy := domain.MustPolicyFor(t.TicketType)
		old := t.Status
		t.Status = target
		switch {
		case target == domain.StatusPendingApproval:
			t.ApprovalStatus = domain.ApprovalPending
			t.Approval = nil
		case policy.RequiresApproval() && target == policy.InitialStatus():
			// Returning to the start discards any earlier decision.
			t.ApprovalStatus = domain.ApprovalNone
			t.Approval = nil
		case old == domain.StatusPendingApproval:
			t.ApprovalStatus = domain.ApprovalNone
		}
		if t.FirstResponseAt == nil {
			t.FirstResponseAt = &now
		}
		if target == domain.StatusResolved || policy.IsTerminal(target) {
			if t.ResolvedAt == nil {
				t.ResolvedAt = &now
			}
		} else {
			t.ResolvedAt = nil
		}

		e.metrics.RecordTransition(string(t.TicketType), string(old), string(target))
		return []events.Event{events.NewTicketEvent(events.EventTicketStatusChanged, t, actor.UserID, now,
			events.TicketStatusChangedPayload{OldStatus: old, NewStatus: target})}, nil
	})
}

// Assign sets or clears the assignee. Only active admins and technicians of the same
// tenant can hold tickets.
func (e *WorkflowEngine) Assign(ctx context.Context, actor domain.Actor, id string, assigneeID *string) (*domain.Ticket, error) {
	if assigneeID != nil {
		trimmed := strings.TrimSpace(*assigneeID)
		if trimmed == "" {
			assigneeID = nil
		} else {
			assigneeID = &trimmed
		}
	}

	return e.mutate(ctx, actor, id, 0, "assign", func(t *domain.Ticket, now time.Time) ([]events.Event, error) {
		if err := e.perms.Authorize(ctx, actor, t.TicketType, ActionAssign, t); err != nil {
			return nil, err
		}
		previous := t.AssignedTo
		if sameAssignee(previous, assigneeID) {
			return nil, errNoChange
		}
		if assigneeID != nil {
			if err := e.checkAssignee(ctx, actor.OrgID, *assigneeID); err != nil {
				return nil, err
			}
		}
		if assigneeID != nil {
			assignee := *assigneeID
			t.AssignedTo = &assignee
			if t.FirstResponseAt == nil {
				t.FirstResponseAt = &now
			}
		} else {
			t.AssignedTo = nil
		}
		return []events.Event{events.NewTicketEvent(events.EventTicketAssigned, t, actor.UserID, now,
			events.TicketAssignedPayload{AssigneeID: t.AssignedTo, PreviousAssigneeID: previous})}, nil
	})
}

// AddUpdate appends to the update log of incidents and problems.
func (e *WorkflowEngine) AddUpdate(ctx context.Context, actor domain.Actor, id, message string, internal bool) (*domain.Ticket, error) {
	message = strings.TrimSpace(message)
	if utf8.RuneCountInString(message) < minUpdateMessageLength {
		return nil, apperrors.NewValidationError("update message must be at least 10 characters",
			map[string]any{"field": "message", "min_length": minUpdateMessageLength})
	}

	return e.mutate(ctx, actor, id, 0, "add_update", func(t *domain.Ticket, now time.Time) ([]events.Event, error) {
		if !domain.MustPolicyFor(t.TicketType).AcceptsUpdates() {
			return nil, apperrors.NewValidationError("updates are only supported for incidents and problems",
				map[string]any{"ticket_type": t.TicketType})
		}
		if err := e.perms.Authorize(ctx, actor, t.TicketType, ActionEdit, t); err != nil {
			return nil, err
		}
		update := domain.TicketUpdate{
			ID:        uuid.NewString(),
			Message:   message,
			Internal:  internal,
			AuthorID:  actor.UserID,
			CreatedAt: now,
		}
		t.Updates = append(t.Updates, update)
		if t.FirstResponseAt == nil && actor.UserID != t.CreatedBy {
			t.FirstResponseAt = &now
		}
		return []events.Event{events.NewTicketEvent(events.EventTicketUpdateAdded, t, actor.UserID, now,
			events.TicketUpdateAddedPayload{UpdateID: update.ID, Internal: internal, Preview: preview(message)})}, nil
	})
}

// UpdateMetadata replaces the type metadata. Incident-like tickets re-derive their
// priority and, only if it changed, their deadlines.
func (e *WorkflowEngine) UpdateMetadata(ctx context.Context, actor domain.Actor, id string, metadata domain.Metadata, expectedVersion int64) (*domain.Ticket, error) {
	return e.mutate(ctx, actor, id, expectedVersion, "update_metadata", func(t *domain.Ticket, now time.Time) ([]events.Event, error) {
		if err := e.perms.Authorize(ctx, actor, t.TicketType, ActionEdit, t); err != nil {
			return nil, err
		}
		checked, err := e.checkMetadata(t.TicketType, metadata)
		if err != nil {
			return nil, err
		}
		t.Metadata = checked

		policy := domain.MustPolicyFor(t.TicketType)
		if !policy.DerivesPriority() {
			return nil, nil
		}
		priority, _, err := policy.PriorityFrom(checked)
		if err != nil {
			return nil, err
		}
		return e.reprioritize(t, priority, actor.UserID, now)
	})
}

// UpdatePriority sets the priority of types whose priority is not derived.
func (e *WorkflowEngine) UpdatePriority(ctx context.Context, actor domain.Actor, id string, priority domain.TicketPriority, expectedVersion int64) (*domain.Ticket, error) {
	if !priority.IsValid() {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": priority})
	}
	return e.mutate(ctx, actor, id, expectedVersion, "update_priority", func(t *domain.Ticket, now time.Time) ([]events.Event, error) {
		if err := e.perms.Authorize(ctx, actor, t.TicketType, ActionEdit, t); err != nil {
			return nil, err
		}
		if domain.MustPolicyFor(t.TicketType).DerivesPriority() {
			return nil, apperrors.NewValidationError("priority is derived from impact and urgency",
				map[string]any{"ticket_type": t.TicketType})
		}
		if t.Priority == priority {
			return nil, errNoChange
		}
		return e.reprioritize(t, priority, actor.UserID, now)
	})
}

// Approve grants a pending approval.
func (e *WorkflowEngine) Approve(ctx context.Context, actor domain.Actor, id string, expectedVersion int64) (*domain.Ticket, error) {
	return e.mutate(ctx, actor, id, expectedVersion, "approve", func(t *domain.Ticket, now time.Time) ([]events.Event, error) {
		event, err := e.approvals.Approve(ctx, actor, t, now)
		if err != nil {
			return nil, err
		}
		e.metrics.RecordTransition(string(t.TicketType), string(domain.StatusPendingApproval), string(t.Status))
		return []events.Event{event}, nil
	})
}

// Reject declines a pending approval with a reason of at least ten characters.
func (e *WorkflowEngine) Reject(ctx context.Context, actor domain.Actor, id, reason string, expectedVersion int64) (*domain.Ticket, error) {
	reason, err := e.approvals.ValidateReason(reason)
	if err != nil {
		return nil, err
	}
	return e.mutate(ctx, actor, id, expectedVersion, "reject", func(t *domain.Ticket, now time.Time) ([]events.Event, error) {
		event, err := e.approvals.Reject(ctx, actor, t, reason, now)
		if err != nil {
			return nil, err
		}
		e.metrics.RecordTransition(string(t.TicketType), string(domain.StatusPendingApproval), string(t.Status))
		return []events.Event{event}, nil
	})
}

// mutation edits a private copy of the stored ticket and returns the events to emit once
// the write succeeds.
type mutation func(t *domain.Ticket, now time.Time) ([]events.Event, error)

func (e *WorkflowEngine) mutate(ctx context.Context, actor domain.Actor, id string, expectedVersion int64, operation string, apply mutation) (*domain.Ticket, error) {
	attempts := e.maxRetry
	if expectedVersion != 0 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		current, err := e.find(ctx, actor.OrgID, id)
		if err != nil {
			return nil, err
		}
		if expectedVersion != 0 && current.Version != expectedVersion {
			e.metrics.RecordConflict(operation)
			return nil, apperrors.NewConcurrencyConflict("ticket", id, expectedVersion)
		}

		now := e.now()
		next := current.Clone()
		emitted, err := apply(next, now)
		if errors.Is(err, errNoChange) {
			return current, nil
		}
		if err != nil {
			return nil, err
		}
		next.UpdatedAt = now

		err = e.tickets.Save(ctx, next, current.Version)
		if err == nil {
			for _, event := range emitted {
				e.publishEvent(ctx, event)
			}
			return next, nil
		}
		if !apperrors.HasCode(err, apperrors.CodeConflict) {
			return nil, storeError(err)
		}
		e.metrics.RecordConflict(operation)
		if attempt >= attempts {
			return nil, err
		}
		e.logger.Debug("concurrent write; retrying",
			zap.String("operation", operation),
			zap.String("ticket_id", id),
			zap.Int("attempt", attempt))
	}
}

func (e *WorkflowEngine) find(ctx context.Context, orgID, id string) (*domain.Ticket, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"id": id})
	}
	ticket, err := e.tickets.Find(ctx, orgID, id)
	if err != nil {
		return nil, storeError(err)
	}
	return ticket, nil
}

func (e *WorkflowEngine) checkMetadata(ticketType domain.TicketType, metadata domain.Metadata) (domain.Metadata, error) {
	if metadata == nil {
		return domain.DecodeMetadata(ticketType, nil)
	}
	if metadata.TicketType() != ticketType {
		return nil, apperrors.NewValidationError("metadata does not match ticket type",
			map[string]any{"ticket_type": ticketType, "metadata_type": metadata.TicketType()})
	}
	if err := metadata.Validate(); err != nil {
		return nil, err
	}
	return metadata, nil
}

func (e *WorkflowEngine) checkAssignee(ctx context.Context, orgID, userID string) error {
	user, err := e.users.ResolveUser(ctx, orgID, userID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeNotFound) {
			return apperrors.NewValidationError("assignee is not a member of this organization",
				map[string]any{"field": "assignee_id"})
		}
		return apperrors.NewUnavailable("identity service", err)
	}
	if !user.IsActive {
		return apperrors.NewValidationError("assignee is not active", map[string]any{"field": "assignee_id"})
	}
	if !user.Role.CanBeAssignee() {
		return apperrors.NewValidationError("assignee role cannot hold tickets",
			map[string]any{"field": "assignee_id", "role": user.Role})
	}
	return nil
}

// reprioritize moves the deadlines with the priority, anchored at creation. Sticky
// escalation facts are kept.
func (e *WorkflowEngine) reprioritize(t *domain.Ticket, priority domain.TicketPriority, actorID string, now time.Time) ([]events.Event, error) {
	if t.Priority == priority {
		return nil, nil
	}
	deadlines, err := e.clock.ComputeDeadlines(t.CreatedAt, priority)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	old := t.Priority
	t.Priority = priority
	t.SLA.ResponseMinutes = deadlines.ResponseMinutes
	t.SLA.ResolutionMinutes = deadlines.ResolutionMinutes
	t.SLA.ResponseDeadline = deadlines.ResponseDeadline
	t.SLA.ResolutionDeadline = deadlines.ResolutionDeadline
	return []events.Event{events.NewTicketEvent(events.EventTicketPriorityChanged, t, actorID, now,
		events.TicketPriorityChangedPayload{OldPriority: old, NewPriority: priority})}, nil
}

func (e *WorkflowEngine) publishEvent(ctx context.Context, event events.Event) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Publish(context.WithoutCancel(ctx), event); err != nil {
		e.logger.Warn("event publish failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func resolvePriority(policy domain.TypePolicy, metadata domain.Metadata, requested domain.TicketPriority) (domain.TicketPriority, error) {
	if derived, ok, err := policy.PriorityFrom(metadata); ok || err != nil {
		return derived, err
	}
	if requested == "" {
		return domain.PriorityMedium, nil
	}
	if !requested.IsValid() {
		return "", apperrors.NewValidationError("invalid priority", map[string]any{"priority": requested})
	}
	return requested, nil
}

// storeError keeps domain errors and reports anything else as an unreachable store.
func storeError(err error) error {
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return apperrors.NewUnavailable("ticket store", err)
}

func sameAssignee(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func preview(message string) string {
	if utf8.RuneCountInString(message) <= updatePreviewLength {
		return message
	}
	return string([]rune(message)[:updatePreviewLength]) + "..."
}

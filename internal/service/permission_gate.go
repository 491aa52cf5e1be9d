package service

import (
	"context"
	"errors"

	"github.com/spec-kit/itsm-workflow/internal/domain"
	apperrors "github.com/spec-kit/itsm-workflow/pkg/util"
)

// PermissionChecker is the external capability collaborator.
type PermissionChecker interface {
	HasPermission(ctx context.Context, actor domain.Actor, orgID, capability string) (bool, error)
	HasAnyPermission(ctx context.Context, actor domain.Actor, orgID string, capabilities []string) (bool, error)
}

// Action is an operation family guarded by a capability key.
type Action string

const (
	ActionView    Action = "view"
	ActionEdit    Action = "edit"
	ActionCreate  Action = "create"
	ActionAssign  Action = "assign"
	ActionDelete  Action = "delete"
	ActionApprove Action = "approve"
)

// Scope says how much of a type an actor may see or edit.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeOwn
	ScopeAll
)

// CapabilityKey builds "<family>.<action>[.<scope>]".
func CapabilityKey(family string, action Action, scope string) string {
	if scope == "" {
		return family + "." + string(action)
	}
	return family + "." + string(action) + "." + scope
}

func scoped(action Action) bool {
	return action == ActionView || action == ActionEdit
}

var errNoChecker = errors.New("no permission checker configured")

// PermissionGate maps (ticket type, action) to capability keys and delegates the decision.
type PermissionGate struct {
	checker PermissionChecker
}

// NewPermissionGate wraps a checker.
func NewPermissionGate(checker PermissionChecker) *PermissionGate {
	return &PermissionGate{checker: checker}
}

// Keys returns the capability keys accepted for action on ticket. View and edit accept the
// .own key only when the actor created or holds the ticket.
func (g *PermissionGate) Keys(actor domain.Actor, ticketType domain.TicketType, action Action, ticket *domain.Ticket) ([]string, error) {
	policy, err := domain.PolicyFor(ticketType)
	if err != nil {
		return nil, err
	}
	family := policy.PermissionFamily()
	if !scoped(action) {
		return []string{CapabilityKey(family, action, "")}, nil
	}
	keys := []string{CapabilityKey(family, action, "all")}
	if ticket == nil || ticket.IsOwnedBy(actor.UserID) {
		keys = append(keys, CapabilityKey(family, action, "own"))
	}
	return keys, nil
}

// Authorize fails closed: a checker error becomes CollaboratorUnavailable and a negative
// answer PermissionDenied naming the missing key.
func (g *PermissionGate) Authorize(ctx context.Context, actor domain.Actor, ticketType domain.TicketType, action Action, ticket *domain.Ticket) error {
	if ticket != nil && ticket.OrgID != actor.OrgID {
		return apperrors.NewNotFound("ticket", map[string]any{"id": ticket.ID})
	}
	keys, err := g.Keys(actor, ticketType, action, ticket)
	if err != nil {
		return err
	}

	if g.checker == nil {
		return apperrors.NewUnavailable("permission service", errNoChecker)
	}

	var ok bool
	if len(keys) == 1 {
		ok, err = g.checker.HasPermission(ctx, actor, actor.OrgID, keys[0])
	} else {
		ok, err = g.checker.HasAnyPermission(ctx, actor, actor.OrgID, keys)
	}
	if err != nil {
		return apperrors.NewUnavailable("permission service", err)
	}
	if !ok {
		return apperrors.NewPermissionDenied(keys...)
	}
	return nil
}

// ScopeOf resolves how far a scoped action reaches for a type.
func (g *PermissionGate) ScopeOf(ctx context.Context, actor domain.Actor, ticketType domain.TicketType, action Action) (Scope, error) {
	policy, err := domain.PolicyFor(ticketType)
	if err != nil {
		return ScopeNone, err
	}
	if g.checker == nil {
		return ScopeNone, apperrors.NewUnavailable("permission service", errNoChecker)
	}
	family := policy.PermissionFamily()
	all, err := g.checker.HasPermission(ctx, actor, actor.OrgID, CapabilityKey(family, action, "all"))
	if err != nil {
		return ScopeNone, apperrors.NewUnavailable("permission service", err)
	}
	if all {
		return ScopeAll, nil
	}
	own, err := g.checker.HasPermission(ctx, actor, actor.OrgID, CapabilityKey(family, action, "own"))
	if err != nil {
		return ScopeNone, apperrors.NewUnavailable("permission service", err)
	}
	if own {
		return ScopeOwn, nil
	}
	return ScopeNone, nil
}

package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/itsm-workflow/internal/domain"
	apperrors "github.com/spec-kit/itsm-workflow/pkg/util"
)

func TestPermissionGateKeys(t *testing.T) {
	gate := NewPermissionGate(snapshotChecker{})
	actor := domain.Actor{UserID: "u-1", OrgID: testOrg}
	owned := &domain.Ticket{OrgID: testOrg, CreatedBy: "u-1"}
	foreign := &domain.Ticket{OrgID: testOrg, CreatedBy: "u-2"}

	keys, err := gate.Keys(actor, domain.TicketTypeIncident, ActionEdit, owned)
	require.NoError(t, err)
	assert.Equal(t, []string{"incidents.edit.all", "incidents.edit.own"}, keys)

	keys, err = gate.Keys(actor, domain.TicketTypeIncident, ActionEdit, foreign)
	require.NoError(t, err)
	assert.Equal(t, []string{"incidents.edit.all"}, keys)

	keys, err = gate.Keys(actor, domain.TicketTypeServiceRequest, ActionApprove, owned)
	require.NoError(t, err)
	assert.Equal(t, []string{"service_requests.approve"}, keys)

	keys, err = gate.Keys(actor, domain.TicketTypeChange, ActionDelete, owned)
	require.NoError(t, err)
	assert.Equal(t, []string{"changes.delete"}, keys)
}

func TestPermissionGateAuthorize(t *testing.T) {
	ctx := context.Background()
	actor := domain.Actor{UserID: "u-1", OrgID: testOrg, Capabilities: []string{"tickets.view.own"}}
	owned := &domain.Ticket{OrgID: testOrg, TicketType: domain.TicketTypeTicket, CreatedBy: "u-1"}

	gate := NewPermissionGate(snapshotChecker{})
	assert.NoError(t, gate.Authorize(ctx, actor, domain.TicketTypeTicket, ActionView, owned))

	err := gate.Authorize(ctx, actor, domain.TicketTypeTicket, ActionEdit, owned)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
	assert.Equal(t, "tickets.edit.all|tickets.edit.own", apperrors.ToDomainError(err).Details["missing_capability"])

	down := NewPermissionGate(snapshotChecker{err: errors.New("dial tcp: refused")})
	err = down.Authorize(ctx, actor, domain.TicketTypeTicket, ActionView, owned)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnavailable))
}

func TestPermissionGateScopeOf(t *testing.T) {
	ctx := context.Background()
	gate := NewPermissionGate(snapshotChecker{})
	actor := domain.Actor{UserID: "u-1", OrgID: testOrg, Capabilities: []string{"problems.view.all", "changes.view.own"}}

	scope, err := gate.ScopeOf(ctx, actor, domain.TicketTypeProblem, ActionView)
	require.NoError(t, err)
	assert.Equal(t, ScopeAll, scope)

	scope, err = gate.ScopeOf(ctx, actor, domain.TicketTypeChange, ActionView)
	require.NoError(t, err)
	assert.Equal(t, ScopeOwn, scope)

	scope, err = gate.ScopeOf(ctx, actor, domain.TicketTypeIncident, ActionView)
	require.NoError(t, err)
	assert.Equal(t, ScopeNone, scope)
}

func TestPermissionGateWithoutCheckerFailsClosed(t *testing.T) {
	ctx := context.Background()
	gate := NewPermissionGate(nil)
	actor := domain.Actor{UserID: "u-1", OrgID: testOrg, Capabilities: []string{"*"}}
	owned := &domain.Ticket{OrgID: testOrg, TicketType: domain.TicketTypeTicket, CreatedBy: "u-1"}

	err := gate.Authorize(ctx, actor, domain.TicketTypeTicket, ActionView, owned)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnavailable))

	scope, err := gate.ScopeOf(ctx, actor, domain.TicketTypeTicket, ActionView)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnavailable))
	assert.Equal(t, ScopeNone, scope)
}

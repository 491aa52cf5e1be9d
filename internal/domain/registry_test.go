package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/spec-kit/itsm-workflow/pkg/util"
)

func TestPolicyFor_AllTypes(t *testing.T) {
	for _, tt := range TicketTypes {
		policy, err := PolicyFor(tt)
		require.NoError(t, err)
		assert.Equal(t, tt, policy.Type())
		assert.True(t, policy.Allows(policy.InitialStatus()), "initial state must be allowed for %s", tt)
		assert.False(t, policy.IsTerminal(policy.InitialStatus()))
		for _, terminal := range policy.TerminalStates() {
			assert.True(t, policy.Allows(terminal))
		}
		assert.NotEmpty(t, policy.PermissionFamily())
	}
}

func TestPolicyFor_Unknown(t *testing.T) {
	_, err := PolicyFor("epic")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestPolicy_Flags(t *testing.T) {
	change := MustPolicyFor(TicketTypeChange)
	assert.True(t, change.RequiresApproval())
	assert.True(t, change.RequiresApprovedFor(StatusScheduled))
	assert.False(t, change.RequiresApprovedFor(StatusCancelled))
	assert.Equal(t, StatusDraft, change.InitialStatus())

	sr := MustPolicyFor(TicketTypeServiceRequest)
	assert.True(t, sr.RequiresApproval())
	assert.True(t, sr.RequiresApprovedFor(StatusInProgress))

	incident := MustPolicyFor(TicketTypeIncident)
	assert.True(t, incident.DerivesPriority())
	assert.True(t, incident.AcceptsUpdates())
	assert.False(t, incident.RequiresApproval())
	assert.True(t, incident.IsTerminal(StatusResolved))

	ticket := MustPolicyFor(TicketTypeTicket)
	assert.False(t, ticket.DerivesPriority())
	assert.False(t, ticket.AcceptsUpdates())
	assert.False(t, ticket.Allows(StatusDraft))
}

func TestPolicy_PriorityFrom(t *testing.T) {
	p, ok, err := MustPolicyFor(TicketTypeIncident).PriorityFrom(IncidentMetadata{Impact: LevelHigh, Urgency: LevelHigh})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, PriorityCritical, p)

	_, ok, err = MustPolicyFor(TicketTypeIncident).PriorityFrom(ChangeMetadata{})
	assert.True(t, ok)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, ok, err = MustPolicyFor(TicketTypeChange).PriorityFrom(ChangeMetadata{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeMetadata(t *testing.T) {
	m, err := DecodeMetadata(TicketTypeIncident, []byte(`{"impact":"high","urgency":"medium","affected_services":["mail"]}`))
	require.NoError(t, err)
	incident, ok := m.(IncidentMetadata)
	require.True(t, ok)
	assert.Equal(t, []string{"mail"}, incident.AffectedServices)

	_, err = DecodeMetadata(TicketTypeIncident, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = DecodeMetadata(TicketTypeChange, []byte(`{"risk":"low","backout_plan":"revert"}`))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = DecodeMetadata(TicketTypeServiceRequest, []byte(`{"form_data":{"laptop":"x1"}}`))
	require.NoError(t, err)

	_, err = DecodeMetadata(TicketTypeTicket, []byte(`{not json`))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	m, err = DecodeMetadata(TicketTypeTicket, nil)
	require.NoError(t, err)
	assert.Equal(t, TicketTypeTicket, m.TicketType())
}

func TestTicketClone_IsDeep(t *testing.T) {
	assignee := "u-1"
	original := &Ticket{
		ID:         "t-1",
		AssignedTo: &assignee,
		Updates:    []TicketUpdate{{ID: "up-1", Message: "first update"}},
		Metadata:   ServiceRequestMetadata{FormData: map[string]any{"a": 1}},
	}
	c := original.Clone()
	*c.AssignedTo = "u-2"
	c.Updates[0].Message = "changed"
	c.Metadata.(ServiceRequestMetadata).FormData["a"] = 2

	assert.Equal(t, "u-1", *original.AssignedTo)
	assert.Equal(t, "first update", original.Updates[0].Message)
	assert.Equal(t, 1, original.Metadata.(ServiceRequestMetadata).FormData["a"])
}

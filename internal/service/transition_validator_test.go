package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/itsm-workflow/internal/domain"
	apperrors "github.com/spec-kit/itsm-workflow/pkg/util"
)

func TestMembershipValidatorIsPermissive(t *testing.T) {
	v := NewMembershipValidator()
	ticket := &domain.Ticket{TicketType: domain.TicketTypeProblem, Status: domain.StatusKnownError}

	for _, target := range []domain.TicketStatus{domain.StatusOpen, domain.StatusInvestigating, domain.StatusResolved, domain.StatusClosed} {
		assert.NoError(t, v.Validate(ticket, target), target)
	}
	err := v.Validate(ticket, domain.StatusMonitoring)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))
}

func TestMembershipValidatorGatedTargets(t *testing.T) {
	v := NewMembershipValidator()
	pending := &domain.Ticket{
		TicketType:     domain.TicketTypeChange,
		Status:         domain.StatusPendingApproval,
		ApprovalStatus: domain.ApprovalPending,
	}
	assert.Equal(t, []domain.TicketStatus{domain.StatusDraft, domain.StatusCancelled}, v.Targets(pending))

	approved := &domain.Ticket{
		TicketType:     domain.TicketTypeChange,
		Status:         domain.StatusApproved,
		ApprovalStatus: domain.ApprovalApproved,
	}
	assert.Contains(t, v.Targets(approved), domain.StatusImplementing)
	assert.NotContains(t, v.Targets(approved), domain.StatusRejected)
}

func TestGraphValidatorRestrictsEdges(t *testing.T) {
	v := NewGraphTransitionValidator()
	incident := &domain.Ticket{TicketType: domain.TicketTypeIncident, Status: domain.StatusMonitoring}

	assert.NoError(t, v.Validate(incident, domain.StatusResolved))
	err := v.Validate(incident, domain.StatusInvestigating)
	require.Error(t, err)
	assert.Equal(t, []string{"identified", "resolved"}, apperrors.ToDomainError(err).Details["allowed"])

	resolved := &domain.Ticket{TicketType: domain.TicketTypeIncident, Status: domain.StatusResolved}
	assert.Empty(t, v.Targets(resolved))
}

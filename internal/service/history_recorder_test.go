package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/itsm-workflow/internal/domain"
	"github.com/spec-kit/itsm-workflow/internal/events"
	"github.com/spec-kit/itsm-workflow/internal/repository"
)

func TestHistoryRecorderWritesEvents(t *testing.T) {
	ctx := context.Background()
	dispatcher := events.NewInMemoryDispatcher()
	history := repository.NewMemoryTicketHistoryRepository()
	NewHistoryRecorder(dispatcher, history).RegisterHandlers()
	NewNotificationService(dispatcher, nil).RegisterHandlers()

	ticket := &domain.Ticket{ID: "t-1", OrgID: testOrg, TicketType: domain.TicketTypeChange}
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	event := events.NewTicketEvent(events.EventChangeRejected, ticket, "admin-1", at,
		events.ApprovalDecisionPayload{ApproverID: "admin-1", Reason: "Insufficient test coverage"})
	require.NoError(t, dispatcher.Publish(ctx, event))

	entries, err := history.ListByTicket(ctx, testOrg, "t-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ChangeRejected", entries[0].EventType)
	assert.Equal(t, "admin-1", entries[0].ActorID)
	assert.Equal(t, "Insufficient test coverage", entries[0].Payload["reason"])
	assert.Equal(t, at, entries[0].CreatedAt)
}

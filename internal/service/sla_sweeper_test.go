package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/itsm-workflow/internal/domain"
	"github.com/spec-kit/itsm-workflow/internal/events"
	"github.com/spec-kit/itsm-workflow/internal/repository"
	"github.com/spec-kit/itsm-workflow/internal/sla"
)

var sweepEpoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func seedTicket(t *testing.T, repo *repository.MemoryTicketRepository, id string, priority domain.TicketPriority, responded bool) {
	t.Helper()
	deadlines, err := sla.NewClock(nil).ComputeDeadlines(sweepEpoch, priority)
	require.NoError(t, err)
	ticket := &domain.Ticket{
		ID:             id,
		OrgID:          testOrg,
		TicketType:     domain.TicketTypeTicket,
		Title:          "VPN drops",
		Status:         domain.StatusOpen,
		Priority:       priority,
		Metadata:       domain.TicketMetadata{},
		SLA:            deadlines,
		ApprovalStatus: domain.ApprovalNone,
		CreatedBy:      "user-1",
		CreatedAt:      sweepEpoch,
		UpdatedAt:      sweepEpoch,
	}
	if responded {
		at := sweepEpoch.Add(time.Minute)
		ticket.FirstResponseAt = &at
	}
	require.NoError(t, repo.Create(context.Background(), ticket))
}

func newSweeper(repo repository.TicketRepository, sink events.Sink, now time.Time, batchSize int) *SLASweeper {
	return NewSLASweeper(SweeperDependencies{
		TicketRepo: repo,
		Sink:       sink,
		Now:        func() time.Time { return now },
		BatchSize:  batchSize,
	})
}

func TestSweepEmitsAtRiskOnce(t *testing.T) {
	repo := repository.NewMemoryTicketRepository()
	seedTicket(t, repo, "t-1", domain.PriorityCritical, true)
	sink := &recordingSink{}
	// 50 of 240 minutes left.
	sweeper := newSweeper(repo, sink, sweepEpoch.Add(190*time.Minute), 10)

	result, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, 1, result.Crossings)
	require.Len(t, sink.ofType(events.EventSLAAtRisk), 1)

	_, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sink.count())

	stored, err := repo.Find(context.Background(), testOrg, "t-1")
	require.NoError(t, err)
	assert.NotNil(t, stored.SLA.AtRiskNotifiedAt)
	assert.Nil(t, stored.SLA.CriticalNotifiedAt)
}

func TestSweepBreachCollapsesLesserThresholds(t *testing.T) {
	repo := repository.NewMemoryTicketRepository()
	seedTicket(t, repo, "t-1", domain.PriorityHigh, true)
	sink := &recordingSink{}
	sweeper := newSweeper(repo, sink, sweepEpoch.Add(9*time.Hour), 10)

	_, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Len(t, sink.ofType(events.EventSLABreached), 1)
	assert.Empty(t, sink.ofType(events.EventSLAAtRisk))
	assert.Empty(t, sink.ofType(events.EventSLACritical))

	stored, err := repo.Find(context.Background(), testOrg, "t-1")
	require.NoError(t, err)
	assert.True(t, stored.SLA.Breached)
	assert.NotNil(t, stored.SLA.BreachedAt)

	payload := sink.ofType(events.EventSLABreached)[0].Payload.(events.SLAPayload)
	assert.Equal(t, domain.PriorityHigh, payload.Priority)
	assert.Zero(t, payload.PercentRemaining)
	assert.Equal(t, domain.SystemActorID, sink.ofType(events.EventSLABreached)[0].ActorID)
}

func TestSweepRaisesEscalationForUnansweredTickets(t *testing.T) {
	repo := repository.NewMemoryTicketRepository()
	seedTicket(t, repo, "t-1", domain.PriorityCritical, false)
	sink := &recordingSink{}

	early := newSweeper(repo, sink, sweepEpoch.Add(20*time.Minute), 10)
	_, err := early.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sink.count())

	late := newSweeper(repo, sink, sweepEpoch.Add(31*time.Minute), 10)
	_, err = late.Sweep(context.Background())
	require.NoError(t, err)
	_, err = late.Sweep(context.Background())
	require.NoError(t, err)
	assert.Len(t, sink.ofType(events.EventEscalationRequired), 1)
	assert.Equal(t, 1, sink.count())
}

func TestConcurrentSweepsEmitExactlyOnce(t *testing.T) {
	repo := repository.NewMemoryTicketRepository()
	for i := 0; i < 5; i++ {
		seedTicket(t, repo, fmt.Sprintf("t-%d", i), domain.PriorityCritical, true)
	}
	sink := &recordingSink{}
	now := sweepEpoch.Add(220 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = newSweeper(repo, sink, now, 2).Sweep(context.Background())
		}()
	}
	wg.Wait()

	critical := sink.ofType(events.EventSLACritical)
	require.Len(t, critical, 5)
	seen := map[string]bool{}
	for _, event := range critical {
		assert.False(t, seen[event.TicketID], "duplicate SLACritical for %s", event.TicketID)
		seen[event.TicketID] = true
	}
	assert.Equal(t, 5, sink.count())
}

func TestSweepSkipsTerminalTickets(t *testing.T) {
	repo := repository.NewMemoryTicketRepository()
	seedTicket(t, repo, "t-1", domain.PriorityLow, true)
	ticket, err := repo.Find(context.Background(), testOrg, "t-1")
	require.NoError(t, err)
	ticket.Status = domain.StatusClosed
	require.NoError(t, repo.Save(context.Background(), ticket, ticket.Version))

	sink := &recordingSink{}
	result, err := newSweeper(repo, sink, sweepEpoch.Add(30*24*time.Hour), 10).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Scanned)
	assert.Zero(t, sink.count())
}

func TestSweepWalksAllBatches(t *testing.T) {
	repo := repository.NewMemoryTicketRepository()
	for i := 0; i < 5; i++ {
		seedTicket(t, repo, fmt.Sprintf("t-%d", i), domain.PriorityMedium, true)
	}
	sink := &recordingSink{}

	result, err := newSweeper(repo, sink, sweepEpoch.Add(25*time.Hour), 2).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, result.Scanned)
	assert.Len(t, sink.ofType(events.EventSLABreached), 5)
}

func TestSweepStopsWhenCancelled(t *testing.T) {
	repo := repository.NewMemoryTicketRepository()
	seedTicket(t, repo, "t-1", domain.PriorityMedium, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newSweeper(repo, &recordingSink{}, sweepEpoch.Add(25*time.Hour), 2).Sweep(ctx)
	require.Error(t, err)
	assert.False(t, result.Completed)
}

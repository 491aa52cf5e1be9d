package sla

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/itsm-workflow/internal/domain"
)

var created = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func openIncident(t *testing.T, clock *Clock, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	s, err := clock.ComputeDeadlines(created, priority)
	require.NoError(t, err)
	return &domain.Ticket{
		ID:         "t-1",
		TicketType: domain.TicketTypeIncident,
		Status:     domain.StatusInvestigating,
		Priority:   priority,
		SLA:        s,
		CreatedAt:  created,
	}
}

func TestComputeDeadlines(t *testing.T) {
	clock := NewClock(nil)
	s, err := clock.ComputeDeadlines(created, domain.PriorityCritical)
	require.NoError(t, err)
	assert.Equal(t, 15, s.ResponseMinutes)
	assert.Equal(t, 240, s.ResolutionMinutes)
	assert.Equal(t, created.Add(15*time.Minute), s.ResponseDeadline)
	assert.Equal(t, created.Add(4*time.Hour), s.ResolutionDeadline)
	assert.False(t, s.Breached)

	_, err = clock.ComputeDeadlines(created, "urgent")
	assert.Error(t, err)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("critical=10/120, low=600/6000")
	require.NoError(t, err)
	assert.Equal(t, Budget{ResponseMinutes: 10, ResolutionMinutes: 120}, p[domain.PriorityCritical])
	assert.Equal(t, DefaultPolicy()[domain.PriorityHigh], p[domain.PriorityHigh])
	assert.Equal(t, "critical=10/120,high=60/480,low=600/6000,medium=240/1440", p.String())

	for _, bad := range []string{"critical", "urgent=1/2", "high=1", "high=a/2", "high=1/0"} {
		_, err := ParsePolicy(bad)
		assert.Error(t, err, bad)
	}
}

func TestIsBreached(t *testing.T) {
	clock := NewClock(nil)
	ticket := openIncident(t, clock, domain.PriorityCritical)

	assert.False(t, clock.IsBreached(created.Add(4*time.Hour), ticket))
	assert.True(t, clock.IsBreached(created.Add(4*time.Hour+time.Second), ticket))

	ticket.Status = domain.StatusResolved
	assert.False(t, clock.IsBreached(created.Add(5*time.Hour), ticket))
}

func TestPercentRemaining(t *testing.T) {
	clock := NewClock(nil)
	ticket := openIncident(t, clock, domain.PriorityCritical)

	assert.InDelta(t, 1.0, clock.PercentRemaining(created, ticket), 1e-9)
	assert.InDelta(t, 0.5, clock.PercentRemaining(created.Add(2*time.Hour), ticket), 1e-9)
	assert.Equal(t, 0.0, clock.PercentRemaining(created.Add(10*time.Hour), ticket))
	assert.Equal(t, 1.0, clock.PercentRemaining(created.Add(-time.Hour), ticket))
}

func TestViewOf_KeepsPersistedBreach(t *testing.T) {
	clock := NewClock(nil)
	ticket := openIncident(t, clock, domain.PriorityCritical)
	ticket.SLA.Breached = true
	ticket.Status = domain.StatusResolved

	view := clock.ViewOf(created.Add(time.Hour), ticket)
	assert.True(t, view.Breached)
	assert.Equal(t, 3*time.Hour, view.TimeRemaining)
}

func TestEvaluate_Thresholds(t *testing.T) {
	clock := NewClock(nil)
	responded := created

	cases := []struct {
		name    string
		elapsed time.Duration
		want    []Crossing
	}{
		{"fresh", time.Hour, nil},
		{"at risk", 3 * time.Hour, []Crossing{CrossingAtRisk}},
		{"critical", 3*time.Hour + 40*time.Minute, []Crossing{CrossingCritical}},
		{"breached", 5 * time.Hour, []Crossing{CrossingBreached}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ticket := openIncident(t, clock, domain.PriorityCritical)
			ticket.FirstResponseAt = &responded
			assert.Equal(t, tc.want, clock.Evaluate(created.Add(tc.elapsed), ticket))
		})
	}
}

func TestEvaluate_AtMostOncePerThreshold(t *testing.T) {
	clock := NewClock(nil)
	ticket := openIncident(t, clock, domain.PriorityCritical)
	responded := created
	ticket.FirstResponseAt = &responded

	now := created.Add(3 * time.Hour)
	due := clock.Evaluate(now, ticket)
	require.Equal(t, []Crossing{CrossingAtRisk}, due)
	Record(ticket, due, now)
	assert.Empty(t, clock.Evaluate(now.Add(time.Minute), ticket))

	now = created.Add(5 * time.Hour)
	due = clock.Evaluate(now, ticket)
	require.Equal(t, []Crossing{CrossingBreached}, due)
	Record(ticket, due, now)
	assert.True(t, ticket.SLA.Breached)
	assert.NotNil(t, ticket.SLA.CriticalNotifiedAt)
	assert.Empty(t, clock.Evaluate(now.Add(time.Hour), ticket))
}

func TestEvaluate_EscalationRequired(t *testing.T) {
	clock := NewClock(nil)
	ticket := openIncident(t, clock, domain.PriorityCritical)

	assert.Empty(t, clock.Evaluate(created.Add(29*time.Minute), ticket))
	due := clock.Evaluate(created.Add(30*time.Minute), ticket)
	assert.Equal(t, []Crossing{CrossingEscalationRequired}, due)

	Record(ticket, due, created.Add(30*time.Minute))
	assert.NotNil(t, ticket.SLA.EscalatedAt)
	assert.Empty(t, clock.Evaluate(created.Add(31*time.Minute), ticket))
}

func TestEvaluate_TerminalTicketIsQuiet(t *testing.T) {
	clock := NewClock(nil)
	ticket := openIncident(t, clock, domain.PriorityCritical)
	ticket.Status = domain.StatusResolved
	assert.Empty(t, clock.Evaluate(created.Add(10*time.Hour), ticket))
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, SeverityCritical, SeverityFor(domain.PriorityCritical))
	assert.Equal(t, SeverityMajor, SeverityFor(domain.PriorityHigh))
	assert.Equal(t, SeverityMinor, SeverityFor(domain.PriorityMedium))
	assert.Equal(t, SeverityMinor, SeverityFor(domain.PriorityLow))
	assert.Equal(t, 30*time.Minute, EscalationBase(SeverityCritical))
	assert.Equal(t, time.Hour, EscalationBase(SeverityMajor))
	assert.Equal(t, 4*time.Hour, EscalationBase(SeverityMinor))
}

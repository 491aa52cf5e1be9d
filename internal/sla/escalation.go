package sla

import (
	"time"

	"github.com/spec-kit/itsm-workflow/internal/domain"
)

// Remaining-time thresholds.
const (
	AtRiskThreshold   = 0.25
	CriticalThreshold = 0.10
)

// Crossing names a sticky SLA fact that is emitted at most once per ticket.
type Crossing string

const (
	CrossingAtRisk             Crossing = "at_risk"
	CrossingCritical           Crossing = "critical"
	CrossingBreached           Crossing = "breached"
	CrossingEscalationRequired Crossing = "escalation_required"
)

// Severity buckets priorities for the unacknowledged-item escalation timer.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

var escalationBase = map[Severity]time.Duration{
	SeverityCritical: 30 * time.Minute,
	SeverityMajor:    60 * time.Minute,
	SeverityMinor:    240 * time.Minute,
}

// SeverityFor maps a priority to its escalation severity.
func SeverityFor(priority domain.TicketPriority) Severity {
	switch priority {
	case domain.PriorityCritical:
		return SeverityCritical
	case domain.PriorityHigh:
		return SeverityMajor
	default:
		return SeverityMinor
	}
}

// EscalationBase is how long an item of this severity may go without a first response.
func EscalationBase(severity Severity) time.Duration {
	if d, ok := escalationBase[severity]; ok {
		return d
	}
	return escalationBase[SeverityMinor]
}

// Evaluate returns the crossings that are due and not yet recorded on t. Only the most
// severe SLA threshold is returned; Record marks the lesser ones as passed.
func (c *Clock) Evaluate(now time.Time, t *domain.Ticket) []Crossing {
	if isTerminal(t) {
		return nil
	}
	var due []Crossing

	pct := c.PercentRemaining(now, t)
	switch {
	case c.IsBreached(now, t):
		if !t.SLA.Breached {
			due = append(due, CrossingBreached)
		}
	case pct <= CriticalThreshold:
		if t.SLA.CriticalNotifiedAt == nil && !t.SLA.Breached {
			due = append(due, CrossingCritical)
		}
	case pct <= AtRiskThreshold:
		if t.SLA.AtRiskNotifiedAt == nil && t.SLA.CriticalNotifiedAt == nil && !t.SLA.Breached {
			due = append(due, CrossingAtRisk)
		}
	}

	if t.FirstResponseAt == nil && t.SLA.EscalatedAt == nil {
		if now.Sub(t.CreatedAt) >= EscalationBase(SeverityFor(t.Priority)) {
			due = append(due, CrossingEscalationRequired)
		}
	}
	return due
}

// Record stores crossings as sticky facts on t. Breached is never cleared.
func Record(t *domain.Ticket, crossings []Crossing, now time.Time) {
	stamp := func(field **time.Time) {
		if *field == nil {
			at := now
			*field = &at
		}
	}
	for _, crossing := range crossings {
		switch crossing {
		case CrossingBreached:
			t.SLA.Breached = true
			stamp(&t.SLA.BreachedAt)
			stamp(&t.SLA.CriticalNotifiedAt)
			stamp(&t.SLA.AtRiskNotifiedAt)
		case CrossingCritical:
			stamp(&t.SLA.CriticalNotifiedAt)
			stamp(&t.SLA.AtRiskNotifiedAt)
		case CrossingAtRisk:
			stamp(&t.SLA.AtRiskNotifiedAt)
		case CrossingEscalationRequired:
			stamp(&t.SLA.EscalatedAt)
		}
	}
}

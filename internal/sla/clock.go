// Package sla computes service-level deadlines and the escalation facts that the
// background sweep persists. Everything here is derived from timestamps, so results stay
// correct across process restarts.
package sla

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spec-kit/itsm-workflow/internal/domain"
)

// Budget is the response/resolution allowance for a priority, in minutes.
type Budget struct {
	ResponseMinutes   int
	ResolutionMinutes int
}

// Policy maps every priority to its budget.
type Policy map[domain.TicketPriority]Budget

// DefaultPolicy returns the built-in budgets.
func DefaultPolicy() Policy {
	return Policy{
		domain.PriorityCritical: {ResponseMinutes: 15, ResolutionMinutes: 240},
		domain.PriorityHigh:     {ResponseMinutes: 60, ResolutionMinutes: 480},
		domain.PriorityMedium:   {ResponseMinutes: 240, ResolutionMinutes: 1440},
		domain.PriorityLow:      {ResponseMinutes: 480, ResolutionMinutes: 4320},
	}
}

// ParsePolicy reads overrides in the form "critical=15/240,high=60/480". Priorities not
// mentioned keep their default budget.
func ParsePolicy(raw string) (Policy, error) {
	policy := DefaultPolicy()
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return policy, nil
	}
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			return nil, fmt.Errorf("sla policy entry %q: expected priority=response/resolution", entry)
		}
		priority := domain.TicketPriority(strings.ToLower(strings.TrimSpace(key)))
		if !priority.IsValid() {
			return nil, fmt.Errorf("sla policy entry %q: unknown priority", entry)
		}
		resp, resol, ok := strings.Cut(value, "/")
		if !ok {
			return nil, fmt.Errorf("sla policy entry %q: expected response/resolution", entry)
		}
		responseMinutes, err := strconv.Atoi(strings.TrimSpace(resp))
		if err != nil || responseMinutes <= 0 {
			return nil, fmt.Errorf("sla policy entry %q: invalid response minutes", entry)
		}
		resolutionMinutes, err := strconv.Atoi(strings.TrimSpace(resol))
		if err != nil || resolutionMinutes <= 0 {
			return nil, fmt.Errorf("sla policy entry %q: invalid resolution minutes", entry)
		}
		policy[priority] = Budget{ResponseMinutes: responseMinutes, ResolutionMinutes: resolutionMinutes}
	}
	return policy, nil
}

// String renders the policy in ParsePolicy's format.
func (p Policy) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		b := p[domain.TicketPriority(k)]
		parts = append(parts, fmt.Sprintf("%s=%d/%d", k, b.ResponseMinutes, b.ResolutionMinutes))
	}
	return strings.Join(parts, ",")
}

// Clock evaluates SLA state for tickets.
type Clock struct {
	policy Policy
}

// NewClock builds a clock; a nil policy means DefaultPolicy.
func NewClock(policy Policy) *Clock {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Clock{policy: policy}
}

// Budget returns the budget configured for priority.
func (c *Clock) Budget(priority domain.TicketPriority) (Budget, error) {
	b, ok := c.policy[priority]
	if !ok {
		return Budget{}, fmt.Errorf("no sla budget for priority %q", priority)
	}
	return b, nil
}

// ComputeDeadlines returns a fresh SLA anchored at createdAt. Sticky escalation facts are
// left unset; callers recomputing an existing ticket must carry them over.
func (c *Clock) ComputeDeadlines(createdAt time.Time, priority domain.TicketPriority) (domain.SLA, error) {
	b, err := c.Budget(priority)
	if err != nil {
		return domain.SLA{}, err
	}
	return domain.SLA{
		ResponseMinutes:    b.ResponseMinutes,
		ResolutionMinutes:  b.ResolutionMinutes,
		ResponseDeadline:   createdAt.Add(time.Duration(b.ResponseMinutes) * time.Minute),
		ResolutionDeadline: createdAt.Add(time.Duration(b.ResolutionMinutes) * time.Minute),
	}, nil
}

// IsBreached reports whether the resolution deadline has passed on an open ticket.
func (c *Clock) IsBreached(now time.Time, t *domain.Ticket) bool {
	if isTerminal(t) {
		return false
	}
	return now.After(t.SLA.ResolutionDeadline)
}

// PercentRemaining is the share of the resolution window still left, clamped to [0,1].
func (c *Clock) PercentRemaining(now time.Time, t *domain.Ticket) float64 {
	total := t.SLA.ResolutionDeadline.Sub(t.CreatedAt)
	if total <= 0 {
		return 0
	}
	left := t.SLA.ResolutionDeadline.Sub(now)
	ratio := float64(left) / float64(total)
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	default:
		return ratio
	}
}

// View is the read-time SLA state of a ticket.
type View struct {
	Breached         bool
	PercentRemaining float64
	TimeRemaining    time.Duration
}

// ViewOf combines the persisted breach fact with the current clock.
func (c *Clock) ViewOf(now time.Time, t *domain.Ticket) View {
	remaining := t.SLA.ResolutionDeadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return View{
		Breached:         t.SLA.Breached || c.IsBreached(now, t),
		PercentRemaining: c.PercentRemaining(now, t),
		TimeRemaining:    remaining,
	}
}

func isTerminal(t *domain.Ticket) bool {
	policy, err := domain.PolicyFor(t.TicketType)
	if err != nil {
		return false
	}
	return policy.IsTerminal(t.Status)
}

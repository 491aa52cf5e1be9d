package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/spec-kit/itsm-workflow/internal/domain"
	apperrors "github.com/spec-kit/itsm-workflow/pkg/util"
)

// MemoryTicketRepository keeps tickets in process. Every read and write goes through
// Clone so callers never share state with the store.
type MemoryTicketRepository struct {
	mu      sync.RWMutex
	tickets map[string]*domain.Ticket
}

// NewMemoryTicketRepository builds an empty store.
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{tickets: make(map[string]*domain.Ticket)}
}

func (r *MemoryTicketRepository) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tickets[ticket.ID]; exists {
		return apperrors.NewConflict("ticket already exists", map[string]any{"id": ticket.ID})
	}
	if ticket.Version == 0 {
		ticket.Version = 1
	}
	r.tickets[ticket.ID] = ticket.Clone()
	return nil
}

func (r *MemoryTicketRepository) Find(_ context.Context, orgID, id string) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.tickets[id]
	if !ok || stored.OrgID != orgID {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"id": id})
	}
	return stored.Clone(), nil
}

func (r *MemoryTicketRepository) Save(_ context.Context, ticket *domain.Ticket, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.tickets[ticket.ID]
	if !ok || stored.OrgID != ticket.OrgID || stored.Version != expectedVersion {
		return apperrors.NewConcurrencyConflict("ticket", ticket.ID, expectedVersion)
	}
	next := ticket.Clone()
	next.TicketType = stored.TicketType
	next.CreatedAt = stored.CreatedAt
	next.CreatedBy = stored.CreatedBy
	next.Version = expectedVersion + 1
	r.tickets[ticket.ID] = next
	ticket.Version = next.Version
	return nil
}

func (r *MemoryTicketRepository) Query(_ context.Context, orgID string, filter TicketFilter) ([]*domain.Ticket, error) {
	r.mu.RLock()
	matched := make([]*domain.Ticket, 0)
	for _, t := range r.tickets {
		if t.OrgID == orgID && matchesFilter(t, filter) {
			matched = append(matched, t.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit, offset := normalizePage(filter.Limit, filter.Offset)
	if offset >= len(matched) {
		return []*domain.Ticket{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (r *MemoryTicketRepository) ScanOpen(_ context.Context, afterID string, limit int) ([]*domain.Ticket, error) {
	r.mu.RLock()
	open := make([]*domain.Ticket, 0)
	for id, t := range r.tickets {
		if id <= afterID {
			continue
		}
		if domain.MustPolicyFor(t.TicketType).IsTerminal(t.Status) {
			continue
		}
		open = append(open, t.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })
	if limit > 0 && len(open) > limit {
		open = open[:limit]
	}
	return open, nil
}

func matchesFilter(t *domain.Ticket, filter TicketFilter) bool {
	visible := containsType(filter.Types, t.TicketType) ||
		(filter.OwnerID != "" && containsType(filter.OwnTypes, t.TicketType) && t.IsOwnedBy(filter.OwnerID))
	if !visible {
		return false
	}
	if len(filter.Statuses) > 0 && !containsValue(filter.Statuses, t.Status) {
		return false
	}
	if len(filter.Priorities) > 0 && !containsValue(filter.Priorities, t.Priority) {
		return false
	}
	if filter.AssignedTo != nil && (t.AssignedTo == nil || *t.AssignedTo != *filter.AssignedTo) {
		return false
	}
	return true
}

func containsType(types []domain.TicketType, t domain.TicketType) bool {
	return containsValue(types, t)
}

func containsValue[T comparable](list []T, v T) bool {
	for _, candidate := range list {
		if candidate == v {
			return true
		}
	}
	return false
}

package service

import (
	"context"
	"errors"
	"sync"

	"github.com/spec-kit/itsm-workflow/internal/domain"
	"github.com/spec-kit/itsm-workflow/internal/events"
	"github.com/spec-kit/itsm-workflow/internal/repository"
)

// snapshotChecker answers from the actor's capability snapshot.
type snapshotChecker struct {
	err error
}

func (c snapshotChecker) HasPermission(_ context.Context, actor domain.Actor, orgID, capability string) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	if actor.OrgID != orgID {
		return false, nil
	}
	for _, granted := range actor.Capabilities {
		if granted == capability {
			return true, nil
		}
	}
	return false, nil
}

func (c snapshotChecker) HasAnyPermission(ctx context.Context, actor domain.Actor, orgID string, capabilities []string) (bool, error) {
	for _, capability := range capabilities {
		ok, err := c.HasPermission(ctx, actor, orgID, capability)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Publish(_ context.Context, event events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) ofType(eventType events.EventType) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, event := range s.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// racingRepository lets another writer win the first n saves.
type racingRepository struct {
	repository.TicketRepository
	mu     sync.Mutex
	losses int
}

func (r *racingRepository) Save(ctx context.Context, ticket *domain.Ticket, expectedVersion int64) error {
	r.mu.Lock()
	lose := r.losses > 0
	if lose {
		r.losses--
	}
	r.mu.Unlock()
	if lose {
		stored, err := r.TicketRepository.Find(ctx, ticket.OrgID, ticket.ID)
		if err != nil {
			return err
		}
		if err := r.TicketRepository.Save(ctx, stored, stored.Version); err != nil {
			return err
		}
	}
	return r.TicketRepository.Save(ctx, ticket, expectedVersion)
}

type failingRepository struct {
	repository.TicketRepository
}

func (failingRepository) Find(context.Context, string, string) (*domain.Ticket, error) {
	return nil, errors.New("connection refused")
}

func capabilities(families []string, actions ...string) []string {
	var out []string
	for _, family := range families {
		for _, action := range actions {
			out = append(out, family+"."+action)
		}
	}
	return out
}

var allFamilies = []string{"tickets", "incidents", "problems", "changes", "service_requests"}

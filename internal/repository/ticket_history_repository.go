package repository

import (
	"context"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/itsm-workflow/internal/domain"
)

// TicketHistoryRepository stores audit entries.
type TicketHistoryRepository interface {
	Create(ctx context.Context, history *domain.TicketHistory) error
	ListByTicket(ctx context.Context, orgID, ticketID string) ([]domain.TicketHistory, error)
}

type ticketHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewTicketHistoryRepository builds repository.
func NewTicketHistoryRepository(pool *pgxpool.Pool) TicketHistoryRepository {
	return &ticketHistoryRepository{pool: pool}
}

func (r *ticketHistoryRepository) Create(ctx context.Context, history *domain.TicketHistory) error {
	query, args, err := psql.
		Insert("ticket_history").
		Columns("id", "org_id", "ticket_id", "actor_id", "event_type", "payload", "created_at").
		Values(history.ID, history.OrgID, history.TicketID, history.ActorID, history.EventType, history.Payload, history.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Create query for ticket history: %w", err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert ticket history: %w", err)
	}
	return nil
}

func (r *ticketHistoryRepository) ListByTicket(ctx context.Context, orgID, ticketID string) ([]domain.TicketHistory, error) {
	query, args, err := psql.
		Select("id", "org_id", "ticket_id", "actor_id", "event_type", "payload", "created_at").
		From("ticket_history").
		Where(sq.Eq{"org_id": orgID, "ticket_id": ticketID}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListByTicket query for ticket history: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ticket history: %w", err)
	}
	defer rows.Close()

	var result []domain.TicketHistory
	for rows.Next() {
		var history domain.TicketHistory
		if err := rows.Scan(
			&history.ID,
			&history.OrgID,
			&history.TicketID,
			&history.ActorID,
			&history.EventType,
			&history.Payload,
			&history.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, history)
	}
	return result, rows.Err()
}

// MemoryTicketHistoryRepository keeps the audit trail in process.
type MemoryTicketHistoryRepository struct {
	mu      sync.Mutex
	entries []domain.TicketHistory
}

// NewMemoryTicketHistoryRepository builds an empty trail.
func NewMemoryTicketHistoryRepository() *MemoryTicketHistoryRepository {
	return &MemoryTicketHistoryRepository{}
}

func (r *MemoryTicketHistoryRepository) Create(_ context.Context, history *domain.TicketHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *history)
	return nil
}

func (r *MemoryTicketHistoryRepository) ListByTicket(_ context.Context, orgID, ticketID string) ([]domain.TicketHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []domain.TicketHistory
	for _, entry := range r.entries {
		if entry.OrgID == orgID && entry.TicketID == ticketID {
			result = append(result, entry)
		}
	}
	return result, nil
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/itsm-workflow/internal/domain"
	apperrors "github.com/spec-kit/itsm-workflow/pkg/util"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// TicketFilter narrows a tenant scoped listing. Tickets of Types are visible
// unconditionally; tickets of OwnTypes only when OwnerID created or holds them.
type TicketFilter struct {
	Types      []domain.TicketType
	OwnTypes   []domain.TicketType
	OwnerID    string
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	AssignedTo *string
	Limit      int
	Offset     int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Find(ctx context.Context, orgID, id string) (*domain.Ticket, error)
	// Save writes ticket only if the stored version still equals expectedVersion and
	// bumps ticket.Version on success.
	Save(ctx context.Context, ticket *domain.Ticket, expectedVersion int64) error
	Query(ctx context.Context, orgID string, filter TicketFilter) ([]*domain.Ticket, error)
	// ScanOpen pages through non-terminal tickets of every tenant in id order.
	ScanOpen(ctx context.Context, afterID string, limit int) ([]*domain.Ticket, error)
}

var ticketColumns = []string{
	"id", "org_id", "ticket_type", "title", "description", "status", "priority", "metadata",
	"sla_response_minutes", "sla_resolution_minutes", "sla_response_deadline", "sla_resolution_deadline",
	"sla_breached", "sla_breached_at", "sla_at_risk_notified_at", "sla_critical_notified_at", "sla_escalated_at",
	"approval_status", "approval_decided_by", "approval_decided_at", "approval_reason",
	"assigned_to", "updates", "created_by", "first_response_at", "resolved_at",
	"version", "created_at", "updated_at",
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the Postgres repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	if ticket.Version == 0 {
		ticket.Version = 1
	}
	values, err := ticketValues(ticket)
	if err != nil {
		return err
	}
	query, args, err := psql.
		Insert("tickets").
		Columns(ticketColumns...).
		Values(values...).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Create query for ticket: %w", err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (r *ticketRepository) Find(ctx context.Context, orgID, id string) (*domain.Ticket, error) {
	query, args, err := psql.
		Select(ticketColumns...).
		From("tickets").
		Where(sq.Eq{"id": id, "org_id": orgID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Find query for ticket: %w", err)
	}
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"id": id})
	}
	return ticket, err
}

func (r *ticketRepository) Save(ctx context.Context, ticket *domain.Ticket, expectedVersion int64) error {
	values, err := ticketValues(ticket)
	if err != nil {
		return err
	}
	update := psql.Update("tickets")
	// id, org_id, ticket_type and created_* are never rewritten.
	for i, column := range ticketColumns {
		switch column {
		case "id", "org_id", "ticket_type", "created_by", "created_at", "version":
			continue
		}
		update = update.Set(column, values[i])
	}
	query, args, err := update.
		Set("version", expectedVersion+1).
		Where(sq.Eq{"id": ticket.ID, "org_id": ticket.OrgID, "version": expectedVersion}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Save query for ticket %s: %w", ticket.ID, err)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewConcurrencyConflict("ticket", ticket.ID, expectedVersion)
	}
	ticket.Version = expectedVersion + 1
	return nil
}

func (r *ticketRepository) Query(ctx context.Context, orgID string, filter TicketFilter) ([]*domain.Ticket, error) {
	limit, offset := normalizePage(filter.Limit, filter.Offset)
	builder := psql.
		Select(ticketColumns...).
		From("tickets").
		Where(sq.Eq{"org_id": orgID}).
		Where(visibilityClause(filter)).
		OrderBy("created_at DESC", "id").
		Limit(uint64(limit)).
		Offset(uint64(offset))

	if len(filter.Statuses) > 0 {
		builder = builder.Where(sq.Eq{"status": filter.Statuses})
	}
	if len(filter.Priorities) > 0 {
		builder = builder.Where(sq.Eq{"priority": filter.Priorities})
	}
	if filter.AssignedTo != nil {
		builder = builder.Where(sq.Eq{"assigned_to": *filter.AssignedTo})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Query query for tickets: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	return scanTickets(rows)
}

func (r *ticketRepository) ScanOpen(ctx context.Context, afterID string, limit int) ([]*domain.Ticket, error) {
	open := sq.Or{}
	for _, ticketType := range domain.TicketTypes {
		open = append(open, sq.And{
			sq.Eq{"ticket_type": ticketType},
			sq.NotEq{"status": domain.MustPolicyFor(ticketType).TerminalStates()},
		})
	}
	query, args, err := psql.
		Select(ticketColumns...).
		From("tickets").
		Where(sq.Gt{"id": afterID}).
		Where(open).
		OrderBy("id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ScanOpen query: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan open tickets: %w", err)
	}
	return scanTickets(rows)
}

func visibilityClause(filter TicketFilter) sq.Sqlizer {
	visible := sq.Or{}
	if len(filter.Types) > 0 {
		visible = append(visible, sq.Eq{"ticket_type": filter.Types})
	}
	if len(filter.OwnTypes) > 0 && filter.OwnerID != "" {
		visible = append(visible, sq.And{
			sq.Eq{"ticket_type": filter.OwnTypes},
			sq.Or{sq.Eq{"created_by": filter.OwnerID}, sq.Eq{"assigned_to": filter.OwnerID}},
		})
	}
	if len(visible) == 0 {
		return sq.Expr("1=0")
	}
	return visible
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func ticketValues(t *domain.Ticket) ([]any, error) {
	metadata, err := domain.EncodeMetadata(t.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	updates := t.Updates
	if updates == nil {
		updates = []domain.TicketUpdate{}
	}
	updatesJSON, err := json.Marshal(updates)
	if err != nil {
		return nil, fmt.Errorf("encode updates: %w", err)
	}

	var decidedBy, reason *string
	var decidedAt *time.Time
	if t.Approval != nil {
		decidedBy = &t.Approval.DecidedBy
		decidedAt = &t.Approval.DecidedAt
		if t.Approval.Reason != "" {
			reason = &t.Approval.Reason
		}
	}

	return []any{
		t.ID, t.OrgID, t.TicketType, t.Title, t.Description, t.Status, t.Priority, metadata,
		t.SLA.ResponseMinutes, t.SLA.ResolutionMinutes, t.SLA.ResponseDeadline, t.SLA.ResolutionDeadline,
		t.SLA.Breached, t.SLA.BreachedAt, t.SLA.AtRiskNotifiedAt, t.SLA.CriticalNotifiedAt, t.SLA.EscalatedAt,
		t.ApprovalStatus, decidedBy, decidedAt, reason,
		t.AssignedTo, updatesJSON, t.CreatedBy, t.FirstResponseAt, t.ResolvedAt,
		t.Version, t.CreatedAt, t.UpdatedAt,
	}, nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		t           domain.Ticket
		metadata    []byte
		updatesJSON []byte
		decidedBy   *string
		decidedAt   *time.Time
		reason      *string
	)
	if err := row.Scan(
		&t.ID, &t.OrgID, &t.TicketType, &t.Title, &t.Description, &t.Status, &t.Priority, &metadata,
		&t.SLA.ResponseMinutes, &t.SLA.ResolutionMinutes, &t.SLA.ResponseDeadline, &t.SLA.ResolutionDeadline,
		&t.SLA.Breached, &t.SLA.BreachedAt, &t.SLA.AtRiskNotifiedAt, &t.SLA.CriticalNotifiedAt, &t.SLA.EscalatedAt,
		&t.ApprovalStatus, &decidedBy, &decidedAt, &reason,
		&t.AssignedTo, &updatesJSON, &t.CreatedBy, &t.FirstResponseAt, &t.ResolvedAt,
		&t.Version, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan ticket: %w", err)
	}

	m, err := domain.DecodeMetadata(t.TicketType, metadata)
	if err != nil {
		return nil, fmt.Errorf("decode metadata of ticket %s: %w", t.ID, err)
	}
	t.Metadata = m
	if len(updatesJSON) > 0 {
		if err := json.Unmarshal(updatesJSON, &t.Updates); err != nil {
			return nil, fmt.Errorf("decode updates of ticket %s: %w", t.ID, err)
		}
	}
	if decidedBy != nil && decidedAt != nil {
		t.Approval = &domain.Approval{DecidedBy: *decidedBy, DecidedAt: *decidedAt}
		if reason != nil {
			t.Approval.Reason = *reason
		}
	}
	return &t, nil
}

func scanTickets(rows pgx.Rows) ([]*domain.Ticket, error) {
	defer rows.Close()

	var tickets []*domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return tickets, nil
}

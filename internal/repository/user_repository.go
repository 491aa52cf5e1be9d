package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/itsm-workflow/internal/domain"
	apperrors "github.com/spec-kit/itsm-workflow/pkg/util"
)

// UserRepository resolves tenant members for assignment checks.
type UserRepository interface {
	ResolveUser(ctx context.Context, orgID, userID string) (*domain.UserRef, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

func (r *userRepository) ResolveUser(ctx context.Context, orgID, userID string) (*domain.UserRef, error) {
	query, args, err := psql.
		Select("id", "org_id", "role", "is_active").
		From("users").
		Where(sq.Eq{"id": userID, "org_id": orgID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ResolveUser query: %w", err)
	}

	var user domain.UserRef
	if err := r.pool.QueryRow(ctx, query, args...).Scan(
		&user.ID,
		&user.OrgID,
		&user.Role,
		&user.IsActive,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"id": userID})
		}
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	return &user, nil
}

// MemoryUserRepository is an in-process directory of users.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]domain.UserRef
}

// NewMemoryUserRepository builds a directory seeded with users.
func NewMemoryUserRepository(users ...domain.UserRef) *MemoryUserRepository {
	r := &MemoryUserRepository{users: make(map[string]domain.UserRef)}
	for _, u := range users {
		r.Put(u)
	}
	return r
}

// Put adds or replaces a user.
func (r *MemoryUserRepository) Put(user domain.UserRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.OrgID+"/"+user.ID] = user
}

func (r *MemoryUserRepository) ResolveUser(_ context.Context, orgID, userID string) (*domain.UserRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[orgID+"/"+userID]
	if !ok {
		return nil, apperrors.NewNotFound("user", map[string]any{"id": userID})
	}
	return &user, nil
}

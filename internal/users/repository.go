package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealerdesk/dealerdesk/internal/authz"
	"github.com/dealerdesk/dealerdesk/internal/shared"
)

// Repository provides PostgreSQL backed persistence for users.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetUser fetches a user by ID.
func (r *Repository) GetUser(ctx context.Context, userID int64) (User, error) {
	var u User
	var rawRole string
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, COALESCE(system_role, 'none'), is_active, created_at, updated_at
		FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Email, &u.Name, &rawRole, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, err
	}
	role, err := authz.ParseSystemRole(rawRole)
	if err != nil {
		return User{}, err
	}
	u.SystemRole = role
	return u, nil
}

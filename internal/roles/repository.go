package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealerdesk/dealerdesk/internal/authz"
	"github.com/dealerdesk/dealerdesk/internal/platform/db"
	"github.com/dealerdesk/dealerdesk/internal/shared"
)

// Repository provides PostgreSQL backed persistence for role configuration.
// All queries are scoped by dealer so one tenant can never touch another's
// roles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const uniqueViolation = "23505"

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return shared.ErrConflict
	}
	return err
}

// ListRoles returns all roles for a dealer ordered by name.
func (r *Repository) ListRoles(ctx context.Context, dealerID int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, dealer_id, name, description, created_at, updated_at
		FROM dealer_roles WHERE dealer_id = $1 ORDER BY name`, dealerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.DealerID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role by ID within a dealer.
func (r *Repository) GetRole(ctx context.Context, dealerID, roleID int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `
		SELECT id, dealer_id, name, description, created_at, updated_at
		FROM dealer_roles WHERE id = $1 AND dealer_id = $2`, roleID, dealerID).
		Scan(&role.ID, &role.DealerID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// CreateRole inserts a new role for the dealer.
func (r *Repository) CreateRole(ctx context.Context, dealerID int64, name, description string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `
		INSERT INTO dealer_roles (dealer_id, name, description)
		VALUES ($1, $2, $3)
		RETURNING id, dealer_id, name, description, created_at, updated_at`,
		dealerID, name, description).
		Scan(&role.ID, &role.DealerID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return Role{}, mapWriteErr(err)
	}
	return role, nil
}

// UpdateRole updates name and description of an existing role.
func (r *Repository) UpdateRole(ctx context.Context, dealerID, roleID int64, name, description string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `
		UPDATE dealer_roles SET name = $3, description = $4, updated_at = now()
		WHERE id = $1 AND dealer_id = $2
		RETURNING id, dealer_id, name, description, created_at, updated_at`,
		roleID, dealerID, name, description).
		Scan(&role.ID, &role.DealerID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, mapWriteErr(err)
	}
	return role, nil
}

// DeleteRole removes a role and all of its grants and assignments.
func (r *Repository) DeleteRole(ctx context.Context, dealerID, roleID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM dealer_role_modules WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM dealer_role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM dealer_role_system_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM dealer_role_assignments WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM dealer_roles WHERE id = $1 AND dealer_id = $2`, roleID, dealerID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// SetModuleGrant upserts the module-enablement row for a role.
func (r *Repository) SetModuleGrant(ctx context.Context, roleID int64, module authz.Module, enabled bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO dealer_role_modules (role_id, module, enabled)
		VALUES ($1, $2, $3)
		ON CONFLICT (role_id, module) DO UPDATE SET enabled = EXCLUDED.enabled`,
		roleID, string(module), enabled)
	return err
}

// ReplaceModulePermissions swaps the permission grants of a role for one
// module atomically.
func (r *Repository) ReplaceModulePermissions(ctx context.Context, roleID int64, module authz.Module, keys []authz.PermissionKey) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM dealer_role_permissions WHERE role_id = $1 AND module = $2`, roleID, string(module)); err != nil {
			return err
		}
		for _, key := range keys {
			if _, err := tx.Exec(ctx, `
				INSERT INTO dealer_role_permissions (role_id, module, permission) VALUES ($1, $2, $3)`,
				roleID, string(module), string(key)); err != nil {
				return fmt.Errorf("insert permission %s: %w", key, err)
			}
		}
		return nil
	})
}

// ReplaceSystemPermissions swaps the system-level grants of a role.
func (r *Repository) ReplaceSystemPermissions(ctx context.Context, roleID int64, keys []authz.PermissionKey) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM dealer_role_system_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		for _, key := range keys {
			if _, err := tx.Exec(ctx, `
				INSERT INTO dealer_role_system_permissions (role_id, permission) VALUES ($1, $2)`,
				roleID, string(key)); err != nil {
				return fmt.Errorf("insert system permission %s: %w", key, err)
			}
		}
		return nil
	})
}

// ListRoleAssignments returns the current assignments of a role.
func (r *Repository) ListRoleAssignments(ctx context.Context, roleID int64) ([]authz.Assignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, dealer_id, role_id FROM dealer_role_assignments WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []authz.Assignment
	for rows.Next() {
		var a authz.Assignment
		if err := rows.Scan(&a.UserID, &a.DealerID, &a.RoleID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Assign links a user to a role within the dealer.
func (r *Repository) Assign(ctx context.Context, userID, dealerID, roleID int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO dealer_role_assignments (user_id, dealer_id, role_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, dealer_id, role_id) DO NOTHING`,
		userID, dealerID, roleID)
	return err
}

// Unassign removes a role from a user within the dealer.
func (r *Repository) Unassign(ctx context.Context, userID, dealerID, roleID int64) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM dealer_role_assignments
		WHERE user_id = $1 AND dealer_id = $2 AND role_id = $3`,
		userID, dealerID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

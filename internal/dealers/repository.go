package dealers

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealerdesk/dealerdesk/internal/authz"
	"github.com/dealerdesk/dealerdesk/internal/shared"
)

// Repository provides PostgreSQL backed persistence for dealer configuration.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetDealer fetches a dealer by ID.
func (r *Repository) GetDealer(ctx context.Context, dealerID int64) (Dealer, error) {
	var d Dealer
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, created_at, updated_at FROM dealers WHERE id = $1`, dealerID).
		Scan(&d.ID, &d.Name, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dealer{}, shared.ErrNotFound
		}
		return Dealer{}, err
	}
	return d, nil
}

// ModuleEnablement returns the dealer's module-enablement map. Modules with
// no row are simply absent; the resolver treats absence as disabled.
func (r *Repository) ModuleEnablement(ctx context.Context, dealerID int64) (map[authz.Module]bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT module, enabled FROM dealer_modules WHERE dealer_id = $1`, dealerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[authz.Module]bool)
	for rows.Next() {
		var raw string
		var enabled bool
		if err := rows.Scan(&raw, &enabled); err != nil {
			return nil, err
		}
		module, err := authz.ParseModule(raw)
		if err != nil {
			return nil, err
		}
		out[module] = enabled
	}
	return out, rows.Err()
}

// SetModuleEnabled upserts the dealer-level enablement row for a module.
func (r *Repository) SetModuleEnabled(ctx context.Context, dealerID int64, module authz.Module, enabled bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO dealer_modules (dealer_id, module, enabled)
		VALUES ($1, $2, $3)
		ON CONFLICT (dealer_id, module) DO UPDATE SET enabled = EXCLUDED.enabled`,
		dealerID, string(module), enabled)
	return err
}

// RoleIDs lists the IDs of all roles belonging to the dealer.
func (r *Repository) RoleIDs(ctx context.Context, dealerID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM dealer_roles WHERE dealer_id = $1 ORDER BY id`, dealerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

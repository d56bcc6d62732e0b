package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore reads authorization configuration from PostgreSQL. All six queries
// for a resolution are sent as one pgx batch, i.e. one network round trip.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore backed by the provided pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const (
	querySystemRole = `SELECT COALESCE(system_role, 'none') FROM users WHERE id = $1`

	queryAssignedRoles = `
		SELECT r.id, r.name
		FROM dealer_roles r
		JOIN dealer_role_assignments a ON a.role_id = r.id
		WHERE a.user_id = $1 AND a.dealer_id = $2 AND r.dealer_id = $2
		ORDER BY r.id`

	queryRoleModules = `
		SELECT rm.role_id, rm.module, rm.enabled
		FROM dealer_role_modules rm
		JOIN dealer_role_assignments a ON a.role_id = rm.role_id
		WHERE a.user_id = $1 AND a.dealer_id = $2`

	queryRolePermissions = `
		SELECT rp.role_id, rp.module, rp.permission
		FROM dealer_role_permissions rp
		JOIN dealer_role_assignments a ON a.role_id = rp.role_id
		WHERE a.user_id = $1 AND a.dealer_id = $2`

	queryRoleSystemPermissions = `
		SELECT sp.role_id, sp.permission
		FROM dealer_role_system_permissions sp
		JOIN dealer_role_assignments a ON a.role_id = sp.role_id
		WHERE a.user_id = $1 AND a.dealer_id = $2`

	queryDealerModules = `SELECT module, enabled FROM dealer_modules WHERE dealer_id = $1`

	queryUsersForRole = `SELECT user_id, dealer_id, role_id FROM dealer_role_assignments WHERE role_id = $1`
)

// Load implements ConfigStore.
func (s *PGStore) Load(ctx context.Context, userID, dealerID int64) (*Snapshot, error) {
	batch := &pgx.Batch{}
	batch.Queue(querySystemRole, userID)
	batch.Queue(queryAssignedRoles, userID, dealerID)
	batch.Queue(queryRoleModules, userID, dealerID)
	batch.Queue(queryRolePermissions, userID, dealerID)
	batch.Queue(queryRoleSystemPermissions, userID, dealerID)
	batch.Queue(queryDealerModules, dealerID)

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	snap := &Snapshot{
		UserID:        userID,
		DealerID:      dealerID,
		SystemRole:    SystemRoleNone,
		DealerModules: make(map[Module]bool),
	}

	var rawRole string
	if err := results.QueryRow().Scan(&rawRole); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: system role: %v", ErrStoreUnavailable, err)
		}
	} else {
		role, err := ParseSystemRole(rawRole)
		if err != nil {
			return nil, err
		}
		snap.SystemRole = role
	}

	byRole := make(map[int64]*RoleConfig)
	rows, err := results.Query()
	if err != nil {
		return nil, fmt.Errorf("%w: assigned roles: %v", ErrStoreUnavailable, err)
	}
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: assigned roles: %v", ErrStoreUnavailable, err)
		}
		byRole[id] = &RoleConfig{
			RoleID:            id,
			Name:              name,
			ModuleGrants:      make(map[Module]bool),
			ModulePermissions: make(map[Module]PermissionSet),
			SystemPermissions: make(PermissionSet),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: assigned roles: %v", ErrStoreUnavailable, err)
	}
	rows.Close()

	if err := s.scanRoleModules(results, byRole); err != nil {
		return nil, err
	}
	if err := s.scanRolePermissions(results, byRole); err != nil {
		return nil, err
	}
	if err := s.scanRoleSystemPermissions(results, byRole); err != nil {
		return nil, err
	}

	rows, err = results.Query()
	if err != nil {
		return nil, fmt.Errorf("%w: dealer modules: %v", ErrStoreUnavailable, err)
	}
	for rows.Next() {
		var raw string
		var enabled bool
		if err := rows.Scan(&raw, &enabled); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: dealer modules: %v", ErrStoreUnavailable, err)
		}
		module, err := ParseModule(raw)
		if err != nil {
			rows.Close()
			return nil, err
		}
		snap.DealerModules[module] = enabled
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: dealer modules: %v", ErrStoreUnavailable, err)
	}
	rows.Close()

	snap.Roles = make([]RoleConfig, 0, len(byRole))
	for _, rc := range byRole {
		snap.Roles = append(snap.Roles, *rc)
	}
	sort.Slice(snap.Roles, func(i, j int) bool { return snap.Roles[i].RoleID < snap.Roles[j].RoleID })

	return snap, nil
}

func (s *PGStore) scanRoleModules(results pgx.BatchResults, byRole map[int64]*RoleConfig) error {
	rows, err := results.Query()
	if err != nil {
		return fmt.Errorf("%w: role modules: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var roleID int64
		var raw string
		var enabled bool
		if err := rows.Scan(&roleID, &raw, &enabled); err != nil {
			return fmt.Errorf("%w: role modules: %v", ErrStoreUnavailable, err)
		}
		module, err := ParseModule(raw)
		if err != nil {
			return err
		}
		if rc, ok := byRole[roleID]; ok {
			rc.ModuleGrants[module] = enabled
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: role modules: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PGStore) scanRolePermissions(results pgx.BatchResults, byRole map[int64]*RoleConfig) error {
	rows, err := results.Query()
	if err != nil {
		return fmt.Errorf("%w: role permissions: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var roleID int64
		var rawModule, rawKey string
		if err := rows.Scan(&roleID, &rawModule, &rawKey); err != nil {
			return fmt.Errorf("%w: role permissions: %v", ErrStoreUnavailable, err)
		}
		module, err := ParseModule(rawModule)
		if err != nil {
			return err
		}
		key, err := ParsePermissionKey(rawKey)
		if err != nil {
			return err
		}
		rc, ok := byRole[roleID]
		if !ok {
			continue
		}
		if rc.ModulePermissions[module] == nil {
			rc.ModulePermissions[module] = make(PermissionSet)
		}
		rc.ModulePermissions[module].Add(key)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: role permissions: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PGStore) scanRoleSystemPermissions(results pgx.BatchResults, byRole map[int64]*RoleConfig) error {
	rows, err := results.Query()
	if err != nil {
		return fmt.Errorf("%w: role system permissions: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var roleID int64
		var rawKey string
		if err := rows.Scan(&roleID, &rawKey); err != nil {
			return fmt.Errorf("%w: role system permissions: %v", ErrStoreUnavailable, err)
		}
		key, err := ParseSystemPermissionKey(rawKey)
		if err != nil {
			return err
		}
		if rc, ok := byRole[roleID]; ok {
			rc.SystemPermissions.Add(key)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: role system permissions: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// UsersForRole implements ConfigStore.
func (s *PGStore) UsersForRole(ctx context.Context, roleID int64) ([]Assignment, error) {
	rows, err := s.pool.Query(ctx, queryUsersForRole, roleID)
	if err != nil {
		return nil, fmt.Errorf("%w: users for role: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.UserID, &a.DealerID, &a.RoleID); err != nil {
			return nil, fmt.Errorf("%w: users for role: %v", ErrStoreUnavailable, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: users for role: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

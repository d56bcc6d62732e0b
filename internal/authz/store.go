package authz

import "context"

// ConfigStore is the engine's read-only view of authorization configuration.
// Load is idempotent and side-effect-free; the management interface is the
// only writer of the underlying rows.
type ConfigStore interface {
	// Load fetches everything needed to resolve one (user, dealer) pair in a
	// single round trip: system role, assigned roles with their grants, and
	// the dealer's module-enablement map.
	Load(ctx context.Context, userID, dealerID int64) (*Snapshot, error)

	// UsersForRole lists current assignments of a role, used to fan a
	// role-scoped invalidation out to affected cache entries.
	UsersForRole(ctx context.Context, roleID int64) ([]Assignment, error)
}

package dealers

import "time"

// Dealer is a tenant. All role, module, and permission configuration is
// partitioned by dealer ID.
type Dealer struct {
	ID        int64
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

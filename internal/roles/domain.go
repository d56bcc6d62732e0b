package roles

import "time"

// Role is a dealer-scoped bundle of module and permission grants.
type Role struct {
	ID          int64
	DealerID    int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

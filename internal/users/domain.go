package users

import (
	"time"

	"github.com/dealerdesk/dealerdesk/internal/authz"
)

// User is an identity known to the installation. SystemRole is the optional
// installation-wide role; everything else a user may do comes from
// dealer-scoped role assignments.
type User struct {
	ID         int64
	Email      string
	Name       string
	SystemRole authz.SystemRole
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

package roles

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/dealerdesk/dealerdesk/internal/authz"
)

// RepositoryPort defines data access methods for role configuration.
type RepositoryPort interface {
	ListRoles(ctx context.Context, dealerID int64) ([]Role, error)
	GetRole(ctx context.Context, dealerID, roleID int64) (Role, error)
	CreateRole(ctx context.Context, dealerID int64, name, description string) (Role, error)
	UpdateRole(ctx context.Context, dealerID, roleID int64, name, description string) (Role, error)
	DeleteRole(ctx context.Context, dealerID, roleID int64) error
	SetModuleGrant(ctx context.Context, roleID int64, module authz.Module, enabled bool) error
	ReplaceModulePermissions(ctx context.Context, roleID int64, module authz.Module, keys []authz.PermissionKey) error
	ReplaceSystemPermissions(ctx context.Context, roleID int64, keys []authz.PermissionKey) error
	Assign(ctx context.Context, userID, dealerID, roleID int64) error
	Unassign(ctx context.Context, userID, dealerID, roleID int64) error
	ListRoleAssignments(ctx context.Context, roleID int64) ([]authz.Assignment, error)
}

// InvalidationBus publishes cache invalidations for configuration edits.
type InvalidationBus interface {
	Publish(ctx context.Context, event authz.Event) error
}

// Warmup re-resolves permissions for a role's users after a grant edit.
type Warmup interface {
	EnqueueRoleWarmup(ctx context.Context, roleID int64) error
}

// Service handles role management. Every successful write publishes its
// invalidation before the caller is told it succeeded; a write whose
// invalidation cannot be delivered is reported as failed.
type Service struct {
	repo   RepositoryPort
	bus    InvalidationBus
	warmup Warmup
	logger *slog.Logger
}

// NewService builds Service instance. warmup may be nil.
func NewService(repo RepositoryPort, bus InvalidationBus, warmup Warmup, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, bus: bus, warmup: warmup, logger: logger}
}

// warmRole is opportunistic; a failed enqueue never fails the edit.
func (s *Service) warmRole(ctx context.Context, roleID int64) {
	if s.warmup == nil {
		return
	}
	if err := s.warmup.EnqueueRoleWarmup(ctx, roleID); err != nil {
		s.logger.Warn("enqueue role warmup", slog.Int64("role_id", roleID), slog.Any("error", err))
	}
}

// ListRoles returns all roles of a dealer.
func (s *Service) ListRoles(ctx context.Context, dealerID int64) ([]Role, error) {
	return s.repo.ListRoles(ctx, dealerID)
}

// GetRole fetches one role of a dealer.
func (s *Service) GetRole(ctx context.Context, dealerID, roleID int64) (Role, error) {
	return s.repo.GetRole(ctx, dealerID, roleID)
}

// CreateRole inserts a new role. A fresh role has no grants and therefore no
// live permissions, so no invalidation is needed.
func (s *Service) CreateRole(ctx context.Context, dealerID int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("roles: role name required")
	}
	return s.repo.CreateRole(ctx, dealerID, name, strings.TrimSpace(description))
}

// UpdateRole renames a role. Grants are untouched, so cached permission sets
// stay valid.
func (s *Service) UpdateRole(ctx context.Context, dealerID, roleID int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("roles: role name required")
	}
	return s.repo.UpdateRole(ctx, dealerID, roleID, name, strings.TrimSpace(description))
}

// DeleteRole removes a role, its grants and its assignments. The affected
// users are captured before the assignment rows disappear, and their entries
// are invalidated after the delete so no resolution can re-cache the
// pre-delete state.
func (s *Service) DeleteRole(ctx context.Context, dealerID, roleID int64) error {
	assignments, err := s.repo.ListRoleAssignments(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteRole(ctx, dealerID, roleID); err != nil {
		return err
	}
	for _, a := range assignments {
		if err := s.bus.Publish(ctx, authz.UserEvent(a.UserID, a.DealerID)); err != nil {
			return err
		}
	}
	return nil
}

// SetModuleGrant toggles the role-level module gate.
func (s *Service) SetModuleGrant(ctx context.Context, dealerID, roleID int64, module authz.Module, enabled bool) error {
	if _, err := s.repo.GetRole(ctx, dealerID, roleID); err != nil {
		return err
	}
	if err := s.repo.SetModuleGrant(ctx, roleID, module, enabled); err != nil {
		return err
	}
	if err := s.bus.Publish(ctx, authz.RoleEvent(roleID)); err != nil {
		return err
	}
	s.warmRole(ctx, roleID)
	return nil
}

// SetModulePermissions replaces the permission grants of a role for one module.
func (s *Service) SetModulePermissions(ctx context.Context, dealerID, roleID int64, module authz.Module, keys []authz.PermissionKey) error {
	if _, err := s.repo.GetRole(ctx, dealerID, roleID); err != nil {
		return err
	}
	if err := s.repo.ReplaceModulePermissions(ctx, roleID, module, dedupe(keys)); err != nil {
		return err
	}
	if err := s.bus.Publish(ctx, authz.RoleEvent(roleID)); err != nil {
		return err
	}
	s.warmRole(ctx, roleID)
	return nil
}

// SetSystemPermissions replaces the system-level grants of a role.
func (s *Service) SetSystemPermissions(ctx context.Context, dealerID, roleID int64, keys []authz.PermissionKey) error {
	if _, err := s.repo.GetRole(ctx, dealerID, roleID); err != nil {
		return err
	}
	if err := s.repo.ReplaceSystemPermissions(ctx, roleID, dedupe(keys)); err != nil {
		return err
	}
	if err := s.bus.Publish(ctx, authz.RoleEvent(roleID)); err != nil {
		return err
	}
	s.warmRole(ctx, roleID)
	return nil
}

// Assign gives a user a role within the dealer.
func (s *Service) Assign(ctx context.Context, userID, dealerID, roleID int64) error {
	if _, err := s.repo.GetRole(ctx, dealerID, roleID); err != nil {
		return err
	}
	if err := s.repo.Assign(ctx, userID, dealerID, roleID); err != nil {
		return err
	}
	return s.bus.Publish(ctx, authz.UserEvent(userID, dealerID))
}

// Unassign removes a role from a user within the dealer.
func (s *Service) Unassign(ctx context.Context, userID, dealerID, roleID int64) error {
	if err := s.repo.Unassign(ctx, userID, dealerID, roleID); err != nil {
		return err
	}
	return s.bus.Publish(ctx, authz.UserEvent(userID, dealerID))
}

func dedupe(keys []authz.PermissionKey) []authz.PermissionKey {
	seen := make(map[authz.PermissionKey]struct{}, len(keys))
	out := make([]authz.PermissionKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

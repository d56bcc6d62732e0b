package dealers

import (
	"context"
	"log/slog"

	"github.com/dealerdesk/dealerdesk/internal/authz"
)

// RepositoryPort defines data access methods for dealer configuration.
type RepositoryPort interface {
	GetDealer(ctx context.Context, dealerID int64) (Dealer, error)
	ModuleEnablement(ctx context.Context, dealerID int64) (map[authz.Module]bool, error)
	SetModuleEnabled(ctx context.Context, dealerID int64, module authz.Module, enabled bool) error
	RoleIDs(ctx context.Context, dealerID int64) ([]int64, error)
}

// InvalidationBus publishes cache invalidations for configuration edits.
type InvalidationBus interface {
	Publish(ctx context.Context, event authz.Event) error
}

// Warmup re-resolves permissions for a dealer's users after a bulk change.
type Warmup interface {
	EnqueueDealerWarmup(ctx context.Context, dealerID int64) error
}

// Service handles dealer module-enablement. A toggle affects every user of
// the dealer, so it fans out as one role-scoped invalidation per role.
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

// GetDealer fetches a dealer.
func (s *Service) GetDealer(ctx context.Context, dealerID int64) (Dealer, error) {
	return s.repo.GetDealer(ctx, dealerID)
}

// ModuleEnablement returns the dealer's module-enablement map.
func (s *Service) ModuleEnablement(ctx context.Context, dealerID int64) (map[authz.Module]bool, error) {
	return s.repo.ModuleEnablement(ctx, dealerID)
}

// SetModuleEnabled toggles the dealer-level module gate and invalidates every
// affected cache entry before reporting success.
func (s *Service) SetModuleEnabled(ctx context.Context, dealerID int64, module authz.Module, enabled bool) error {
	if _, err := s.repo.GetDealer(ctx, dealerID); err != nil {
		return err
	}
	if err := s.repo.SetModuleEnabled(ctx, dealerID, module, enabled); err != nil {
		return err
	}
	roleIDs, err := s.repo.RoleIDs(ctx, dealerID)
	if err != nil {
		return err
	}
	for _, roleID := range roleIDs {
		if err := s.bus.Publish(ctx, authz.RoleEvent(roleID)); err != nil {
			return err
		}
	}
	if s.warmup != nil {
		// Warmup is opportunistic; a failed enqueue never fails the toggle.
		if err := s.warmup.EnqueueDealerWarmup(ctx, dealerID); err != nil {
			s.logger.Warn("enqueue dealer warmup", slog.Int64("dealer_id", dealerID), slog.Any("error", err))
		}
	}
	return nil
}

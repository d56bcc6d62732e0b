package authz

import (
	"context"
	"log/slog"
)

// Guard is the single call site the rest of the application uses for access
// checks. Every resolution or cache failure is converted into a deny and
// logged; "could not determine" is never interpreted as "allow", and there is
// no retry-then-allow path.
type Guard struct {
	cache   *Cache
	logger  *slog.Logger
	metrics *Metrics
}

// NewGuard constructs a Guard over the resolution cache.
func NewGuard(cache *Cache, logger *slog.Logger, metrics *Metrics) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{cache: cache, logger: logger, metrics: metrics}
}

// HasModuleAccess reports whether the user may use the module in the dealer.
func (g *Guard) HasModuleAccess(ctx context.Context, userID, dealerID int64, module Module) bool {
	set, err := g.cache.GetOrResolve(ctx, userID, dealerID)
	if err != nil {
		g.deny(userID, dealerID, string(module), err)
		return false
	}
	return set.HasModule(module)
}

// HasPermission reports whether the user holds the permission within the
// module in the dealer.
func (g *Guard) HasPermission(ctx context.Context, userID, dealerID int64, module Module, key PermissionKey) bool {
	set, err := g.cache.GetOrResolve(ctx, userID, dealerID)
	if err != nil {
		g.deny(userID, dealerID, string(module), err)
		return false
	}
	return set.HasPermission(module, key)
}

// HasSystemPermission reports whether the user holds the system-level
// permission through any role in the dealer.
func (g *Guard) HasSystemPermission(ctx context.Context, userID, dealerID int64, key PermissionKey) bool {
	set, err := g.cache.GetOrResolve(ctx, userID, dealerID)
	if err != nil {
		g.deny(userID, dealerID, "system", err)
		return false
	}
	return set.HasSystemPermission(key)
}

// HasModuleAccessBulk answers module access for several modules with a single
// resolution, for callers rendering a navigation surface.
func (g *Guard) HasModuleAccessBulk(ctx context.Context, userID, dealerID int64, modules []Module) map[Module]bool {
	out := make(map[Module]bool, len(modules))
	set, err := g.cache.GetOrResolve(ctx, userID, dealerID)
	if err != nil {
		g.deny(userID, dealerID, "bulk", err)
		for _, m := range modules {
			out[m] = false
		}
		return out
	}
	for _, m := range modules {
		out[m] = set.HasModule(m)
	}
	return out
}

// EffectiveSet exposes the resolved set for introspection surfaces.
func (g *Guard) EffectiveSet(ctx context.Context, userID, dealerID int64) (*EffectiveSet, error) {
	return g.cache.GetOrResolve(ctx, userID, dealerID)
}

// deny records an error-driven denial with enough context to reconstruct the
// failure. Permission contents are never logged.
func (g *Guard) deny(userID, dealerID int64, scope string, err error) {
	kind := errorKind(err)
	g.metrics.errorDenial(kind)
	g.logger.Error("authz denied on error",
		slog.Int64("user_id", userID),
		slog.Int64("dealer_id", dealerID),
		slog.String("scope", scope),
		slog.String("kind", kind),
		slog.Any("error", err))
}

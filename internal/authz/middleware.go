package authz

import (
	"log/slog"
	"net/http"

	"github.com/dealerdesk/dealerdesk/internal/shared"
)

// Middleware wires route-level authorization for HTTP handlers. Denials are
// generic 403s; the reason a gate failed is only visible to operators through
// the introspection surface.
type Middleware struct {
	Guard  *Guard
	Logger *slog.Logger
}

// RequireModule ensures the current identity may use the module.
func (m Middleware) RequireModule(module Module) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := shared.IdentityFromContext(r.Context())
			if !ok {
				forbidden(w)
				return
			}
			if !m.Guard.HasModuleAccess(r.Context(), id.UserID, id.DealerID, module) {
				forbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission ensures the current identity holds the permission within
// the module.
func (m Middleware) RequirePermission(module Module, key PermissionKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := shared.IdentityFromContext(r.Context())
			if !ok {
				forbidden(w)
				return
			}
			if !m.Guard.HasPermission(r.Context(), id.UserID, id.DealerID, module, key) {
				forbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSystem ensures the current identity holds the system-level
// permission.
func (m Middleware) RequireSystem(key PermissionKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := shared.IdentityFromContext(r.Context())
			if !ok {
				forbidden(w)
				return
			}
			if !m.Guard.HasSystemPermission(r.Context(), id.UserID, id.DealerID, key) {
				forbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func forbidden(w http.ResponseWriter) {
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}

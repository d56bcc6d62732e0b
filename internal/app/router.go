package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dealerdesk/dealerdesk/internal/authz"
	"github.com/dealerdesk/dealerdesk/internal/dealers"
	"github.com/dealerdesk/dealerdesk/internal/observability"
	"github.com/dealerdesk/dealerdesk/internal/roles"
	"github.com/dealerdesk/dealerdesk/internal/users"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	AuthzHandler   *authz.Handler
	RolesHandler   *roles.Handler
	DealersHandler *dealers.Handler
	UsersHandler   *users.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with DealerDesk defaults. Everything
// under /api requires a trusted identity; authorization happens per route
// group inside the mounted handlers.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(users.IdentityMiddleware(params.Logger))

		r.Route("/authz", func(r chi.Router) {
			params.AuthzHandler.MountRoutes(r)
		})
		r.Route("/roles", func(r chi.Router) {
			params.RolesHandler.MountRoutes(r)
		})
		r.Route("/dealer", func(r chi.Router) {
			params.DealersHandler.MountRoutes(r)
		})
		r.Route("/me", func(r chi.Router) {
			params.UsersHandler.MountRoutes(r)
		})
	})

	return r
}

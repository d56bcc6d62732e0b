package dealers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dealerdesk/dealerdesk/internal/authz"
	"github.com/dealerdesk/dealerdesk/internal/shared"
)

// Handler manages dealer module-enablement endpoints, scoped to the calling
// identity's dealer and guarded by the manage_dealer_settings permission.
type Handler struct {
	logger  *slog.Logger
	service *Service
	mw      authz.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, mw: mw}
}

// MountRoutes registers dealer settings routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireSystem(authz.PermManageDealerSettings))
		r.Get("/modules", h.listModules)
		r.Put("/modules/{module}", h.setModule)
	})
}

type moduleView struct {
	Module  authz.Module `json:"module"`
	Enabled bool         `json:"enabled"`
}

type togglePayload struct {
	Enabled bool `json:"enabled"`
}

func (h *Handler) listModules(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	enablement, err := h.service.ModuleEnablement(r.Context(), id.DealerID)
	if err != nil {
		h.fail(w, err)
		return
	}
	views := make([]moduleView, 0, len(authz.AllModules()))
	for _, module := range authz.AllModules() {
		views = append(views, moduleView{Module: module, Enabled: enablement[module]})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"modules": views})
}

func (h *Handler) setModule(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	module, err := authz.ParseModule(chi.URLParam(r, "module"))
	if err != nil {
		http.Error(w, "unknown module", http.StatusBadRequest)
		return
	}
	var payload togglePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := h.service.SetModuleEnabled(r.Context(), id.DealerID, module, payload.Enabled); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("write json response", slog.Any("error", err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, shared.ErrNotFound) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	h.logger.Error("dealers request failed", slog.Any("error", err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

package authz

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dealerdesk/dealerdesk/internal/shared"
)

// Handler exposes the operator introspection surface and the bulk module
// check used by navigation rendering.
type Handler struct {
	logger   *slog.Logger
	guard    *Guard
	resolver *Resolver
	mw       Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, guard *Guard, resolver *Resolver, mw Middleware) *Handler {
	return &Handler{logger: logger, guard: guard, resolver: resolver, mw: mw}
}

// MountRoutes registers authz routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/modules", h.bulkModuleAccess)
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireSystem(PermViewAccessReports))
		r.Get("/effective", h.effectiveSet)
		r.Get("/explain", h.explain)
	})
}

type bulkModulesRequest struct {
	Modules []string `json:"modules"`
}

type bulkModuleEntry struct {
	Module     Module `json:"module"`
	Label      string `json:"label"`
	Accessible bool   `json:"accessible"`
}

var moduleLabeler = cases.Title(language.English)

func moduleLabel(m Module) string {
	return moduleLabeler.String(strings.ReplaceAll(string(m), "_", " "))
}

// bulkModuleAccess answers module access for the current identity in one
// resolution, so a menu render does not issue one check per entry.
func (h *Handler) bulkModuleAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		forbidden(w)
		return
	}
	var req bulkModulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	modules := make([]Module, 0, len(req.Modules))
	if len(req.Modules) == 0 {
		modules = AllModules()
	} else {
		for _, raw := range req.Modules {
			module, err := ParseModule(raw)
			if err != nil {
				http.Error(w, "unknown module", http.StatusBadRequest)
				return
			}
			modules = append(modules, module)
		}
	}
	access := h.guard.HasModuleAccessBulk(r.Context(), id.UserID, id.DealerID, modules)
	entries := make([]bulkModuleEntry, 0, len(modules))
	for _, module := range modules {
		entries = append(entries, bulkModuleEntry{Module: module, Label: moduleLabel(module), Accessible: access[module]})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"modules": entries})
}

func (h *Handler) effectiveSet(w http.ResponseWriter, r *http.Request) {
	userID, dealerID, ok := subjectParams(r)
	if !ok {
		http.Error(w, "user_id and dealer_id required", http.StatusBadRequest)
		return
	}
	set, err := h.guard.EffectiveSet(r.Context(), userID, dealerID)
	if err != nil {
		h.logger.Error("authz effective set", slog.String("kind", errorKind(err)), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	data, err := EncodeSet(set)
	if err != nil {
		h.logger.Error("authz encode effective set", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) explain(w http.ResponseWriter, r *http.Request) {
	userID, dealerID, ok := subjectParams(r)
	if !ok {
		http.Error(w, "user_id and dealer_id required", http.StatusBadRequest)
		return
	}
	exp, err := h.resolver.Explain(r.Context(), userID, dealerID)
	if err != nil {
		h.logger.Error("authz explain", slog.String("kind", errorKind(err)), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	h.writeJSON(w, http.StatusOK, exp)
}

func subjectParams(r *http.Request) (userID, dealerID int64, ok bool) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		return 0, 0, false
	}
	dealerID, err = strconv.ParseInt(r.URL.Query().Get("dealer_id"), 10, 64)
	if err != nil || dealerID <= 0 {
		return 0, 0, false
	}
	return userID, dealerID, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("write json response", slog.Any("error", err))
	}
}

package roles

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/dealerdesk/dealerdesk/internal/authz"
	"github.com/dealerdesk/dealerdesk/internal/shared"
)

// Handler manages role management endpoints. All routes operate on the
// dealer of the calling identity and sit behind the manage_roles system
// permission.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	mw       authz.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), mw: mw}
}

// MountRoutes registers role management routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireSystem(authz.PermManageRoles))
		r.Get("/", h.listRoles)
		r.Post("/", h.createRole)
		r.Get("/{roleID}", h.getRole)
		r.Put("/{roleID}", h.updateRole)
		r.Delete("/{roleID}", h.deleteRole)
		r.Put("/{roleID}/modules/{module}", h.setModuleGrant)
		r.Put("/{roleID}/modules/{module}/permissions", h.setModulePermissions)
		r.Put("/{roleID}/system-permissions", h.setSystemPermissions)
		r.Post("/{roleID}/assignments", h.assign)
		r.Delete("/{roleID}/assignments/{userID}", h.unassign)
	})
}

type rolePayload struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=500"`
}

type moduleGrantPayload struct {
	Enabled bool `json:"enabled"`
}

type permissionsPayload struct {
	Permissions []string `json:"permissions" validate:"dive,required"`
}

type assignmentPayload struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	list, err := h.service.ListRoles(r.Context(), id.DealerID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"roles": toViews(list)})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	roleID, ok := pathID(r, "roleID")
	if !ok {
		http.Error(w, "invalid role id", http.StatusBadRequest)
		return
	}
	role, err := h.service.GetRole(r.Context(), id.DealerID, roleID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toView(role))
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	var payload rolePayload
	if !h.decode(w, r, &payload) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), id.DealerID, payload.Name, payload.Description)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toView(role))
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	roleID, ok := pathID(r, "roleID")
	if !ok {
		http.Error(w, "invalid role id", http.StatusBadRequest)
		return
	}
	var payload rolePayload
	if !h.decode(w, r, &payload) {
		return
	}
	role, err := h.service.UpdateRole(r.Context(), id.DealerID, roleID, payload.Name, payload.Description)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toView(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	roleID, ok := pathID(r, "roleID")
	if !ok {
		http.Error(w, "invalid role id", http.StatusBadRequest)
		return
	}
	if err := h.service.DeleteRole(r.Context(), id.DealerID, roleID); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setModuleGrant(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	roleID, ok := pathID(r, "roleID")
	if !ok {
		http.Error(w, "invalid role id", http.StatusBadRequest)
		return
	}
	module, err := authz.ParseModule(chi.URLParam(r, "module"))
	if err != nil {
		http.Error(w, "unknown module", http.StatusBadRequest)
		return
	}
	var payload moduleGrantPayload
	if !h.decode(w, r, &payload) {
		return
	}
	if err := h.service.SetModuleGrant(r.Context(), id.DealerID, roleID, module, payload.Enabled); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setModulePermissions(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	roleID, ok := pathID(r, "roleID")
	if !ok {
		http.Error(w, "invalid role id", http.StatusBadRequest)
		return
	}
	module, err := authz.ParseModule(chi.URLParam(r, "module"))
	if err != nil {
		http.Error(w, "unknown module", http.StatusBadRequest)
		return
	}
	var payload permissionsPayload
	if !h.decode(w, r, &payload) {
		return
	}
	keys := make([]authz.PermissionKey, 0, len(payload.Permissions))
	for _, raw := range payload.Permissions {
		key, err := authz.ParsePermissionKey(raw)
		if err != nil {
			http.Error(w, "unknown permission", http.StatusBadRequest)
			return
		}
		keys = append(keys, key)
	}
	if err := h.service.SetModulePermissions(r.Context(), id.DealerID, roleID, module, keys); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setSystemPermissions(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	roleID, ok := pathID(r, "roleID")
	if !ok {
		http.Error(w, "invalid role id", http.StatusBadRequest)
		return
	}
	var payload permissionsPayload
	if !h.decode(w, r, &payload) {
		return
	}
	keys := make([]authz.PermissionKey, 0, len(payload.Permissions))
	for _, raw := range payload.Permissions {
		key, err := authz.ParseSystemPermissionKey(raw)
		if err != nil {
			http.Error(w, "unknown system permission", http.StatusBadRequest)
			return
		}
		keys = append(keys, key)
	}
	if err := h.service.SetSystemPermissions(r.Context(), id.DealerID, roleID, keys); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	roleID, ok := pathID(r, "roleID")
	if !ok {
		http.Error(w, "invalid role id", http.StatusBadRequest)
		return
	}
	var payload assignmentPayload
	if !h.decode(w, r, &payload) {
		return
	}
	if err := h.service.Assign(r.Context(), payload.UserID, id.DealerID, roleID); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unassign(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	roleID, ok := pathID(r, "roleID")
	if !ok {
		http.Error(w, "invalid role id", http.StatusBadRequest)
		return
	}
	userID, ok := pathID(r, "userID")
	if !ok {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	if err := h.service.Unassign(r.Context(), userID, id.DealerID, roleID); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type roleView struct {
	ID          int64  `json:"id"`
	DealerID    int64  `json:"dealer_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func toView(role Role) roleView {
	return roleView{ID: role.ID, DealerID: role.DealerID, Name: role.Name, Description: role.Description}
}

func toViews(list []Role) []roleView {
	out := make([]roleView, len(list))
	for i, role := range list {
		out[i] = toView(role)
	}
	return out
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, payload any) bool {
	if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("write json response", slog.Any("error", err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, shared.ErrConflict):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	default:
		h.logger.Error("roles request failed", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

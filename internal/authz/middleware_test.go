package authz

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dealerdesk/dealerdesk/internal/shared"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestAs(userID, dealerID int64) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := shared.ContextWithIdentity(req.Context(), shared.Identity{UserID: userID, DealerID: dealerID})
	return req.WithContext(ctx)
}

func TestMiddlewareGatesByModuleAndPermission(t *testing.T) {
	store := newMockStore()
	store.put(salesSnapshot(7, 3))
	mw := Middleware{Guard: newTestGuard(store), Logger: slog.Default()}

	tests := []struct {
		name   string
		wrap   func(http.Handler) http.Handler
		req    *http.Request
		status int
	}{
		{"module allowed", mw.RequireModule(ModuleSalesOrders), requestAs(7, 3), http.StatusOK},
		{"module denied", mw.RequireModule(ModuleInventory), requestAs(7, 3), http.StatusForbidden},
		{"permission allowed", mw.RequirePermission(ModuleSalesOrders, PermViewRecord), requestAs(7, 3), http.StatusOK},
		{"permission denied", mw.RequirePermission(ModuleSalesOrders, PermDeleteRecord), requestAs(7, 3), http.StatusForbidden},
		{"system denied", mw.RequireSystem(PermManageRoles), requestAs(7, 3), http.StatusForbidden},
		{"other dealer denied", mw.RequireModule(ModuleSalesOrders), requestAs(7, 9), http.StatusForbidden},
		{"no identity", mw.RequireModule(ModuleSalesOrders), httptest.NewRequest(http.MethodGet, "/", nil), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.wrap(okHandler()).ServeHTTP(rec, tt.req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestMiddlewareDeniesWhenResolutionFails(t *testing.T) {
	store := newMockStore()
	store.loadErr = ErrStoreUnavailable
	mw := Middleware{Guard: newTestGuard(store), Logger: slog.Default()}

	rec := httptest.NewRecorder()
	mw.RequireModule(ModuleSalesOrders)(okHandler()).ServeHTTP(rec, requestAs(7, 3))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMiddlewareSystemAllowsGrantedKey(t *testing.T) {
	store := newMockStore()
	snap := salesSnapshot(7, 3)
	snap.Roles[0].SystemPermissions = NewPermissionSet(PermManageRoles)
	store.put(snap)
	mw := Middleware{Guard: newTestGuard(store), Logger: slog.Default()}

	rec := httptest.NewRecorder()
	mw.RequireSystem(PermManageRoles)(okHandler()).ServeHTTP(rec, requestAs(7, 3))
	assert.Equal(t, http.StatusOK, rec.Code)
}

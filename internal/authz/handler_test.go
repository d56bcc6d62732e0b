package authz

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealerdesk/dealerdesk/internal/shared"
)

func newTestRouter(store *mockStore) chi.Router {
	guard := newTestGuard(store)
	resolver := NewResolver(store)
	mw := Middleware{Guard: guard, Logger: slog.Default()}
	handler := NewHandler(slog.Default(), guard, resolver, mw)

	r := chi.NewRouter()
	handler.MountRoutes(r)
	return r
}

func doAs(t *testing.T, r http.Handler, userID, dealerID int64, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	ctx := shared.ContextWithIdentity(req.Context(), shared.Identity{UserID: userID, DealerID: dealerID})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func TestBulkModuleAccessEndpoint(t *testing.T) {
	store := newMockStore()
	store.put(salesSnapshot(7, 3))
	r := newTestRouter(store)

	rec := doAs(t, r, 7, 3, http.MethodPost, "/modules", `{"modules":["sales_orders","inventory"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Modules []bulkModuleEntry `json:"modules"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Modules, 2)
	assert.Equal(t, ModuleSalesOrders, resp.Modules[0].Module)
	assert.Equal(t, "Sales Orders", resp.Modules[0].Label)
	assert.True(t, resp.Modules[0].Accessible)
	assert.Equal(t, ModuleInventory, resp.Modules[1].Module)
	assert.False(t, resp.Modules[1].Accessible)
}

func TestBulkModuleAccessDefaultsToAllModules(t *testing.T) {
	store := newMockStore()
	store.put(salesSnapshot(7, 3))
	r := newTestRouter(store)

	rec := doAs(t, r, 7, 3, http.MethodPost, "/modules", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Modules []bulkModuleEntry `json:"modules"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Modules, len(AllModules()))
}

func TestBulkModuleAccessRejectsUnknownModule(t *testing.T) {
	store := newMockStore()
	store.put(salesSnapshot(7, 3))
	r := newTestRouter(store)

	rec := doAs(t, r, 7, 3, http.MethodPost, "/modules", `{"modules":["time_travel"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIntrospectionRequiresAccessReportsPermission(t *testing.T) {
	store := newMockStore()
	store.put(salesSnapshot(7, 3))
	r := newTestRouter(store)

	rec := doAs(t, r, 7, 3, http.MethodGet, "/explain?user_id=7&dealer_id=3", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doAs(t, r, 7, 3, http.MethodGet, "/effective?user_id=7&dealer_id=3", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestExplainEndpoint(t *testing.T) {
	store := newMockStore()
	auditor := salesSnapshot(2, 3)
	auditor.UserID = 2
	auditor.Roles[0].SystemPermissions = NewPermissionSet(PermViewAccessReports)
	store.put(auditor)
	store.put(salesSnapshot(7, 3))
	r := newTestRouter(store)

	rec := doAs(t, r, 2, 3, http.MethodGet, "/explain?user_id=7&dealer_id=3", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var exp Explanation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exp))
	assert.Equal(t, int64(7), exp.UserID)
	assert.Equal(t, int64(3), exp.DealerID)
	assert.Len(t, exp.Modules, len(AllModules()))
}

func TestEffectiveEndpointReturnsWireForm(t *testing.T) {
	store := newMockStore()
	auditor := salesSnapshot(2, 3)
	auditor.Roles[0].SystemPermissions = NewPermissionSet(PermViewAccessReports)
	store.put(auditor)
	store.put(salesSnapshot(7, 3))
	r := newTestRouter(store)

	rec := doAs(t, r, 2, 3, http.MethodGet, "/effective?user_id=7&dealer_id=3", "")
	require.Equal(t, http.StatusOK, rec.Code)

	set, err := DecodeSet(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, int64(7), set.UserID())
	assert.True(t, set.HasModule(ModuleSalesOrders))

	rec = doAs(t, r, 2, 3, http.MethodGet, "/effective?dealer_id=3", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

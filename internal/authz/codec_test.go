package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolvedSet(t *testing.T, snap *Snapshot) *EffectiveSet {
	t.Helper()
	store := newMockStore()
	store.put(snap)
	set, err := NewResolver(store).Resolve(context.Background(), snap.UserID, snap.DealerID)
	require.NoError(t, err)
	return set
}

func TestWireRoundTripPreservesMembership(t *testing.T) {
	set := resolvedSet(t, &Snapshot{
		UserID:     7,
		DealerID:   3,
		SystemRole: SystemRoleNone,
		Roles: []RoleConfig{{
			RoleID:       1,
			Name:         "Manager",
			ModuleGrants: map[Module]bool{ModuleSalesOrders: true, ModuleReports: true},
			ModulePermissions: map[Module]PermissionSet{
				ModuleSalesOrders: NewPermissionSet(PermViewRecord, PermCreateRecord, PermExportRecords),
				ModuleReports:     NewPermissionSet(PermViewRecord),
			},
			SystemPermissions: NewPermissionSet(PermManageRoles),
		}},
		DealerModules: map[Module]bool{ModuleSalesOrders: true, ModuleReports: true},
	})

	data, err := EncodeSet(set)
	require.NoError(t, err)

	decoded, err := DecodeSet(data)
	require.NoError(t, err)

	assert.Equal(t, set.UserID(), decoded.UserID())
	assert.Equal(t, set.DealerID(), decoded.DealerID())
	assert.Equal(t, set.Modules(), decoded.Modules())
	for _, module := range AllModules() {
		assert.Equal(t, set.ModulePermissions(module), decoded.ModulePermissions(module), module)
		for _, key := range ModulePermissionKeys() {
			assert.Equal(t, set.HasPermission(module, key), decoded.HasPermission(module, key))
		}
	}
	assert.Equal(t, set.SystemPermissions(), decoded.SystemPermissions())
	assert.True(t, decoded.HasSystemPermission(PermManageRoles))
	assert.False(t, decoded.HasSystemPermission(PermManageDealerSettings))
}

func TestWireRoundTripAdmin(t *testing.T) {
	set := resolvedSet(t, &Snapshot{
		UserID:        1,
		DealerID:      2,
		SystemRole:    SystemRoleUnrestrictedAdmin,
		DealerModules: map[Module]bool{},
	})

	data, err := EncodeSet(set)
	require.NoError(t, err)
	decoded, err := DecodeSet(data)
	require.NoError(t, err)
	assert.True(t, decoded.Admin())
	assert.True(t, decoded.HasModule(ModuleMessaging))
}

func TestDecodeRejectsCorruptShapes(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"wrong wire version", `{"v":2,"user_id":7,"dealer_id":3,"modules":{},"system":[]}`},
		{"missing identity", `{"v":1,"modules":{},"system":[]}`},
		{"unknown module", `{"v":1,"user_id":7,"dealer_id":3,"modules":{"time_travel":["view_record"]},"system":[]}`},
		{"unknown permission", `{"v":1,"user_id":7,"dealer_id":3,"modules":{"inventory":["levitate"]},"system":[]}`},
		{"system key in module scope", `{"v":1,"user_id":7,"dealer_id":3,"modules":{"inventory":["manage_roles"]},"system":[]}`},
		{"module key in system scope", `{"v":1,"user_id":7,"dealer_id":3,"modules":{},"system":["view_record"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := DecodeSet([]byte(tt.data))
			require.ErrorIs(t, err, ErrCacheCorrupt)
			assert.Nil(t, set)
		})
	}
}

func TestEncodeNilSet(t *testing.T) {
	_, err := EncodeSet(nil)
	require.ErrorIs(t, err, ErrCacheCorrupt)
}

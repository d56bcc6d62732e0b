package authz

import (
	"fmt"
	"sort"
	"time"
)

// Module identifies a functional area of the application. The set is closed:
// configuration rows carrying any other value are rejected at the store boundary.
type Module string

const (
	ModuleSalesOrders Module = "sales_orders"
	ModuleInventory   Module = "inventory"
	ModuleMessaging   Module = "messaging"
	ModuleVehicles    Module = "vehicles"
	ModuleCustomers   Module = "customers"
	ModuleReports     Module = "reports"
)

var allModules = []Module{
	ModuleSalesOrders,
	ModuleInventory,
	ModuleMessaging,
	ModuleVehicles,
	ModuleCustomers,
	ModuleReports,
}

// AllModules returns every known module in stable order.
func AllModules() []Module {
	out := make([]Module, len(allModules))
	copy(out, allModules)
	return out
}

// ParseModule validates a raw module key.
func ParseModule(raw string) (Module, error) {
	for _, m := range allModules {
		if string(m) == raw {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: module %q", ErrUnknownModule, raw)
}

// PermissionKey identifies a granular capability. Module-scoped keys apply
// inside a module; system-scoped keys apply dealer-wide.
type PermissionKey string

const (
	PermViewRecord    PermissionKey = "view_record"
	PermCreateRecord  PermissionKey = "create_record"
	PermUpdateRecord  PermissionKey = "update_record"
	PermDeleteRecord  PermissionKey = "delete_record"
	PermExportRecords PermissionKey = "export_records"

	PermManageDealerSettings PermissionKey = "manage_dealer_settings"
	PermManageRoles          PermissionKey = "manage_roles"
	PermViewAccessReports    PermissionKey = "view_access_reports"
)

var modulePermissionKeys = []PermissionKey{
	PermViewRecord,
	PermCreateRecord,
	PermUpdateRecord,
	PermDeleteRecord,
	PermExportRecords,
}

var systemPermissionKeys = []PermissionKey{
	PermManageDealerSettings,
	PermManageRoles,
	PermViewAccessReports,
}

// ModulePermissionKeys returns the module-scoped keys in stable order.
func ModulePermissionKeys() []PermissionKey {
	out := make([]PermissionKey, len(modulePermissionKeys))
	copy(out, modulePermissionKeys)
	return out
}

// SystemPermissionKeys returns the system-scoped keys in stable order.
func SystemPermissionKeys() []PermissionKey {
	out := make([]PermissionKey, len(systemPermissionKeys))
	copy(out, systemPermissionKeys)
	return out
}

// ParsePermissionKey validates a raw module-scoped permission key.
func ParsePermissionKey(raw string) (PermissionKey, error) {
	for _, k := range modulePermissionKeys {
		if string(k) == raw {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: permission %q", ErrMalformedConfig, raw)
}

// ParseSystemPermissionKey validates a raw system-scoped permission key.
func ParseSystemPermissionKey(raw string) (PermissionKey, error) {
	for _, k := range systemPermissionKeys {
		if string(k) == raw {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: system permission %q", ErrMalformedConfig, raw)
}

// SystemRole is the optional installation-wide role carried by a user.
type SystemRole string

const (
	SystemRoleNone              SystemRole = "none"
	SystemRoleUnrestrictedAdmin SystemRole = "unrestricted_admin"
)

// ParseSystemRole validates a raw system role. An empty value maps to none.
func ParseSystemRole(raw string) (SystemRole, error) {
	switch SystemRole(raw) {
	case SystemRoleNone, "":
		return SystemRoleNone, nil
	case SystemRoleUnrestrictedAdmin:
		return SystemRoleUnrestrictedAdmin, nil
	}
	return "", fmt.Errorf("%w: system role %q", ErrMalformedConfig, raw)
}

// PermissionSet is the canonical in-memory representation of a group of
// permission keys. It must never degrade to a structure without membership
// semantics; the wire form lives in codec.go.
type PermissionSet map[PermissionKey]struct{}

// NewPermissionSet builds a set from the given keys.
func NewPermissionSet(keys ...PermissionKey) PermissionSet {
	set := make(PermissionSet, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s PermissionSet) Has(key PermissionKey) bool {
	_, ok := s[key]
	return ok
}

// Add inserts a key.
func (s PermissionSet) Add(key PermissionKey) {
	s[key] = struct{}{}
}

// Keys returns the members sorted for stable output.
func (s PermissionSet) Keys() []PermissionKey {
	keys := make([]PermissionKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// RoleConfig is one assigned role with all of its grants, as loaded from the
// configuration store.
type RoleConfig struct {
	RoleID            int64
	Name              string
	ModuleGrants      map[Module]bool
	ModulePermissions map[Module]PermissionSet
	SystemPermissions PermissionSet
}

// Configured reports whether the role has any configuration rows at all.
// An unconfigured role grants nothing anywhere.
func (r RoleConfig) Configured() bool {
	return len(r.ModuleGrants) > 0 || len(r.ModulePermissions) > 0 || len(r.SystemPermissions) > 0
}

// Snapshot is the result of one batched configuration read for a
// (user, dealer) pair.
type Snapshot struct {
	UserID        int64
	DealerID      int64
	SystemRole    SystemRole
	Roles         []RoleConfig
	DealerModules map[Module]bool
}

// Assignment links a user to a role within a dealer.
type Assignment struct {
	UserID   int64
	DealerID int64
	RoleID   int64
}

// EffectiveSet is the resolved answer to "what can this user do in this
// dealer". Fields are unexported: callers hold a read-only view and can never
// mutate cached state through it.
type EffectiveSet struct {
	userID     int64
	dealerID   int64
	admin      bool
	modules    map[Module]PermissionSet
	system     PermissionSet
	resolvedAt time.Time
}

// UserID returns the subject user.
func (e *EffectiveSet) UserID() int64 { return e.userID }

// DealerID returns the dealer context.
func (e *EffectiveSet) DealerID() int64 { return e.dealerID }

// Admin reports whether the set was produced by the unrestricted-admin
// short-circuit.
func (e *EffectiveSet) Admin() bool { return e != nil && e.admin }

// ResolvedAt returns when the set was computed.
func (e *EffectiveSet) ResolvedAt() time.Time {
	if e == nil {
		return time.Time{}
	}
	return e.resolvedAt
}

// HasModule reports whether the module passed all three gates.
func (e *EffectiveSet) HasModule(m Module) bool {
	if e == nil {
		return false
	}
	if e.admin {
		return true
	}
	_, ok := e.modules[m]
	return ok
}

// HasPermission reports whether the permission is granted within the module.
func (e *EffectiveSet) HasPermission(m Module, key PermissionKey) bool {
	if e == nil {
		return false
	}
	if e.admin {
		return true
	}
	perms, ok := e.modules[m]
	if !ok {
		return false
	}
	return perms.Has(key)
}

// HasSystemPermission reports whether the system-level key is granted.
func (e *EffectiveSet) HasSystemPermission(key PermissionKey) bool {
	if e == nil {
		return false
	}
	if e.admin {
		return true
	}
	return e.system.Has(key)
}

// Modules returns the accessible modules sorted for stable output.
func (e *EffectiveSet) Modules() []Module {
	if e == nil {
		return nil
	}
	if e.admin {
		return AllModules()
	}
	mods := make([]Module, 0, len(e.modules))
	for m := range e.modules {
		mods = append(mods, m)
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i] < mods[j] })
	return mods
}

// ModulePermissions returns the granted keys for a module, sorted.
func (e *EffectiveSet) ModulePermissions(m Module) []PermissionKey {
	if e == nil {
		return nil
	}
	if e.admin {
		return ModulePermissionKeys()
	}
	perms, ok := e.modules[m]
	if !ok {
		return nil
	}
	return perms.Keys()
}

// SystemPermissions returns the granted system keys, sorted.
func (e *EffectiveSet) SystemPermissions() []PermissionKey {
	if e == nil {
		return nil
	}
	if e.admin {
		return SystemPermissionKeys()
	}
	return e.system.Keys()
}

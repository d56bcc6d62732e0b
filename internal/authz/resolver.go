package authz

import (
	"context"
	"time"
)

// Resolver computes effective permission sets from configuration snapshots.
// It holds no state beyond its store and is pure with respect to one Load.
type Resolver struct {
	store ConfigStore
	clock func() time.Time
}

// NewResolver constructs a Resolver over the given store.
func NewResolver(store ConfigStore) *Resolver {
	return &Resolver{store: store, clock: time.Now}
}

// Resolve computes the effective permission set for a (user, dealer) pair.
//
// An unrestricted admin is answered before any dealer configuration is
// consulted. A user with zero assigned roles gets the empty set; that is a
// valid outcome, not an error. A module is included only when the dealer
// gate, the role gate, and at least one permission grant all hold; absent
// enablement rows count as disabled on both sides.
func (r *Resolver) Resolve(ctx context.Context, userID, dealerID int64) (*EffectiveSet, error) {
	snap, err := r.store.Load(ctx, userID, dealerID)
	if err != nil {
		return nil, err
	}
	return r.merge(snap), nil
}

func (r *Resolver) merge(snap *Snapshot) *EffectiveSet {
	set := &EffectiveSet{
		userID:     snap.UserID,
		dealerID:   snap.DealerID,
		modules:    make(map[Module]PermissionSet),
		system:     make(PermissionSet),
		resolvedAt: r.clock().UTC(),
	}

	if snap.SystemRole == SystemRoleUnrestrictedAdmin {
		set.admin = true
		return set
	}

	for _, role := range snap.Roles {
		if !role.Configured() {
			continue
		}
		for module, enabled := range role.ModuleGrants {
			if !enabled || !snap.DealerModules[module] {
				continue
			}
			perms := role.ModulePermissions[module]
			if len(perms) == 0 {
				// Role gate open but no capability granted: nothing to expose.
				continue
			}
			if set.modules[module] == nil {
				set.modules[module] = make(PermissionSet)
			}
			for key := range perms {
				set.modules[module].Add(key)
			}
		}
		for key := range role.SystemPermissions {
			set.system.Add(key)
		}
	}

	return set
}

// GateState labels the outcome of one gate for the explanation report.
type GateState string

const (
	GatePass   GateState = "pass"
	GateFail   GateState = "fail"
	GateAbsent GateState = "absent"
	GateBypass GateState = "bypass"
)

// ModuleExplanation reports, per module, which gate produced the decision.
type ModuleExplanation struct {
	Module       Module          `json:"module"`
	Accessible   bool            `json:"accessible"`
	DealerGate   GateState       `json:"dealer_gate"`
	RoleGate     GateState       `json:"role_gate"`
	GrantingRole string          `json:"granting_role,omitempty"`
	Permissions  []PermissionKey `json:"permissions,omitempty"`
}

// Explanation is the operator-facing introspection of one resolution.
type Explanation struct {
	UserID     int64               `json:"user_id"`
	DealerID   int64               `json:"dealer_id"`
	SystemRole SystemRole          `json:"system_role"`
	Admin      bool                `json:"admin"`
	Roles      []string            `json:"roles"`
	Modules    []ModuleExplanation `json:"modules"`
	System     []PermissionKey     `json:"system_permissions"`
}

// Explain resolves a (user, dealer) pair and reports gate-by-gate outcomes
// for every known module. Multi-gate systems are opaque from the outside;
// this is the supported way for operators to see why a check denies.
func (r *Resolver) Explain(ctx context.Context, userID, dealerID int64) (*Explanation, error) {
	snap, err := r.store.Load(ctx, userID, dealerID)
	if err != nil {
		return nil, err
	}

	exp := &Explanation{
		UserID:     userID,
		DealerID:   dealerID,
		SystemRole: snap.SystemRole,
		Roles:      make([]string, 0, len(snap.Roles)),
	}
	for _, role := range snap.Roles {
		exp.Roles = append(exp.Roles, role.Name)
	}

	if snap.SystemRole == SystemRoleUnrestrictedAdmin {
		exp.Admin = true
		for _, module := range AllModules() {
			exp.Modules = append(exp.Modules, ModuleExplanation{
				Module:      module,
				Accessible:  true,
				DealerGate:  GateBypass,
				RoleGate:    GateBypass,
				Permissions: ModulePermissionKeys(),
			})
		}
		exp.System = SystemPermissionKeys()
		return exp, nil
	}

	set := r.merge(snap)
	exp.System = set.SystemPermissions()

	for _, module := range AllModules() {
		me := ModuleExplanation{Module: module}

		enabled, present := snap.DealerModules[module]
		switch {
		case !present:
			me.DealerGate = GateAbsent
		case enabled:
			me.DealerGate = GatePass
		default:
			me.DealerGate = GateFail
		}

		me.RoleGate = GateAbsent
		for _, role := range snap.Roles {
			if !role.Configured() {
				continue
			}
			granted, ok := role.ModuleGrants[module]
			if !ok {
				continue
			}
			if granted {
				me.RoleGate = GatePass
				me.GrantingRole = role.Name
				break
			}
			me.RoleGate = GateFail
		}

		me.Accessible = set.HasModule(module)
		if me.Accessible {
			me.Permissions = set.ModulePermissions(module)
		}
		exp.Modules = append(exp.Modules, me)
	}

	return exp, nil
}

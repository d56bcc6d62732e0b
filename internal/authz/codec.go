package authz

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireSet is the canonical serialized form of an EffectiveSet. Sets travel as
// sorted string slices; DecodeSet rebuilds real membership-test structures and
// validates every key, so a round trip can never silently degrade the
// in-memory representation.
type wireSet struct {
	V          int                 `json:"v"`
	UserID     int64               `json:"user_id"`
	DealerID   int64               `json:"dealer_id"`
	Admin      bool                `json:"admin"`
	Modules    map[string][]string `json:"modules"`
	System     []string            `json:"system"`
	ResolvedAt time.Time           `json:"resolved_at"`
}

const wireVersion = 1

// EncodeSet serializes an effective set to its wire form.
func EncodeSet(set *EffectiveSet) ([]byte, error) {
	if set == nil {
		return nil, fmt.Errorf("%w: nil set", ErrCacheCorrupt)
	}
	w := wireSet{
		V:          wireVersion,
		UserID:     set.userID,
		DealerID:   set.dealerID,
		Admin:      set.admin,
		Modules:    make(map[string][]string, len(set.modules)),
		System:     make([]string, 0, len(set.system)),
		ResolvedAt: set.resolvedAt,
	}
	for module, perms := range set.modules {
		keys := perms.Keys()
		raw := make([]string, len(keys))
		for i, k := range keys {
			raw[i] = string(k)
		}
		w.Modules[string(module)] = raw
	}
	for _, k := range set.system.Keys() {
		w.System = append(w.System, string(k))
	}
	return json.Marshal(w)
}

// DecodeSet rebuilds an effective set from its wire form, rejecting unknown
// keys and malformed shapes as cache corruption.
func DecodeSet(data []byte) (*EffectiveSet, error) {
	var w wireSet
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	if w.V != wireVersion {
		return nil, fmt.Errorf("%w: wire version %d", ErrCacheCorrupt, w.V)
	}
	if w.UserID <= 0 || w.DealerID <= 0 {
		return nil, fmt.Errorf("%w: missing identity", ErrCacheCorrupt)
	}

	set := &EffectiveSet{
		userID:     w.UserID,
		dealerID:   w.DealerID,
		admin:      w.Admin,
		modules:    make(map[Module]PermissionSet, len(w.Modules)),
		system:     make(PermissionSet, len(w.System)),
		resolvedAt: w.ResolvedAt,
	}
	for rawModule, rawKeys := range w.Modules {
		module, err := ParseModule(rawModule)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
		}
		perms := make(PermissionSet, len(rawKeys))
		for _, rawKey := range rawKeys {
			key, err := ParsePermissionKey(rawKey)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
			}
			perms.Add(key)
		}
		set.modules[module] = perms
	}
	for _, rawKey := range w.System {
		key, err := ParseSystemPermissionKey(rawKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
		}
		set.system.Add(key)
	}
	return set, nil
}

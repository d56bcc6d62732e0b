package authz

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func salesSnapshot(userID, dealerID int64) *Snapshot {
	return &Snapshot{
		UserID:     userID,
		DealerID:   dealerID,
		SystemRole: SystemRoleNone,
		Roles: []RoleConfig{{
			RoleID:            1,
			Name:              "Sales Rep",
			ModuleGrants:      map[Module]bool{ModuleSalesOrders: true},
			ModulePermissions: map[Module]PermissionSet{ModuleSalesOrders: NewPermissionSet(PermViewRecord)},
		}},
		DealerModules: map[Module]bool{ModuleSalesOrders: true},
	}
}

func newTestCache(store *mockStore, rdb *redis.Client, ttl time.Duration) *Cache {
	return NewCache(NewResolver(store), store, rdb, ttl, slog.Default(), nil)
}

func TestGetOrResolveCoalescesConcurrentMisses(t *testing.T) {
	store := newMockStore()
	store.put(salesSnapshot(7, 3))
	store.loadGate = make(chan struct{})
	cache := newTestCache(store, nil, 0)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*EffectiveSet, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.GetOrResolve(context.Background(), 7, 3)
		}(i)
	}

	// Wait for the single flight to reach the store, then release it.
	require.Eventually(t, func() bool { return store.loadCount() >= 1 }, time.Second, time.Millisecond)
	close(store.loadGate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.True(t, results[i].HasModule(ModuleSalesOrders))
	}
	assert.Equal(t, 1, store.loadCount())
}

func TestGetOrResolveServesFromCache(t *testing.T) {
	store := newMockStore()
	store.put(salesSnapshot(7, 3))
	cache := newTestCache(store, nil, 0)

	_, err := cache.GetOrResolve(context.Background(), 7, 3)
	require.NoError(t, err)
	_, err = cache.GetOrResolve(context.Background(), 7, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, store.loadCount())

	// Different pair is a different key.
	store.put(salesSnapshot(8, 3))
	_, err = cache.GetOrResolve(context.Background(), 8, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, store.loadCount())
}

func TestInvalidateDuringResolutionKeepsStaleSetOut(t *testing.T) {
	store := newMockStore()
	store.put(salesSnapshot(7, 3))
	store.loadGate = make(chan struct{})
	cache := newTestCache(store, nil, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = cache.GetOrResolve(context.Background(), 7, 3)
	}()
	require.Eventually(t, func() bool { return store.loadCount() == 1 }, time.Second, time.Millisecond)

	// The edit arrives while the read is in flight.
	cache.Invalidate(context.Background(), 7, 3)
	close(store.loadGate)
	<-done

	// The pre-edit result must not have landed.
	_, ok := cache.Get(7, 3)
	assert.False(t, ok)

	_, err := cache.GetOrResolve(context.Background(), 7, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, store.loadCount())
}

func TestAbandonedCallerDoesNotFailCoalescedResolution(t *testing.T) {
	store := newMockStore()
	store.put(salesSnapshot(7, 3))
	store.loadGate = make(chan struct{})
	cache := newTestCache(store, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := cache.GetOrResolve(ctx, 7, 3)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return store.loadCount() == 1 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	// The detached resolution still completes and fills the cache.
	close(store.loadGate)
	require.Eventually(t, func() bool {
		_, ok := cache.Get(7, 3)
		return ok
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, store.loadCount())
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	store := newMockStore()
	store.put(salesSnapshot(7, 3))
	cache := newTestCache(store, nil, 20*time.Millisecond)

	_, err := cache.GetOrResolve(context.Background(), 7, 3)
	require.NoError(t, err)
	_, ok := cache.Get(7, 3)
	assert.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = cache.Get(7, 3)
	assert.False(t, ok)

	_, err = cache.GetOrResolve(context.Background(), 7, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, store.loadCount())
}

func TestInvalidateRoleFansOutToAssignedUsers(t *testing.T) {
	store := newMockStore()
	store.put(salesSnapshot(7, 3))
	store.put(salesSnapshot(8, 3))
	store.put(salesSnapshot(9, 3))
	store.assignments = []Assignment{
		{UserID: 7, DealerID: 3, RoleID: 41},
		{UserID: 8, DealerID: 3, RoleID: 41},
		{UserID: 9, DealerID: 3, RoleID: 52},
	}
	cache := newTestCache(store, nil, 0)

	ctx := context.Background()
	for _, userID := range []int64{7, 8, 9} {
		_, err := cache.GetOrResolve(ctx, userID, 3)
		require.NoError(t, err)
	}

	require.NoError(t, cache.InvalidateRole(ctx, 41))

	_, ok := cache.Get(7, 3)
	assert.False(t, ok)
	_, ok = cache.Get(8, 3)
	assert.False(t, ok)
	// Users outside the role keep their entries.
	_, ok = cache.Get(9, 3)
	assert.True(t, ok)
}

func TestInvalidateRoleFallsBackToFullFlush(t *testing.T) {
	store := newMockStore()
	store.put(salesSnapshot(7, 3))
	store.put(salesSnapshot(9, 5))
	cache := newTestCache(store, nil, 0)

	ctx := context.Background()
	_, err := cache.GetOrResolve(ctx, 7, 3)
	require.NoError(t, err)
	_, err = cache.GetOrResolve(ctx, 9, 5)
	require.NoError(t, err)

	store.mu.Lock()
	store.usersErr = errors.New("assignments unavailable")
	store.mu.Unlock()

	require.Error(t, cache.InvalidateRole(ctx, 41))

	// Unable to target: everything goes.
	_, ok := cache.Get(7, 3)
	assert.False(t, ok)
	_, ok = cache.Get(9, 5)
	assert.False(t, ok)
}

// ============================================================================
// LEVEL TWO
// ============================================================================

func TestLevelTwoSharesResolutionsAcrossProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newMockStore()
	store.put(salesSnapshot(7, 3))

	first := newTestCache(store, rdb, 0)
	_, err := first.GetOrResolve(context.Background(), 7, 3)
	require.NoError(t, err)
	require.Equal(t, 1, store.loadCount())

	// A second process finds the wire form instead of hitting the store.
	second := newTestCache(store, rdb, 0)
	set, err := second.GetOrResolve(context.Background(), 7, 3)
	require.NoError(t, err)
	assert.True(t, set.HasModule(ModuleSalesOrders))
	assert.Equal(t, 1, store.loadCount())
}

func TestLevelTwoCorruptEntryDroppedAndReplaced(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newMockStore()
	store.put(salesSnapshot(7, 3))
	cache := newTestCache(store, rdb, 0)

	require.NoError(t, mr.Set(redisKey(7, 3), `{"v":1,"modules":{"inventory":["reboot_reactor"]}}`))

	set, err := cache.GetOrResolve(context.Background(), 7, 3)
	require.NoError(t, err)
	assert.True(t, set.HasModule(ModuleSalesOrders))
	assert.Equal(t, 1, store.loadCount())

	// The corrupt entry was replaced by a decodable one.
	data, err := rdb.Get(context.Background(), redisKey(7, 3)).Bytes()
	require.NoError(t, err)
	decoded, err := DecodeSet(data)
	require.NoError(t, err)
	assert.True(t, decoded.HasModule(ModuleSalesOrders))
}

func TestInvalidateClearsLevelTwo(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newMockStore()
	store.put(salesSnapshot(7, 3))
	cache := newTestCache(store, rdb, 0)

	ctx := context.Background()
	_, err := cache.GetOrResolve(ctx, 7, 3)
	require.NoError(t, err)
	require.True(t, mr.Exists(redisKey(7, 3)))

	cache.Invalidate(ctx, 7, 3)
	assert.False(t, mr.Exists(redisKey(7, 3)))
}

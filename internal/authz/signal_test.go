package authz

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAppliesLocallyBeforeBroadcast(t *testing.T) {
	store := newMockStore()
	store.put(salesSnapshot(7, 3))
	cache := newTestCache(store, nil, 0)
	bus := NewBus(cache, nil, "", slog.Default())

	ctx := context.Background()
	_, err := cache.GetOrResolve(ctx, 7, 3)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, UserEvent(7, 3)))

	// The local cache dropped the entry synchronously, with no broker at all.
	_, ok := cache.Get(7, 3)
	assert.False(t, ok)
}

func TestPublishRoleEventFansOut(t *testing.T) {
	store := newMockStore()
	store.put(salesSnapshot(7, 3))
	store.put(salesSnapshot(8, 3))
	store.assignments = []Assignment{
		{UserID: 7, DealerID: 3, RoleID: 41},
		{UserID: 8, DealerID: 3, RoleID: 41},
	}
	cache := newTestCache(store, nil, 0)
	bus := NewBus(cache, nil, "", slog.Default())

	ctx := context.Background()
	_, err := cache.GetOrResolve(ctx, 7, 3)
	require.NoError(t, err)
	_, err = cache.GetOrResolve(ctx, 8, 3)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, RoleEvent(41)))

	_, ok := cache.Get(7, 3)
	assert.False(t, ok)
	_, ok = cache.Get(8, 3)
	assert.False(t, ok)
}

func TestSubscribeAppliesRemoteEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdbA.Close()
		_ = rdbB.Close()
	})

	store := newMockStore()
	store.put(salesSnapshot(7, 3))

	// Two processes sharing a broker; each keeps its own in-memory level.
	cacheA := NewCache(NewResolver(store), store, nil, 0, slog.Default(), nil)
	cacheB := NewCache(NewResolver(store), store, nil, 0, slog.Default(), nil)
	busA := NewBus(cacheA, rdbA, "", slog.Default())
	busB := NewBus(cacheB, rdbB, "", slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go busB.Subscribe(ctx)

	// Give the subscriber time to attach before publishing.
	require.Eventually(t, func() bool {
		n, err := rdbA.PubSubNumSub(ctx, DefaultInvalidationChannel).Result()
		return err == nil && n[DefaultInvalidationChannel] > 0
	}, time.Second, 5*time.Millisecond)

	_, err := cacheB.GetOrResolve(ctx, 7, 3)
	require.NoError(t, err)

	require.NoError(t, busA.Publish(ctx, UserEvent(7, 3)))

	require.Eventually(t, func() bool {
		_, ok := cacheB.Get(7, 3)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

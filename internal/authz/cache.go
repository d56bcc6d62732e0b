package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL bounds staleness as a safety net. The invalidation bus is
// the primary consistency mechanism; the TTL only covers missed signals.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	set     *EffectiveSet
	expires time.Time
}

// versionStamp captures the invalidation state of a key at the moment a
// resolution starts. The epoch covers whole-cache flushes, the key counter
// targeted invalidations.
type versionStamp struct {
	epoch uint64
	key   uint64
}

// Cache holds resolved effective permission sets per (user, dealer) pair.
//
// Concurrent misses for one key coalesce into a single batched read via
// singleflight. Each key carries a version counter bumped on invalidation; a
// resolution may only land in the cache if no invalidation arrived after it
// started, so an edit is never overwritten by a stale in-flight result.
//
// When a Redis client is supplied the wire form of each set is kept as a
// second level shared across processes. Entries there that fail the decode
// shape check are deleted and treated as misses.
type Cache struct {
	resolver *Resolver
	store    ConfigStore
	rdb      *redis.Client
	ttl      time.Duration
	logger   *slog.Logger
	metrics  *Metrics

	mu       sync.Mutex
	entries  map[string]cacheEntry
	versions map[string]uint64
	inflight map[string]struct{}
	epoch    uint64
	group    singleflight.Group
}

// NewCache constructs a Cache. rdb and metrics may be nil.
func NewCache(resolver *Resolver, store ConfigStore, rdb *redis.Client, ttl time.Duration, logger *slog.Logger, metrics *Metrics) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		resolver: resolver,
		store:    store,
		rdb:      rdb,
		ttl:      ttl,
		logger:   logger,
		metrics:  metrics,
		entries:  make(map[string]cacheEntry),
		versions: make(map[string]uint64),
		inflight: make(map[string]struct{}),
	}
}

func cacheKey(userID, dealerID int64) string {
	return fmt.Sprintf("%d:%d", dealerID, userID)
}

func redisKey(userID, dealerID int64) string {
	return fmt.Sprintf("authz:eps:%d:%d", dealerID, userID)
}

// Get returns the cached set for the pair, if present and fresh.
func (c *Cache) Get(userID, dealerID int64) (*EffectiveSet, bool) {
	return c.lookup(cacheKey(userID, dealerID))
}

func (c *Cache) lookup(key string) (*EffectiveSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.set, true
}

// Put stores a set for the pair with the given TTL. The entry lands under the
// key's current version; a later invalidation removes it as usual.
func (c *Cache) Put(userID, dealerID int64, set *EffectiveSet, ttl time.Duration) {
	if set == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	key := cacheKey(userID, dealerID)
	c.mu.Lock()
	c.entries[key] = cacheEntry{set: set, expires: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// GetOrResolve returns the effective set for the pair, resolving on miss.
// N concurrent misses for one key trigger exactly one batched read. The
// underlying resolution is detached from the caller's context so an abandoned
// request still completes for the benefit of coalesced waiters; only the
// abandoning caller sees its context error.
func (c *Cache) GetOrResolve(ctx context.Context, userID, dealerID int64) (*EffectiveSet, error) {
	key := cacheKey(userID, dealerID)
	if set, ok := c.lookup(key); ok {
		c.metrics.hit()
		return set, nil
	}
	c.metrics.miss()

	detached := context.WithoutCancel(ctx)
	c.mu.Lock()
	c.inflight[key] = struct{}{}
	c.mu.Unlock()
	ch := c.group.DoChan(key, func() (any, error) {
		defer func() {
			c.mu.Lock()
			delete(c.inflight, key)
			c.mu.Unlock()
		}()
		return c.resolveAndFill(detached, key, userID, dealerID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*EffectiveSet), nil
	}
}

func (c *Cache) resolveAndFill(ctx context.Context, key string, userID, dealerID int64) (*EffectiveSet, error) {
	stamp := c.currentVersion(key)

	if set := c.levelTwoGet(ctx, userID, dealerID); set != nil {
		c.storeEntry(key, set, stamp)
		return set, nil
	}

	start := time.Now()
	set, err := c.resolver.Resolve(ctx, userID, dealerID)
	c.metrics.observeResolve(time.Since(start))
	if err != nil {
		return nil, err
	}
	if c.storeEntry(key, set, stamp) {
		c.levelTwoPut(ctx, userID, dealerID, set)
	}
	return set, nil
}

func (c *Cache) currentVersion(key string) versionStamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return versionStamp{epoch: c.epoch, key: c.versions[key]}
}

// storeEntry lands a resolution unless the key was invalidated after the
// resolution started. Returns whether the entry was accepted.
func (c *Cache) storeEntry(key string, set *EffectiveSet, stamp versionStamp) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != stamp.epoch || c.versions[key] != stamp.key {
		return false
	}
	c.entries[key] = cacheEntry{set: set, expires: time.Now().Add(c.ttl)}
	return true
}

func (c *Cache) levelTwoGet(ctx context.Context, userID, dealerID int64) *EffectiveSet {
	if c.rdb == nil {
		return nil
	}
	key := redisKey(userID, dealerID)
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("authz cache level-two read", slog.Int64("user_id", userID), slog.Int64("dealer_id", dealerID), slog.Any("error", err))
		}
		return nil
	}
	set, err := DecodeSet(data)
	if err != nil || set.UserID() != userID || set.DealerID() != dealerID {
		if err == nil {
			err = fmt.Errorf("%w: key/identity mismatch", ErrCacheCorrupt)
		}
		c.logger.Error("authz cache entry dropped", slog.Int64("user_id", userID), slog.Int64("dealer_id", dealerID), slog.String("kind", errorKind(err)))
		if delErr := c.rdb.Del(ctx, key).Err(); delErr != nil {
			c.logger.Warn("authz cache level-two delete", slog.Any("error", delErr))
		}
		return nil
	}
	return set
}

func (c *Cache) levelTwoPut(ctx context.Context, userID, dealerID int64, set *EffectiveSet) {
	if c.rdb == nil {
		return
	}
	data, err := EncodeSet(set)
	if err != nil {
		c.logger.Error("authz cache encode", slog.Any("error", err))
		return
	}
	if err := c.rdb.Set(ctx, redisKey(userID, dealerID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("authz cache level-two write", slog.Int64("user_id", userID), slog.Int64("dealer_id", dealerID), slog.Any("error", err))
	}
}

// Invalidate drops the entry for one (user, dealer) pair and bumps its
// version so any in-flight resolution for the pair cannot land.
func (c *Cache) Invalidate(ctx context.Context, userID, dealerID int64) {
	key := cacheKey(userID, dealerID)
	c.mu.Lock()
	c.versions[key]++
	delete(c.entries, key)
	c.mu.Unlock()
	// Later arrivals must start a fresh resolution instead of joining a
	// flight that began before the edit.
	c.group.Forget(key)

	if c.rdb != nil {
		if err := c.rdb.Del(ctx, redisKey(userID, dealerID)).Err(); err != nil {
			c.logger.Warn("authz cache level-two invalidate", slog.Int64("user_id", userID), slog.Int64("dealer_id", dealerID), slog.Any("error", err))
		}
	}
}

// InvalidateRole fans a role-scoped invalidation out to every user currently
// assigned the role. If the assignment list cannot be read the whole cache is
// dropped instead; over-invalidation is the only safe fallback.
func (c *Cache) InvalidateRole(ctx context.Context, roleID int64) error {
	assignments, err := c.store.UsersForRole(ctx, roleID)
	if err != nil {
		c.invalidateAll(ctx)
		return err
	}
	for _, a := range assignments {
		c.Invalidate(ctx, a.UserID, a.DealerID)
	}
	return nil
}

func (c *Cache) invalidateAll(ctx context.Context) {
	c.mu.Lock()
	c.epoch++
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	pending := make([]string, 0, len(c.inflight))
	for key := range c.inflight {
		pending = append(pending, key)
	}
	c.entries = make(map[string]cacheEntry)
	c.versions = make(map[string]uint64)
	c.mu.Unlock()

	for _, key := range pending {
		c.group.Forget(key)
	}

	if c.rdb != nil && len(keys) > 0 {
		redisKeys := make([]string, len(keys))
		for i, key := range keys {
			redisKeys[i] = "authz:eps:" + key
		}
		if err := c.rdb.Del(ctx, redisKeys...).Err(); err != nil {
			c.logger.Warn("authz cache flush", slog.Any("error", err))
		}
	}
}

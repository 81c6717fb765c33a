// Package feedcache is a two-tier query cache for social feed data: a fast
// in-process tier keyed by structured query identifiers, and an optional
// shared key-value tier keyed by flat strings. The tiers are kept
// approximately consistent through write-through, stale-while-revalidate
// refresh and two-tier invalidation; when they disagree, the local tier
// wins, because it is the only tier that reflects this process's own
// writes.
package feedcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrRemoteInvalidation marks an invalidation whose local half completed
// while one or more remote deletes failed. Callers may retry the call, or
// let the remote TTL bound the staleness.
var ErrRemoteInvalidation = errors.New("remote invalidation incomplete")

const (
	asyncWriteTimeout = 30 * time.Second
	warmupTimeout     = 5 * time.Minute
)

// Cache coordinates the local and remote tiers for typed loads, optimistic
// writes and invalidation. Create one per process with New and share it;
// all methods are safe for concurrent use.
type Cache struct {
	local    *localCache
	remote   *remoteTier // nil when no remote store is configured
	shapes   *ShapeTable
	policies *PolicyTable
	refresh  *inflight
	stats    *stats

	stop      chan struct{}
	closeOnce sync.Once
	bg        sync.WaitGroup
}

// New creates a cache. With no options it is a local-only cache with the
// default shapes and policies.
//
//	store, err := valkey.New(ctx, "feedcache", "localhost:6379")
//	if err != nil { ... }
//	cache, err := feedcache.New(feedcache.WithRemote(store))
//	if err != nil { ... }
//	defer cache.Close()
//
//	key := feedcache.NewKey("stories", "feeds").With("limit", 50)
//	feed, err := feedcache.Load(ctx, cache, key, fetchStoryFeed)
func New(opts ...Option) (*Cache, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.capacity <= 0 {
		return nil, errors.New("local capacity must be positive")
	}

	shapes := cfg.shapes
	if shapes == nil {
		shapes = DefaultShapes()
	}
	policies := cfg.policies
	if policies == nil {
		policies = DefaultPolicies()
	}

	c := &Cache{
		shapes:   shapes,
		policies: policies,
		refresh:  newInflight(),
		stats:    &stats{},
		stop:     make(chan struct{}),
	}
	c.local = newLocalCache(cfg.capacity, c.stats)
	if cfg.store != nil {
		c.remote = newRemoteTier(cfg.store, shapes, policies, cfg.comp, cfg.breaker, c.stats)
	}

	if cfg.sweepInterval > 0 {
		c.bg.Add(1)
		go c.sweepLoop(cfg.sweepInterval)
	}

	if cfg.warmup > 0 && c.remote != nil && c.remote.scanner != nil {
		c.bg.Add(1)
		//nolint:contextcheck // Warmup is detached on purpose; it outlives New.
		go func() {
			defer c.bg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), warmupTimeout)
			defer cancel()
			c.warmup(ctx, cfg.warmup)
		}()
	}

	return c, nil
}

// Load returns the value for key, consulting tiers in order. A fresh local
// hit returns immediately. A stale local hit returns the stale value and
// triggers at most one background refresh for the key. A local miss falls
// back to the remote tier and backfills locally. A miss in both tiers
// invokes fetch and writes the result through both tiers. A fetch error is
// returned verbatim with no cache writes.
func Load[V any](ctx context.Context, c *Cache, key Key, fetch func(context.Context) (V, error)) (V, error) {
	var zero V
	if key.IsZero() {
		return zero, errors.New("empty key")
	}
	canon := key.String()

	if v, stale, ok := c.local.get(canon); ok {
		if typed, tok := materialize[V](c, canon, v); tok {
			if stale {
				c.stats.staleHits.Add(1)
				scheduleRefresh(c, key, canon, fetch)
			} else {
				c.stats.localHits.Add(1)
			}
			return typed, nil
		}
		slog.Debug("local entry type mismatch", "key", canon)
	}
	c.stats.localMisses.Add(1)

	if c.remote != nil {
		if payload, ok := c.remote.get(ctx, key); ok {
			var v V
			if err := json.Unmarshal(payload, &v); err != nil {
				slog.Warn("remote payload decode failed", "key", canon, "error", err)
			} else {
				staleAt, expireAt := c.policies.Resolve(key).horizons(time.Now())
				c.local.set(key, v, staleAt, expireAt)
				return v, nil
			}
		}
	}

	c.stats.fetches.Add(1)
	v, err := fetch(ctx)
	if err != nil {
		c.stats.fetchErrors.Add(1)
		return zero, err
	}
	storeThrough(c, key, v)
	return v, nil
}

// Peek returns the locally cached value without touching the remote tier
// or the source. Stale values are returned; expired ones are not.
func Peek[V any](c *Cache, key Key) (V, bool) {
	var zero V
	if key.IsZero() {
		return zero, false
	}
	canon := key.String()
	v, _, ok := c.local.get(canon)
	if !ok {
		return zero, false
	}
	return materialize[V](c, canon, v)
}

// Set writes an optimistic update: the local tier synchronously, the
// remote tier in the background, bypassing the source entirely. Use it to
// reflect a user's own action (a like, a new comment) before the backend
// confirms.
func Set[V any](c *Cache, key Key, value V) error {
	if key.IsZero() {
		return errors.New("empty key")
	}
	storeThrough(c, key, value)
	return nil
}

// Invalidate removes the exact entry and every entry beneath the
// structured prefix from both tiers. The local tier is cleared
// synchronously before any remote call, so the caller never re-reads a
// value it just invalidated. A remote failure is returned wrapped in
// ErrRemoteInvalidation; local removal has already happened by then.
func (c *Cache) Invalidate(ctx context.Context, prefix Key) error {
	if prefix.IsZero() {
		return errors.New("empty key")
	}
	if n := c.local.invalidate(prefix); n > 0 {
		c.stats.invalidations.Add(uint64(n))
	}
	if c.remote == nil {
		return nil
	}
	if err := c.remote.invalidate(ctx, prefix); err != nil {
		slog.Warn("remote invalidation incomplete", "prefix", prefix.String(), "error", err)
		return fmt.Errorf("%w: %w", ErrRemoteInvalidation, err)
	}
	return nil
}

// Subscribe registers an active consumer of a key, such as a feed screen
// currently on display. Observed entries are passed over by capacity
// eviction and retained past hard expiry, though expired entries still
// read as misses. The entry need not exist yet. The returned release
// function is idempotent.
func (c *Cache) Subscribe(key Key) (release func()) {
	if key.IsZero() {
		return func() {}
	}
	canon := key.String()
	c.local.retain(canon)
	var once sync.Once
	return func() {
		once.Do(func() { c.local.release(canon) })
	}
}

// Sweep removes hard-expired unobserved entries from the local tier
// immediately and returns the number removed. The background sweeper does
// this on its own; Sweep exists for tests and memory-pressure callbacks.
func (c *Cache) Sweep() int {
	return c.local.sweep()
}

// Len returns the number of entries in the local tier, including expired
// entries not yet swept.
func (c *Cache) Len() int {
	return c.local.len()
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() Stats {
	return c.stats.snapshot(c.local.len())
}

// Flush removes every entry from both tiers and returns the total number
// removed. The remote flush clears entries for every process sharing the
// store.
func (c *Cache) Flush(ctx context.Context) (int, error) {
	n := c.local.flush()
	if c.remote == nil {
		return n, nil
	}
	removed, err := c.remote.flush(ctx)
	n += removed
	if err != nil {
		return n, fmt.Errorf("remote flush: %w", err)
	}
	return n, nil
}

// Close stops the background sweep, waits for in-flight background writes
// and refreshes, and closes the remote store.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })
	c.bg.Wait()
	if c.remote != nil {
		return c.remote.close()
	}
	return nil
}

func (c *Cache) sweepLoop(interval time.Duration) {
	defer c.bg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			if n := c.local.sweep(); n > 0 {
				slog.Debug("swept expired cache entries", "removed", n)
			}
		}
	}
}

// warmup backfills the local tier from the remote tier, best-effort.
// Payloads are stored raw and decoded to their concrete type on first
// typed read.
func (c *Cache) warmup(ctx context.Context, limit int) {
	loaded := 0
	for _, domain := range c.shapes.Domains() {
		if loaded >= limit {
			break
		}
		keys, err := c.remote.scanner.ScanPrefix(ctx, domain+":")
		if err != nil {
			slog.Warn("cache warmup scan failed", "domain", domain, "error", err)
			continue
		}
		for _, flat := range keys {
			if loaded >= limit {
				break
			}
			key := c.shapes.Parse(flat)
			if round, ok := c.shapes.Flat(key); !ok || round != flat {
				continue // not one of ours
			}
			payload, ok := c.remote.get(ctx, key)
			if !ok {
				continue
			}
			staleAt, expireAt := c.policies.Resolve(key).horizons(time.Now())
			c.local.set(key, rawPayload(payload), staleAt, expireAt)
			loaded++
		}
	}
	if loaded > 0 {
		slog.Info("cache warmup complete", "entries", loaded)
	}
}

// rawPayload is an undecoded remote payload sitting in the local tier.
// The named type keeps it distinct from caller values of type []byte.
type rawPayload []byte

// materialize converts a stored local value to V: either it already is
// one, or it is a raw warmup payload that decodes to one, in which case
// the entry is upgraded in place.
func materialize[V any](c *Cache, canon string, v any) (V, bool) {
	if typed, ok := v.(V); ok {
		return typed, true
	}
	if raw, ok := v.(rawPayload); ok {
		var typed V
		if err := json.Unmarshal(raw, &typed); err == nil {
			c.local.upgrade(canon, typed)
			return typed, true
		}
	}
	var zero V
	return zero, false
}

// storeThrough writes the value to the local tier synchronously and to the
// remote tier in the background.
func storeThrough[V any](c *Cache, key Key, value V) {
	staleAt, expireAt := c.policies.Resolve(key).horizons(time.Now())
	c.local.set(key, value, staleAt, expireAt)
	if c.remote == nil {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		slog.Warn("remote cache marshal failed", "key", key.String(), "error", err)
		return
	}
	c.writeRemoteAsync(key, payload)
}

// writeRemoteAsync persists a payload without blocking the caller. The
// write uses a detached context so it completes even when the triggering
// request is canceled.
func (c *Cache) writeRemoteAsync(key Key, payload []byte) {
	c.bg.Add(1)
	//nolint:contextcheck // Detached on purpose; see above.
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
		defer cancel()
		c.remote.set(ctx, key, payload)
	}()
}

// scheduleRefresh starts one background refresh for a stale key. The
// remote tier is consulted first, since another device may have refreshed
// the value already; only then is the source fetched. At most one refresh
// per key runs at a time.
func scheduleRefresh[V any](c *Cache, key Key, canon string, fetch func(context.Context) (V, error)) {
	if !c.refresh.begin(canon) {
		return
	}
	c.stats.refreshes.Add(1)
	c.bg.Add(1)
	//nolint:contextcheck // Refresh outlives the request that triggered it.
	go func() {
		defer c.bg.Done()
		defer c.refresh.end(canon)
		ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
		defer cancel()

		if c.remote != nil {
			if payload, ok := c.remote.get(ctx, key); ok {
				var v V
				if err := json.Unmarshal(payload, &v); err == nil {
					staleAt, expireAt := c.policies.Resolve(key).horizons(time.Now())
					c.local.set(key, v, staleAt, expireAt)
					return
				}
			}
		}

		c.stats.fetches.Add(1)
		v, err := fetch(ctx)
		if err != nil {
			c.stats.fetchErrors.Add(1)
			slog.Warn("background refresh failed", "key", canon, "error", err)
			return
		}
		staleAt, expireAt := c.policies.Resolve(key).horizons(time.Now())
		c.local.set(key, v, staleAt, expireAt)
		if c.remote == nil {
			return
		}
		payload, err := json.Marshal(v)
		if err != nil {
			slog.Warn("remote cache marshal failed", "key", canon, "error", err)
			return
		}
		c.remote.set(ctx, key, payload)
	}()
}

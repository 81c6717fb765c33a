package feedcache

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/feedcache/pkg/kv/memory"
)

type feed struct {
	Stories []string `json:"stories"`
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func quickPolicies(t *testing.T, stale, expire time.Duration) *PolicyTable {
	t.Helper()
	tbl, err := NewPolicyTable(Policy{StaleFor: stale, ExpireAfter: expire}, nil)
	if err != nil {
		t.Fatalf("NewPolicyTable: %v", err)
	}
	return tbl
}

// failFetch fails the test if the cache ever reaches the source.
func failFetch(t *testing.T) func(context.Context) (feed, error) {
	return func(context.Context) (feed, error) {
		t.Error("fetch called; value should have come from a cache tier")
		return feed{}, errors.New("unexpected fetch")
	}
}

func TestLoadColdMissFetchesAndWritesThrough(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cache, err := New(WithRemote(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	key := NewKey("stories", "feeds").With("limit", 50)
	want := feed{Stories: []string{"s1", "s2"}}
	var calls atomic.Int64

	got, err := Load(ctx, cache, key, func(context.Context) (feed, error) {
		calls.Add(1)
		return want, nil
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !slices.Equal(got.Stories, want.Stories) {
		t.Errorf("Load = %+v; want %+v", got, want)
	}
	if calls.Load() != 1 {
		t.Errorf("fetch calls = %d; want 1", calls.Load())
	}

	if v, ok := Peek[feed](cache, key); !ok || !slices.Equal(v.Stories, want.Stories) {
		t.Errorf("Peek = %+v, %v; want local hit", v, ok)
	}
	waitFor(t, func() bool {
		_, ok, _ := store.Get(ctx, "stories:feed:50")
		return ok
	}, "remote tier never saw the write-through")
}

func TestLoadFreshHitSkipsFetch(t *testing.T) {
	ctx := context.Background()
	cache, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	key := NewKey("stories", "feeds").With("limit", 50)
	var calls atomic.Int64
	fetch := func(context.Context) (feed, error) {
		calls.Add(1)
		return feed{Stories: []string{"s1"}}, nil
	}

	if _, err := Load(ctx, cache, key, fetch); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := Load(ctx, cache, key, fetch); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("fetch calls = %d; want 1", calls.Load())
	}

	st := cache.Stats()
	if st.LocalHits != 1 || st.LocalMisses != 1 || st.Fetches != 1 {
		t.Errorf("stats = %+v; want 1 hit, 1 miss, 1 fetch", st)
	}
}

func TestLoadBackfillsFromRemote(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	c1, err := New(WithRemote(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	key := NewKey("stories", "feeds").With("limit", 50)
	want := feed{Stories: []string{"shared"}}
	if _, err := Load(ctx, c1, key, func(context.Context) (feed, error) { return want, nil }); err != nil {
		t.Fatalf("Load: %v", err)
	}
	waitFor(t, func() bool {
		_, ok, _ := store.Get(ctx, "stories:feed:50")
		return ok
	}, "remote write never landed")

	// A second process sharing the remote tier starts cold locally.
	c2, err := New(WithRemote(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := Load(ctx, c2, key, failFetch(t))
	if err != nil {
		t.Fatalf("Load via remote: %v", err)
	}
	if !slices.Equal(got.Stories, want.Stories) {
		t.Errorf("Load = %+v; want %+v", got, want)
	}
	if st := c2.Stats(); st.RemoteHits != 1 {
		t.Errorf("RemoteHits = %d; want 1", st.RemoteHits)
	}
	if _, ok := Peek[feed](c2, key); !ok {
		t.Error("remote hit was not backfilled locally")
	}

	c2.Close()
	c1.Close()
}

func TestLoadStaleServesOldThenRefreshes(t *testing.T) {
	ctx := context.Background()
	cache, err := New(WithPolicies(quickPolicies(t, 30*time.Millisecond, time.Hour)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	key := NewKey("stories", "feeds").With("limit", 50)
	var calls atomic.Int64
	fetch := func(context.Context) (feed, error) {
		if calls.Add(1) == 1 {
			return feed{Stories: []string{"old"}}, nil
		}
		return feed{Stories: []string{"new"}}, nil
	}

	if _, err := Load(ctx, cache, key, fetch); err != nil {
		t.Fatalf("Load: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	got, err := Load(ctx, cache, key, fetch)
	if err != nil {
		t.Fatalf("stale Load: %v", err)
	}
	if !slices.Equal(got.Stories, []string{"old"}) {
		t.Errorf("stale Load = %+v; want the old value served immediately", got)
	}

	waitFor(t, func() bool {
		v, ok := Peek[feed](cache, key)
		return ok && slices.Equal(v.Stories, []string{"new"})
	}, "background refresh never replaced the stale value")
	if calls.Load() != 2 {
		t.Errorf("fetch calls = %d; want 2", calls.Load())
	}
	if st := cache.Stats(); st.StaleHits != 1 || st.Refreshes != 1 {
		t.Errorf("stats = %+v; want 1 stale hit, 1 refresh", st)
	}
}

func TestStaleRefreshPrefersRemote(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cache, err := New(WithRemote(store), WithPolicies(quickPolicies(t, 30*time.Millisecond, time.Hour)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	key := NewKey("stories", "feeds").With("limit", 50)
	var calls atomic.Int64
	if _, err := Load(ctx, cache, key, func(context.Context) (feed, error) {
		calls.Add(1)
		return feed{Stories: []string{"old"}}, nil
	}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	waitFor(t, func() bool {
		_, ok, _ := store.Get(ctx, "stories:feed:50")
		return ok
	}, "remote write never landed")

	// Another device already refreshed the shared tier.
	payload, err := json.Marshal(feed{Stories: []string{"refreshed elsewhere"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := store.Set(ctx, "stories:feed:50", payload, time.Hour); err != nil {
		t.Fatalf("store.Set: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	got, err := Load(ctx, cache, key, func(context.Context) (feed, error) {
		calls.Add(1)
		return feed{Stories: []string{"fetched"}}, nil
	})
	if err != nil {
		t.Fatalf("stale Load: %v", err)
	}
	if !slices.Equal(got.Stories, []string{"old"}) {
		t.Errorf("stale Load = %+v; want the old local value", got)
	}

	waitFor(t, func() bool {
		v, ok := Peek[feed](cache, key)
		return ok && slices.Equal(v.Stories, []string{"refreshed elsewhere"})
	}, "refresh never adopted the remote value")
	if calls.Load() != 1 {
		t.Errorf("fetch calls = %d; want 1 (refresh should use the remote value)", calls.Load())
	}
}

func TestStaleRefreshDeduplicated(t *testing.T) {
	ctx := context.Background()
	cache, err := New(WithPolicies(quickPolicies(t, 20*time.Millisecond, time.Hour)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	key := NewKey("stories", "feeds").With("limit", 50)
	var calls atomic.Int64
	fetch := func(context.Context) (feed, error) {
		if calls.Add(1) > 1 {
			time.Sleep(30 * time.Millisecond) // slow refresh holds the in-flight slot
		}
		return feed{Stories: []string{"v"}}, nil
	}

	if _, err := Load(ctx, cache, key, fetch); err != nil {
		t.Fatalf("Load: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := Load(ctx, cache, key, fetch); err != nil {
				t.Errorf("concurrent Load: %v", err)
			}
		}()
	}
	wg.Wait()

	waitFor(t, func() bool { return cache.Stats().Refreshes == 1 }, "refresh never started")
	waitFor(t, func() bool {
		cache.refresh.mu.Lock()
		defer cache.refresh.mu.Unlock()
		return len(cache.refresh.keys) == 0
	}, "refresh never finished")
	if got := calls.Load(); got != 2 {
		t.Errorf("fetch calls = %d; want 2 (one cold load, one deduplicated refresh)", got)
	}
}

func TestLoadFetchErrorVerbatim(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cache, err := New(WithRemote(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	key := NewKey("stories", "feeds").With("limit", 50)
	sentinel := errors.New("ranking service unavailable")
	_, err = Load(ctx, cache, key, func(context.Context) (feed, error) {
		return feed{}, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Load error = %v; want the fetch error verbatim", err)
	}

	if _, ok := Peek[feed](cache, key); ok {
		t.Error("failed fetch left a local entry")
	}
	time.Sleep(20 * time.Millisecond)
	if n, _ := store.Len(ctx); n != 0 {
		t.Errorf("failed fetch left %d remote entries", n)
	}
	if st := cache.Stats(); st.FetchErrors != 1 {
		t.Errorf("FetchErrors = %d; want 1", st.FetchErrors)
	}
}

func TestLoadRemoteDownFallsBack(t *testing.T) {
	ctx := context.Background()
	store := newStubStore()
	store.setFail(true)
	cache, err := New(WithRemote(store), WithoutBreaker())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	key := NewKey("stories", "feeds").With("limit", 50)
	var calls atomic.Int64
	want := feed{Stories: []string{"s1"}}
	fetch := func(context.Context) (feed, error) {
		calls.Add(1)
		return want, nil
	}

	got, err := Load(ctx, cache, key, fetch)
	if err != nil {
		t.Fatalf("Load with remote down: %v", err)
	}
	if !slices.Equal(got.Stories, want.Stories) {
		t.Errorf("Load = %+v; want %+v", got, want)
	}

	if _, err := Load(ctx, cache, key, fetch); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("fetch calls = %d; want 1 (local tier should carry reads)", calls.Load())
	}
	waitFor(t, func() bool { return cache.Stats().RemoteErrors > 0 }, "remote failures never recorded")
}

func TestLocalWinsOverRemoteDivergence(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cache, err := New(WithRemote(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	key := NewKey("stories", "feeds").With("limit", 50)
	if err := Set(cache, key, feed{Stories: []string{"local"}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	waitFor(t, func() bool {
		_, ok, _ := store.Get(ctx, "stories:feed:50")
		return ok
	}, "remote write never landed")

	// The shared tier diverges; the fresh local value still wins.
	payload, err := json.Marshal(feed{Stories: []string{"remote"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := store.Set(ctx, "stories:feed:50", payload, time.Hour); err != nil {
		t.Fatalf("store.Set: %v", err)
	}

	got, err := Load(ctx, cache, key, failFetch(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !slices.Equal(got.Stories, []string{"local"}) {
		t.Errorf("Load = %+v; want the local value", got)
	}
}

func TestSetOptimistic(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cache, err := New(WithRemote(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	key := NewKey("posts", "detail", "P1")
	want := feed{Stories: []string{"liked"}}
	if err := Set(cache, key, want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if v, ok := Peek[feed](cache, key); !ok || !slices.Equal(v.Stories, want.Stories) {
		t.Errorf("Peek = %+v, %v; want the value immediately", v, ok)
	}
	waitFor(t, func() bool {
		_, ok, _ := store.Get(ctx, "posts:detail:P1")
		return ok
	}, "optimistic write never reached the remote tier")

	if err := Set(cache, Key{}, want); err == nil {
		t.Error("Set accepted a zero key")
	}
}

func TestInvalidateExactBothTiers(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cache, err := New(WithRemote(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	feedKey := NewKey("stories", "feeds").With("limit", 50)
	userKey := NewKey("stories", "users", "U1", "stories")
	if err := Set(cache, feedKey, feed{Stories: []string{"f"}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := Set(cache, userKey, feed{Stories: []string{"u"}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	waitFor(t, func() bool { n, _ := store.Len(ctx); return n == 2 }, "remote writes never landed")

	if err := cache.Invalidate(ctx, feedKey); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok := Peek[feed](cache, feedKey); ok {
		t.Error("invalidated key still readable locally")
	}
	if _, ok := Peek[feed](cache, userKey); !ok {
		t.Error("unrelated key was invalidated")
	}
	if _, ok, _ := store.Get(ctx, "stories:feed:50"); ok {
		t.Error("invalidated key still present remotely")
	}
	if _, ok, _ := store.Get(ctx, "stories:user:U1"); !ok {
		t.Error("unrelated remote key removed")
	}
	if st := cache.Stats(); st.Invalidations != 1 {
		t.Errorf("Invalidations = %d; want 1", st.Invalidations)
	}
}

func TestInvalidatePrefixBothTiers(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cache, err := New(WithRemote(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	keys := []Key{
		NewKey("stories", "feeds").With("limit", 50),
		NewKey("stories", "users", "U1", "stories"),
		NewKey("posts", "detail", "P1"),
	}
	for i, k := range keys {
		if err := Set(cache, k, feed{Stories: []string{string(rune('a' + i))}}); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	waitFor(t, func() bool { n, _ := store.Len(ctx); return n == 3 }, "remote writes never landed")

	if err := cache.Invalidate(ctx, NewKey("stories")); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok := Peek[feed](cache, keys[0]); ok {
		t.Error("stories feed survived domain invalidation")
	}
	if _, ok := Peek[feed](cache, keys[1]); ok {
		t.Error("user stories survived domain invalidation")
	}
	if _, ok := Peek[feed](cache, keys[2]); !ok {
		t.Error("posts entry was removed by stories invalidation")
	}
	remaining, err := store.ScanPrefix(ctx, "stories:")
	if err != nil {
		t.Fatalf("ScanPrefix: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("remote stories keys survived: %v", remaining)
	}
	if _, ok, _ := store.Get(ctx, "posts:detail:P1"); !ok {
		t.Error("posts remote key removed by stories invalidation")
	}
}

func TestInvalidateRemoteFailureStillClearsLocal(t *testing.T) {
	ctx := context.Background()
	store := newStubStore()
	cache, err := New(WithRemote(store), WithoutBreaker())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	key := NewKey("stories", "feeds").With("limit", 50)
	if err := Set(cache, key, feed{Stories: []string{"f"}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	waitFor(t, func() bool { return store.has("stories:feed:50") }, "remote write never landed")

	store.setFail(true)
	err = cache.Invalidate(ctx, key)
	if !errors.Is(err, ErrRemoteInvalidation) {
		t.Fatalf("Invalidate error = %v; want ErrRemoteInvalidation", err)
	}
	if _, ok := Peek[feed](cache, key); ok {
		t.Error("local entry survived a partially failed invalidation")
	}
}

func TestSubscribeLifecycle(t *testing.T) {
	ctx := context.Background()
	cache, err := New(WithPolicies(quickPolicies(t, 10*time.Millisecond, 40*time.Millisecond)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	key := NewKey("stories", "feeds").With("limit", 50)
	if _, err := Load(ctx, cache, key, func(context.Context) (feed, error) {
		return feed{Stories: []string{"s"}}, nil
	}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	release := cache.Subscribe(key)
	time.Sleep(60 * time.Millisecond) // past the hard expiry

	if _, ok := Peek[feed](cache, key); ok {
		t.Error("expired entry still readable")
	}
	if got := cache.Len(); got != 1 {
		t.Errorf("Len = %d; want 1 (observed entry retained)", got)
	}
	if n := cache.Sweep(); n != 0 {
		t.Errorf("Sweep removed %d observed entries; want 0", n)
	}

	release()
	release() // idempotent
	if n := cache.Sweep(); n != 1 {
		t.Errorf("Sweep removed %d; want 1 after release", n)
	}
	if got := cache.Len(); got != 0 {
		t.Errorf("Len = %d; want 0", got)
	}
}

func TestBackgroundSweeper(t *testing.T) {
	ctx := context.Background()
	cache, err := New(
		WithPolicies(quickPolicies(t, 0, 30*time.Millisecond)),
		WithSweepInterval(20*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	if _, err := Load(ctx, cache, NewKey("stories", "feeds").With("limit", 50), func(context.Context) (feed, error) {
		return feed{Stories: []string{"s"}}, nil
	}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	waitFor(t, func() bool { return cache.Len() == 0 }, "sweeper never removed the expired entry")
}

func TestCloseWaitsForPendingWrites(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cache, err := New(WithRemote(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	key := NewKey("stories", "feeds").With("limit", 50)
	if _, err := Load(ctx, cache, key, func(context.Context) (feed, error) {
		return feed{Stories: []string{"s"}}, nil
	}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, ok, _ := store.Get(ctx, "stories:feed:50"); !ok {
		t.Error("Close returned before the pending remote write landed")
	}
	if err := cache.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestFlushBothTiers(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cache, err := New(WithRemote(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	if err := Set(cache, NewKey("stories", "feeds").With("limit", 50), feed{Stories: []string{"a"}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := Set(cache, NewKey("posts", "detail", "P1"), feed{Stories: []string{"b"}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	waitFor(t, func() bool { n, _ := store.Len(ctx); return n == 2 }, "remote writes never landed")

	n, err := cache.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 4 {
		t.Errorf("Flush removed %d; want 4 (2 local + 2 remote)", n)
	}
	if got := cache.Len(); got != 0 {
		t.Errorf("Len = %d after flush; want 0", got)
	}
	if remote, _ := store.Len(ctx); remote != 0 {
		t.Errorf("remote Len = %d after flush; want 0", remote)
	}
}

func TestWarmupFromRemote(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	c1, err := New(WithRemote(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	keys := []Key{
		NewKey("stories", "feeds").With("limit", 50),
		NewKey("stories", "users", "U1", "stories"),
		NewKey("posts", "detail", "P1"),
	}
	for i, k := range keys {
		if err := Set(c1, k, feed{Stories: []string{string(rune('a' + i))}}); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	waitFor(t, func() bool { n, _ := store.Len(ctx); return n == 3 }, "remote writes never landed")
	c1.Close()

	c2, err := New(WithRemote(store), WithWarmup(10))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c2.Close()

	waitFor(t, func() bool { return c2.Len() == 3 }, "warmup never populated the local tier")
	v, ok := Peek[feed](c2, keys[0])
	if !ok || !slices.Equal(v.Stories, []string{"a"}) {
		t.Errorf("Peek after warmup = %+v, %v", v, ok)
	}
	got, err := Load(ctx, c2, keys[1], failFetch(t))
	if err != nil {
		t.Fatalf("Load after warmup: %v", err)
	}
	if !slices.Equal(got.Stories, []string{"b"}) {
		t.Errorf("Load after warmup = %+v; want the warmed value", got)
	}
}

func TestWarmupHonorsLimit(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	c1, err := New(WithRemote(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 6; i++ {
		if err := Set(c1, NewKey("posts", "detail", string(rune('A'+i))), feed{}); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	waitFor(t, func() bool { n, _ := store.Len(ctx); return n == 6 }, "remote writes never landed")
	c1.Close()

	c2, err := New(WithRemote(store), WithWarmup(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c2.Close()

	waitFor(t, func() bool { return c2.Len() == 2 }, "warmup never reached its limit")
	time.Sleep(20 * time.Millisecond)
	if got := c2.Len(); got != 2 {
		t.Errorf("Len = %d; want warmup capped at 2", got)
	}
}

func TestTypeMismatchReadsAsMiss(t *testing.T) {
	ctx := context.Background()
	cache, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	key := NewKey("posts", "detail", "P1")
	if _, err := Load(ctx, cache, key, func(context.Context) (int, error) { return 7, nil }); err != nil {
		t.Fatalf("Load[int]: %v", err)
	}

	got, err := Load(ctx, cache, key, func(context.Context) (string, error) { return "seven", nil })
	if err != nil {
		t.Fatalf("Load[string]: %v", err)
	}
	if got != "seven" {
		t.Errorf("Load[string] = %q; want %q", got, "seven")
	}
	if v, ok := Peek[string](cache, key); !ok || v != "seven" {
		t.Errorf("Peek[string] = %q, %v; want the refetched value", v, ok)
	}
}

func TestLoadZeroKey(t *testing.T) {
	ctx := context.Background()
	cache, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close()

	if _, err := Load(ctx, cache, Key{}, func(context.Context) (feed, error) { return feed{}, nil }); err == nil {
		t.Error("Load accepted a zero key")
	}
	if err := cache.Invalidate(ctx, Key{}); err == nil {
		t.Error("Invalidate accepted a zero key")
	}
}

func TestNewRejectsBadCapacity(t *testing.T) {
	if _, err := New(WithLocalCapacity(0)); err == nil {
		t.Error("New accepted a zero capacity")
	}
	if _, err := New(WithLocalCapacity(-5)); err == nil {
		t.Error("New accepted a negative capacity")
	}
}

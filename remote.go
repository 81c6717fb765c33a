package feedcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/codeGROOVE-dev/feedcache/pkg/compress"
	"github.com/codeGROOVE-dev/feedcache/pkg/kv"
)

// remoteTier wraps the shared key-value service: structured keys translate
// to flat keys, payloads are compressed, TTLs come from the policy table,
// and a circuit breaker turns a down service into fast misses. Stores that
// cannot scan by prefix get a process-local index of written keys so
// prefix invalidation still works.
type remoteTier struct {
	store    kv.Store
	scanner  kv.PrefixScanner // nil when the store cannot scan
	shapes   *ShapeTable
	policies *PolicyTable
	comp     compress.Compressor
	breaker  *gobreaker.CircuitBreaker
	index    *keyIndex // non-nil exactly when scanner is nil
	stats    *stats
}

func newRemoteTier(store kv.Store, shapes *ShapeTable, policies *PolicyTable, comp compress.Compressor, useBreaker bool, st *stats) *remoteTier {
	r := &remoteTier{
		store:    store,
		shapes:   shapes,
		policies: policies,
		comp:     comp,
		stats:    st,
	}
	if sc, ok := store.(kv.PrefixScanner); ok {
		r.scanner = sc
	} else {
		r.index = newKeyIndex()
	}
	if useBreaker {
		r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "feedcache-remote",
			MaxRequests: 3,
			Interval:    30 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < 5 {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("remote cache circuit state changed",
					"breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return r
}

// execute runs op through the circuit breaker, if one is configured.
func (r *remoteTier) execute(op func() error) error {
	if r.breaker == nil {
		return op()
	}
	_, err := r.breaker.Execute(func() (any, error) {
		return nil, op()
	})
	return err
}

// get reads the decoded payload for a key. Every failure mode, from
// translation gaps to transport errors to corrupt payloads, reads as a
// miss; the local tier stays authoritative.
func (r *remoteTier) get(ctx context.Context, key Key) ([]byte, bool) {
	flat, ok := r.shapes.Flat(key)
	if !ok {
		return nil, false
	}
	if err := r.store.ValidateKey(flat); err != nil {
		slog.Warn("remote cache key rejected", "key", flat, "error", err)
		return nil, false
	}

	var data []byte
	var found bool
	err := r.execute(func() error {
		var err error
		data, found, err = r.store.Get(ctx, flat)
		return err
	})
	if err != nil {
		r.stats.remoteErrors.Add(1)
		slog.Warn("remote cache get failed", "key", flat, "error", err)
		return nil, false
	}
	if !found {
		r.stats.remoteMisses.Add(1)
		return nil, false
	}

	payload, err := r.comp.Decode(data)
	if err != nil {
		r.stats.remoteErrors.Add(1)
		slog.Warn("remote cache payload corrupt", "key", flat, "error", err)
		return nil, false
	}
	r.stats.remoteHits.Add(1)
	return payload, true
}

// set writes an encoded payload with the policy TTL. Failures are logged,
// never surfaced; keys without a flat translation stay local-only.
func (r *remoteTier) set(ctx context.Context, key Key, payload []byte) {
	flat, ok := r.shapes.Flat(key)
	if !ok {
		return
	}
	if err := r.store.ValidateKey(flat); err != nil {
		slog.Warn("remote cache key rejected", "key", flat, "error", err)
		return
	}
	data, err := r.comp.Encode(payload)
	if err != nil {
		slog.Warn("remote cache encode failed", "key", flat, "error", err)
		return
	}

	ttl := ttlSeconds(r.policies.Resolve(key).ExpireAfter)
	if err := r.execute(func() error {
		return r.store.Set(ctx, flat, data, ttl)
	}); err != nil {
		r.stats.remoteErrors.Add(1)
		slog.Warn("remote cache set failed", "key", flat, "error", err)
		return
	}
	if r.index != nil {
		r.index.add(flat)
	}
}

// invalidate removes every remote key covered by the structured prefix.
// Failures do not stop the fan-out; they are joined and returned so the
// caller can surface a partial invalidation.
func (r *remoteTier) invalidate(ctx context.Context, prefix Key) error {
	exact, prefixes := r.shapes.FlatPrefixes(prefix)
	var errs []error

	for _, flat := range exact {
		if err := r.execute(func() error {
			return r.store.Delete(ctx, flat)
		}); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", flat, err))
			continue
		}
		if r.index != nil {
			r.index.remove(flat)
		}
	}

	for _, p := range prefixes {
		if r.scanner != nil {
			if err := r.execute(func() error {
				_, err := r.scanner.DeletePrefix(ctx, p)
				return err
			}); err != nil {
				errs = append(errs, fmt.Errorf("delete prefix %s: %w", p, err))
			}
			continue
		}
		for _, flat := range r.index.withPrefix(p) {
			if err := r.execute(func() error {
				return r.store.Delete(ctx, flat)
			}); err != nil {
				errs = append(errs, fmt.Errorf("delete %s: %w", flat, err))
				continue
			}
			r.index.remove(flat)
		}
	}

	if len(errs) > 0 {
		r.stats.remoteErrors.Add(uint64(len(errs)))
		return errors.Join(errs...)
	}
	return nil
}

// flush removes all remote entries. Bypasses the breaker: explicit
// administrative calls should fail loudly, not trip or consult it.
func (r *remoteTier) flush(ctx context.Context) (int, error) {
	n, err := r.store.Flush(ctx)
	if r.index != nil {
		r.index.reset()
	}
	return n, err
}

func (r *remoteTier) close() error {
	if err := r.store.Close(); err != nil {
		return fmt.Errorf("close remote store: %w", err)
	}
	return nil
}

// ttlSeconds converts an expiry horizon to the store TTL, rounding
// sub-second remainders up to the whole-second granularity shared caches
// typically honor.
func ttlSeconds(d time.Duration) time.Duration {
	if d <= 0 || d >= Forever {
		return 0
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}

// keyIndex remembers the flat keys this process has written, grouped by
// domain, for stores that cannot scan by prefix. It only covers keys
// written by this process; entries written elsewhere age out via TTL.
type keyIndex struct {
	mu      sync.Mutex
	domains map[string]map[string]struct{}
}

func newKeyIndex() *keyIndex {
	return &keyIndex{domains: make(map[string]map[string]struct{})}
}

func indexDomain(flat string) string {
	if i := strings.IndexByte(flat, ':'); i >= 0 {
		return flat[:i]
	}
	return flat
}

func (x *keyIndex) add(flat string) {
	d := indexDomain(flat)
	x.mu.Lock()
	set, ok := x.domains[d]
	if !ok {
		set = make(map[string]struct{})
		x.domains[d] = set
	}
	set[flat] = struct{}{}
	x.mu.Unlock()
}

func (x *keyIndex) remove(flat string) {
	d := indexDomain(flat)
	x.mu.Lock()
	if set, ok := x.domains[d]; ok {
		delete(set, flat)
		if len(set) == 0 {
			delete(x.domains, d)
		}
	}
	x.mu.Unlock()
}

func (x *keyIndex) withPrefix(prefix string) []string {
	d := indexDomain(prefix)
	x.mu.Lock()
	defer x.mu.Unlock()
	var keys []string
	for flat := range x.domains[d] {
		if strings.HasPrefix(flat, prefix) {
			keys = append(keys, flat)
		}
	}
	return keys
}

func (x *keyIndex) reset() {
	x.mu.Lock()
	x.domains = make(map[string]map[string]struct{})
	x.mu.Unlock()
}

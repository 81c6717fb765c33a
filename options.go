package feedcache

import (
	"time"

	"github.com/codeGROOVE-dev/feedcache/pkg/compress"
	"github.com/codeGROOVE-dev/feedcache/pkg/kv"
)

type config struct {
	capacity      int
	sweepInterval time.Duration
	store         kv.Store
	comp          compress.Compressor
	shapes        *ShapeTable
	policies      *PolicyTable
	warmup        int
	breaker       bool
}

func defaultConfig() *config {
	return &config{
		capacity:      16384, // divides evenly across shards
		sweepInterval: 30 * time.Minute,
		comp:          compress.None(),
		breaker:       true,
	}
}

// Option configures a Cache.
type Option func(*config)

// WithRemote attaches a key-value store as the shared second tier.
// Without it the cache is local-only and all remote paths are no-ops.
func WithRemote(store kv.Store) Option {
	return func(c *config) { c.store = store }
}

// WithShapes replaces the default shape table used to translate structured
// identifiers to flat remote keys.
func WithShapes(t *ShapeTable) Option {
	return func(c *config) { c.shapes = t }
}

// WithPolicies replaces the default freshness policy table.
func WithPolicies(t *PolicyTable) Option {
	return func(c *config) { c.policies = t }
}

// WithLocalCapacity sets the maximum number of entries held in the local
// tier before eviction.
func WithLocalCapacity(n int) Option {
	return func(c *config) { c.capacity = n }
}

// WithSweepInterval sets the period of the background sweep that removes
// hard-expired entries. Zero or negative disables the sweep; expired
// entries are then only removed lazily on access.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) { c.sweepInterval = d }
}

// WithCompression compresses remote payloads. Every process sharing the
// remote tier must use the same codec; mismatched payloads read as misses.
func WithCompression(comp compress.Compressor) Option {
	return func(c *config) { c.comp = comp }
}

// WithWarmup loads up to n entries from the remote tier into the local
// tier on startup. Requires a remote store that can scan by prefix;
// warmup is best-effort and runs in the background.
func WithWarmup(n int) Option {
	return func(c *config) { c.warmup = n }
}

// WithoutBreaker disables the circuit breaker in front of the remote
// store, for callers that bring their own failure isolation.
func WithoutBreaker() Option {
	return func(c *config) { c.breaker = false }
}

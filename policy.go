package feedcache

import (
	"fmt"
	"math"
	"time"
)

// Forever marks a staleness or expiry horizon as unbounded.
const Forever = time.Duration(math.MaxInt64)

// Policy pairs the two horizons applied to an entry at write time.
//
// StaleFor bounds how long a value is served without revalidation: zero
// means immediately stale (every read triggers a background refresh),
// Forever means never stale. ExpireAfter bounds how long a value may be
// served at all and doubles as the remote tier's TTL; zero or Forever
// means no hard expiry.
type Policy struct {
	StaleFor    time.Duration
	ExpireAfter time.Duration
}

func (p Policy) validate() error {
	if p.StaleFor < 0 || p.ExpireAfter < 0 {
		return fmt.Errorf("negative horizon: stale %v, expire %v", p.StaleFor, p.ExpireAfter)
	}
	if p.ExpireAfter > 0 && p.ExpireAfter < Forever && p.StaleFor > p.ExpireAfter {
		return fmt.Errorf("staleness horizon %v exceeds expiry horizon %v", p.StaleFor, p.ExpireAfter)
	}
	return nil
}

// horizons computes the absolute horizons for a write at now. A zero time
// means that horizon never arrives.
func (p Policy) horizons(now time.Time) (staleAt, expireAt time.Time) {
	if p.StaleFor < Forever {
		staleAt = now.Add(p.StaleFor)
	}
	if p.ExpireAfter > 0 && p.ExpireAfter < Forever {
		expireAt = now.Add(p.ExpireAfter)
	}
	return staleAt, expireAt
}

// PolicyTable resolves the freshness policy for structured keys. Lookup is
// most-specific first: the (domain, sub-resource) entry, then the domain's
// "" entry, then the global default. Tables are immutable once built.
type PolicyTable struct {
	def     Policy
	domains map[string]map[string]Policy
}

// NewPolicyTable validates and builds a policy table. The domains map is
// keyed by domain, then by sub-resource (the identifier segment after the
// domain); the "" sub-resource holds the domain default. The maps are
// copied, so later mutation by the caller has no effect.
func NewPolicyTable(def Policy, domains map[string]map[string]Policy) (*PolicyTable, error) {
	if err := def.validate(); err != nil {
		return nil, fmt.Errorf("default policy: %w", err)
	}
	copied := make(map[string]map[string]Policy, len(domains))
	for domain, subs := range domains {
		if domain == "" {
			return nil, fmt.Errorf("empty domain in policy table")
		}
		inner := make(map[string]Policy, len(subs))
		for sub, p := range subs {
			if err := p.validate(); err != nil {
				return nil, fmt.Errorf("policy %s/%s: %w", domain, sub, err)
			}
			inner[sub] = p
		}
		copied[domain] = inner
	}
	return &PolicyTable{def: def, domains: copied}, nil
}

// Resolve returns the policy governing a key.
func (t *PolicyTable) Resolve(key Key) Policy {
	subs, ok := t.domains[key.Domain()]
	if !ok {
		return t.def
	}
	if len(key.segments) > 1 {
		if p, ok := subs[key.segments[1]]; ok {
			return p
		}
	}
	if p, ok := subs[""]; ok {
		return p
	}
	return t.def
}

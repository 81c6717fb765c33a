package feedcache

import (
	"container/list"
	"sync"
	"time"
)

const numShards = 16

// localCache is the in-process tier: a striped-lock store of canonical key
// to entry with staleness/expiry horizons and LRU bookkeeping. Observer
// counts live in a per-shard registry independent of entry existence so
// consumers can subscribe before the first load completes.
type localCache struct {
	shards [numShards]*localShard
	stats  *stats
}

type localShard struct {
	mu        sync.Mutex
	entries   map[string]*localEntry
	lru       *list.List // front = most recently used
	observers map[string]int
	capacity  int
}

type localEntry struct {
	key       Key
	canon     string
	value     any
	updatedAt time.Time
	staleAt   time.Time // zero = never stale
	expireAt  time.Time // zero = never expires
	elem      *list.Element
}

func newLocalCache(capacity int, st *stats) *localCache {
	per := capacity / numShards
	if per < 1 {
		per = 1
	}
	c := &localCache{stats: st}
	for i := range c.shards {
		c.shards[i] = &localShard{
			entries:   make(map[string]*localEntry),
			lru:       list.New(),
			observers: make(map[string]int),
			capacity:  per,
		}
	}
	return c
}

func shardIndex(canon string) int {
	h := uint32(2166136261) // FNV-1a
	for i := 0; i < len(canon); i++ {
		h ^= uint32(canon[i])
		h *= 16777619
	}
	return int(h % numShards)
}

func (c *localCache) shard(canon string) *localShard {
	return c.shards[shardIndex(canon)]
}

// get retrieves an entry. The second result reports staleness. Expiry is
// evaluated lazily here: hard-expired entries read as misses, and
// unobserved ones are dropped on the spot while observed ones are retained
// until their observers let go.
func (c *localCache) get(canon string) (value any, stale, ok bool) {
	sh := c.shard(canon)
	now := time.Now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, found := sh.entries[canon]
	if !found {
		return nil, false, false
	}
	if !e.expireAt.IsZero() && now.After(e.expireAt) {
		if sh.observers[canon] == 0 {
			sh.removeLocked(e)
			c.stats.expired.Add(1)
		}
		return nil, false, false
	}

	sh.lru.MoveToFront(e.elem)
	return e.value, !e.staleAt.IsZero() && !now.Before(e.staleAt), true
}

// set writes or refreshes an entry with the given horizons.
func (c *localCache) set(key Key, value any, staleAt, expireAt time.Time) {
	canon := key.String()
	sh := c.shard(canon)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e, ok := sh.entries[canon]; ok {
		e.value = value
		e.updatedAt = time.Now()
		e.staleAt = staleAt
		e.expireAt = expireAt
		sh.lru.MoveToFront(e.elem)
		return
	}

	e := &localEntry{
		key:       key,
		canon:     canon,
		value:     value,
		updatedAt: time.Now(),
		staleAt:   staleAt,
		expireAt:  expireAt,
	}
	e.elem = sh.lru.PushFront(e)
	sh.entries[canon] = e

	if len(sh.entries) > sh.capacity {
		sh.evictLocked(c.stats)
	}
}

// upgrade swaps an entry's value in place, preserving its horizons and
// recency. Used when a raw warmup payload is first decoded to a concrete
// type.
func (c *localCache) upgrade(canon string, value any) {
	sh := c.shard(canon)
	sh.mu.Lock()
	if e, ok := sh.entries[canon]; ok {
		e.value = value
	}
	sh.mu.Unlock()
}

// evictLocked removes the least recently used entry without observers.
// If every entry is observed, the overall least recently used entry goes.
func (sh *localShard) evictLocked(st *stats) {
	for elem := sh.lru.Back(); elem != nil; elem = elem.Prev() {
		e := elem.Value.(*localEntry)
		if sh.observers[e.canon] == 0 {
			sh.removeLocked(e)
			st.evictions.Add(1)
			return
		}
	}
	if elem := sh.lru.Back(); elem != nil {
		sh.removeLocked(elem.Value.(*localEntry))
		st.evictions.Add(1)
	}
}

func (sh *localShard) removeLocked(e *localEntry) {
	delete(sh.entries, e.canon)
	sh.lru.Remove(e.elem)
}

// invalidate removes the exact entry and every entry beneath the segment
// prefix, regardless of observers. Full scan; acceptable at local-tier
// sizes. Returns the number of entries removed.
func (c *localCache) invalidate(prefix Key) int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		for _, e := range sh.entries {
			if e.key.HasPrefix(prefix) {
				sh.removeLocked(e)
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// retain registers an observer for a key, present or not.
func (c *localCache) retain(canon string) {
	sh := c.shard(canon)
	sh.mu.Lock()
	sh.observers[canon]++
	sh.mu.Unlock()
}

// release drops one observer registration for a key.
func (c *localCache) release(canon string) {
	sh := c.shard(canon)
	sh.mu.Lock()
	if n := sh.observers[canon]; n <= 1 {
		delete(sh.observers, canon)
	} else {
		sh.observers[canon] = n - 1
	}
	sh.mu.Unlock()
}

func (c *localCache) observerCount(canon string) int {
	sh := c.shard(canon)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.observers[canon]
}

// sweep removes hard-expired entries without observers across all shards.
// Returns the number removed.
func (c *localCache) sweep() int {
	now := time.Now()
	n := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		for canon, e := range sh.entries {
			if e.expireAt.IsZero() || now.Before(e.expireAt) {
				continue
			}
			if sh.observers[canon] > 0 {
				continue
			}
			sh.removeLocked(e)
			n++
		}
		sh.mu.Unlock()
	}
	if n > 0 {
		c.stats.expired.Add(uint64(n))
	}
	return n
}

// len returns the number of entries, including expired ones not yet swept.
func (c *localCache) len() int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// flush removes all entries. Observer registrations survive.
func (c *localCache) flush() int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.entries = make(map[string]*localEntry)
		sh.lru.Init()
		sh.mu.Unlock()
	}
	return n
}

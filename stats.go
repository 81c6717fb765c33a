package feedcache

import "sync/atomic"

// stats aggregates lifetime counters. All fields are atomic; a snapshot
// taken under concurrency is approximate.
type stats struct {
	localHits     atomic.Uint64
	staleHits     atomic.Uint64
	localMisses   atomic.Uint64
	remoteHits    atomic.Uint64
	remoteMisses  atomic.Uint64
	remoteErrors  atomic.Uint64
	fetches       atomic.Uint64
	fetchErrors   atomic.Uint64
	refreshes     atomic.Uint64
	evictions     atomic.Uint64
	expired       atomic.Uint64
	invalidations atomic.Uint64
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	LocalHits     uint64 // fresh local hits
	StaleHits     uint64 // stale local hits served while revalidating
	LocalMisses   uint64
	RemoteHits    uint64
	RemoteMisses  uint64
	RemoteErrors  uint64 // remote tier failures, all treated as misses
	Fetches       uint64 // source fetch attempts
	FetchErrors   uint64
	Refreshes     uint64 // background refreshes started
	Evictions     uint64 // entries removed for capacity
	Expired       uint64 // entries removed at or past hard expiry
	Invalidations uint64 // local entries removed by explicit invalidation
	Entries       int    // current local entry count
}

func (s *stats) snapshot(entries int) Stats {
	return Stats{
		LocalHits:     s.localHits.Load(),
		StaleHits:     s.staleHits.Load(),
		LocalMisses:   s.localMisses.Load(),
		RemoteHits:    s.remoteHits.Load(),
		RemoteMisses:  s.remoteMisses.Load(),
		RemoteErrors:  s.remoteErrors.Load(),
		Fetches:       s.fetches.Load(),
		FetchErrors:   s.fetchErrors.Load(),
		Refreshes:     s.refreshes.Load(),
		Evictions:     s.evictions.Load(),
		Expired:       s.expired.Load(),
		Invalidations: s.invalidations.Load(),
		Entries:       entries,
	}
}

package feedcache

import "sync"

// inflight tracks background refreshes by canonical key so a burst of
// stale reads triggers at most one refresh per identifier.
type inflight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInflight() *inflight {
	return &inflight{keys: make(map[string]struct{})}
}

// begin reports whether the caller won the right to refresh the key. A
// true result obligates the caller to call end when the refresh completes.
func (f *inflight) begin(canon string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[canon]; ok {
		return false
	}
	f.keys[canon] = struct{}{}
	return true
}

func (f *inflight) end(canon string) {
	f.mu.Lock()
	delete(f.keys, canon)
	f.mu.Unlock()
}

// Package memory provides an in-process kv store for tests and for
// deployments without a shared cache service.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const maxKeyLength = 512

// Store implements kv.Store backed by a process-local map.
// Payloads are copied on write and read so callers cannot mutate stored state.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
}

type entry struct {
	value  []byte
	expiry time.Time
}

// New creates an empty in-process store.
func New() *Store {
	return &Store{entries: make(map[string]entry)}
}

// ValidateKey checks if a key is valid for this store.
func (*Store) ValidateKey(key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("key too long: %d bytes (max %d)", len(key), maxKeyLength)
	}
	return nil
}

// Get retrieves a payload. Expired entries are removed lazily.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiry.IsZero() && time.Now().After(e.expiry) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set saves a payload with the given TTL. A zero TTL means no expiry.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiry time.Time
	if ttl > 0 {
		expiry = time.Now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: append([]byte(nil), value...), expiry: expiry}
	return nil
}

// Delete removes a payload. Deleting an absent key is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Cleanup removes entries whose expiry is more than maxAge in the past.
func (s *Store) Cleanup(_ context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, e := range s.entries {
		if !e.expiry.IsZero() && e.expiry.Before(cutoff) {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

// Location returns the key itself; this store has no external location.
func (*Store) Location(key string) string { return key }

// Flush removes all entries. Returns the number removed.
func (s *Store) Flush(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	s.entries = make(map[string]entry)
	return n, nil
}

// Len returns the number of live entries.
func (s *Store) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := time.Now()
	for _, e := range s.entries {
		if e.expiry.IsZero() || now.Before(e.expiry) {
			n++
		}
	}
	return n, nil
}

// ScanPrefix returns all live keys starting with prefix.
func (s *Store) ScanPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	now := time.Now()
	for key, e := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !e.expiry.IsZero() && now.After(e.expiry) {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// DeletePrefix removes all keys starting with prefix.
func (s *Store) DeletePrefix(_ context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

// Close releases resources. No-op for the in-process store.
func (*Store) Close() error { return nil }

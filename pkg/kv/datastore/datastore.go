// Package datastore provides Google Cloud Datastore kv storage for feedcache.
// Datastore cannot enumerate keys by prefix, so this store does not implement
// kv.PrefixScanner; prefix invalidation relies on the caller's key index.
package datastore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	ds "github.com/codeGROOVE-dev/ds9/pkg/datastore"
)

const (
	datastoreKind      = "FeedCacheEntry"
	maxDatastoreKeyLen = 1500 // Datastore has stricter key length limits
)

// Store implements kv.Store using Google Cloud Datastore.
type Store struct {
	client *ds.Client
	kind   string
}

// entry represents a cache entry in Datastore.
// We use a base64-encoded string for Value to avoid datastore []byte
// limitations. The flat key is stored in the Datastore entity key itself.
type entry struct {
	Expiry    time.Time `datastore:"expiry,omitempty,noindex"`
	UpdatedAt time.Time `datastore:"updated_at"`
	Value     string    `datastore:"value,noindex"`
}

// New creates a new Datastore-backed store.
// The cacheID is used as the Datastore database name.
// An empty project ID lets the client auto-detect the project.
func New(ctx context.Context, cacheID string) (*Store, error) {
	client, err := ds.NewClientWithDatabase(ctx, "", cacheID)
	if err != nil {
		return nil, fmt.Errorf("create datastore client: %w", err)
	}

	return &Store{client: client, kind: datastoreKind}, nil
}

// ValidateKey checks if a key is valid for Datastore.
func (*Store) ValidateKey(key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if len(key) > maxDatastoreKeyLen {
		return fmt.Errorf("key too long: %d bytes (max %d for datastore)", len(key), maxDatastoreKeyLen)
	}
	return nil
}

// makeKey creates a Datastore key from a flat cache key.
func (s *Store) makeKey(key string) *ds.Key {
	return ds.NameKey(s.kind, key, nil)
}

// Location returns the Datastore key path for a given cache key.
// Format: "kind/key" (e.g., "FeedCacheEntry/stories:feed:50").
func (s *Store) Location(key string) string {
	return s.kind + "/" + key
}

// Get retrieves a payload from Datastore.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var e entry
	if err := s.client.Get(ctx, s.makeKey(key), &e); err != nil {
		if errors.Is(err, ds.ErrNoSuchEntity) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("datastore get: %w", err)
	}

	// Check expiration - return miss but don't delete.
	// Cleanup is handled by native Datastore TTL or periodic Cleanup() calls.
	if !e.Expiry.IsZero() && time.Now().After(e.Expiry) {
		return nil, false, nil
	}

	b, err := base64.StdEncoding.DecodeString(e.Value)
	if err != nil {
		return nil, false, fmt.Errorf("decode base64: %w", err)
	}

	return b, true, nil
}

// Set saves a payload to Datastore with the given TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiry time.Time
	if ttl > 0 {
		expiry = time.Now().Add(ttl)
	}

	e := entry{
		Value:     base64.StdEncoding.EncodeToString(value),
		Expiry:    expiry,
		UpdatedAt: time.Now(),
	}

	if _, err := s.client.Put(ctx, s.makeKey(key), &e); err != nil {
		return fmt.Errorf("datastore put: %w", err)
	}

	return nil
}

// Delete removes a payload from Datastore.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Delete(ctx, s.makeKey(key)); err != nil {
		return fmt.Errorf("datastore delete: %w", err)
	}
	return nil
}

// Cleanup removes expired entries from Datastore.
// maxAge specifies how old entries must be (based on expiry field) before
// deletion. If native Datastore TTL is properly configured, this will find
// no entries.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	q := ds.NewQuery(s.kind).
		Filter("expiry >", time.Time{}).
		Filter("expiry <", cutoff).
		KeysOnly()

	keys, err := s.client.AllKeys(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("query expired keys: %w", err)
	}

	if len(keys) == 0 {
		return 0, nil
	}

	if err := s.client.DeleteMulti(ctx, keys); err != nil {
		return 0, fmt.Errorf("delete expired entries: %w", err)
	}

	return len(keys), nil
}

// Flush removes all entries from Datastore.
// Returns the number of entries removed and any error.
func (s *Store) Flush(ctx context.Context) (int, error) {
	q := ds.NewQuery(s.kind).KeysOnly()

	keys, err := s.client.AllKeys(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("query all keys: %w", err)
	}

	if len(keys) == 0 {
		return 0, nil
	}

	if err := s.client.DeleteMulti(ctx, keys); err != nil {
		return 0, fmt.Errorf("delete all entries: %w", err)
	}

	return len(keys), nil
}

// Len returns the number of entries in Datastore.
func (s *Store) Len(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, ds.NewQuery(s.kind))
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Close releases Datastore client resources.
func (s *Store) Close() error {
	return s.client.Close()
}

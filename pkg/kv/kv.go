// Package kv defines the interface for feedcache remote cache backends.
package kv

import (
	"context"
	"time"
)

// Store defines the interface for remote cache backends.
// Keys are flat colon-delimited strings; values are opaque byte payloads.
// TTLs are rounded up to whole seconds by backends that track expiry
// server-side. A zero TTL means the entry never expires.
type Store interface {
	// ValidateKey checks if a key is valid for this backend.
	ValidateKey(key string) error

	// Get retrieves a payload. The second result is false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set saves a payload with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a payload. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Cleanup removes expired entries older than maxAge. Backends that
	// expire keys natively return 0.
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)

	// Location returns the backend-specific storage location for a key.
	Location(key string) string

	// Flush removes all entries from the backend's namespace.
	Flush(ctx context.Context) (int, error)

	// Len returns the number of entries in the backend's namespace.
	Len(ctx context.Context) (int, error)

	// Close releases any resources held by the backend.
	Close() error
}

// PrefixScanner is implemented by backends that can enumerate keys sharing
// a prefix. Backends without it (Cloud Datastore) rely on the caller to
// track key membership for prefix deletion.
type PrefixScanner interface {
	// ScanPrefix returns all live keys starting with prefix.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	// DeletePrefix removes all keys starting with prefix and returns the
	// number removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

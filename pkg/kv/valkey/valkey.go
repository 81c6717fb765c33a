// Package valkey provides a Valkey/Redis kv store for feedcache.
package valkey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"
)

const maxKeyLength = 512 // Maximum key length for Valkey

// Store implements kv.Store using Valkey/Redis.
// All keys are namespaced under a cacheID prefix so multiple caches can
// share one Valkey deployment.
type Store struct {
	client valkey.Client
	prefix string
}

// New creates a new Valkey-backed store.
// The cacheID is used as a key prefix to namespace cache entries.
// addr should be in the format "host:port" (e.g., "localhost:6379").
func New(ctx context.Context, cacheID, addr string) (*Store, error) {
	if cacheID == "" {
		return nil, errors.New("cacheID cannot be empty")
	}
	if addr == "" {
		addr = "localhost:6379"
	}

	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey ping failed: %w", err)
	}

	return &Store{client: client, prefix: cacheID + ":"}, nil
}

// ValidateKey checks if a key is valid for Valkey.
func (s *Store) ValidateKey(key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if len(s.prefix)+len(key) > maxKeyLength {
		return fmt.Errorf("key too long: %d bytes (max %d)", len(key), maxKeyLength-len(s.prefix))
	}
	return nil
}

// Location returns the namespaced Valkey key for a cache key.
func (s *Store) Location(key string) string {
	return s.prefix + key
}

// Get retrieves a payload from Valkey.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.prefix+key).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("valkey get: %w", err)
	}
	return data, true, nil
}

// Set saves a payload to Valkey with the given TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	k := s.prefix + key
	var cmd valkey.Completed
	if ttl > 0 {
		cmd = s.client.B().Set().Key(k).Value(string(value)).Px(ttl).Build()
	} else {
		cmd = s.client.B().Set().Key(k).Value(string(value)).Build()
	}

	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey set: %w", err)
	}
	return nil
}

// Delete removes a payload from Valkey.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.prefix+key).Build()).Error(); err != nil {
		return fmt.Errorf("valkey delete: %w", err)
	}
	return nil
}

// Cleanup removes expired entries. Valkey expires keys natively, so this
// is a no-op.
func (*Store) Cleanup(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}

// ScanPrefix returns all keys in this cache's namespace starting with
// prefix, with the namespace stripped.
func (s *Store) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pat := s.prefix + prefix + "*"
	var cur uint64

	for {
		select {
		case <-ctx.Done():
			return keys, ctx.Err()
		default:
		}

		scan, err := s.client.Do(ctx, s.client.B().Scan().Cursor(cur).Match(pat).Count(100).Build()).AsScanEntry()
		if err != nil {
			return keys, fmt.Errorf("scan keys: %w", err)
		}

		for _, k := range scan.Elements {
			keys = append(keys, strings.TrimPrefix(k, s.prefix))
		}

		cur = scan.Cursor
		if cur == 0 {
			break
		}
	}

	return keys, nil
}

// DeletePrefix removes all keys in this cache's namespace starting with
// prefix. Returns the number of keys removed.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	return s.deleteMatching(ctx, s.prefix+prefix+"*")
}

// Flush removes all entries in this cache's namespace.
func (s *Store) Flush(ctx context.Context) (int, error) {
	return s.deleteMatching(ctx, s.prefix+"*")
}

func (s *Store) deleteMatching(ctx context.Context, pat string) (int, error) {
	n := 0
	var cur uint64

	for {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		default:
		}

		scan, err := s.client.Do(ctx, s.client.B().Scan().Cursor(cur).Match(pat).Count(100).Build()).AsScanEntry()
		if err != nil {
			return n, fmt.Errorf("scan keys: %w", err)
		}

		if len(scan.Elements) > 0 {
			if c, err := s.client.Do(ctx, s.client.B().Del().Key(scan.Elements...).Build()).AsInt64(); err == nil {
				n += int(c)
			}
		}

		cur = scan.Cursor
		if cur == 0 {
			break
		}
	}

	return n, nil
}

// Len returns the number of entries in this cache's namespace.
func (s *Store) Len(ctx context.Context) (int, error) {
	n := 0
	pat := s.prefix + "*"
	var cur uint64

	for {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		default:
		}

		scan, err := s.client.Do(ctx, s.client.B().Scan().Cursor(cur).Match(pat).Count(100).Build()).AsScanEntry()
		if err != nil {
			return n, fmt.Errorf("scan keys: %w", err)
		}

		n += len(scan.Elements)
		cur = scan.Cursor
		if cur == 0 {
			break
		}
	}

	return n, nil
}

// Close releases Valkey client resources.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

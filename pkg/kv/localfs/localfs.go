// Package localfs provides local filesystem kv storage for feedcache.
// It is intended for development and offline use; production deployments
// use a shared service such as Valkey.
package localfs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/feedcache/pkg/compress"
)

// Entry is the on-disk representation of a cache entry. The flat key is
// stored inside the file because filenames are hashes and cannot be
// reversed during prefix scans.
type Entry struct {
	Key       string
	Value     []byte
	Expiry    time.Time
	UpdatedAt time.Time
}

const maxKeyLength = 127 // Maximum key length to avoid filesystem constraints

// Store implements file-based kv storage using JSON-encoded files.
//
//nolint:govet // fieldalignment - current layout groups related fields logically (mutex with map it protects)
type Store struct {
	subdirsMu   sync.RWMutex
	Dir         string              // Exported for testing - directory path
	subdirsMade map[string]bool     // Cache of created subdirectories
	compressor  compress.Compressor // Compression algorithm
	ext         string              // File extension based on compressor
}

// New creates a new file-based store.
// The cacheID is used as a subdirectory name under the OS cache directory.
// If dir is provided (non-empty), it's used as the base directory instead of OS cache dir.
// Optional compressor enables compression (default: no compression, plain JSON with .j extension).
func New(cacheID, dir string, c ...compress.Compressor) (*Store, error) {
	if cacheID == "" {
		return nil, errors.New("cacheID cannot be empty")
	}
	if strings.Contains(cacheID, "..") || strings.Contains(cacheID, "/") || strings.Contains(cacheID, "\\") {
		return nil, errors.New("invalid cacheID: contains path separators or traversal sequences")
	}
	if strings.Contains(cacheID, "\x00") {
		return nil, errors.New("invalid cacheID: contains null byte")
	}

	comp := compress.None()
	if len(c) > 0 && c[0] != nil {
		comp = c[0]
	}

	var fullDir string
	if dir != "" {
		fullDir = filepath.Join(dir, cacheID)
	} else {
		baseDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("get user cache dir: %w", err)
		}
		fullDir = filepath.Join(baseDir, cacheID)
	}

	if err := os.MkdirAll(fullDir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	testFile := filepath.Join(fullDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("cache dir not writable: %w", err)
	}
	_ = os.Remove(testFile) //nolint:errcheck // best-effort cleanup

	ext := comp.Extension()
	if ext == "" {
		ext = ".j"
	}

	return &Store{
		Dir:         fullDir,
		subdirsMade: make(map[string]bool),
		compressor:  comp,
		ext:         ext,
	}, nil
}

// ValidateKey checks if a key is valid for file storage.
// Since keys are hashed to SHA256, any characters are allowed.
// Only length is validated to prevent memory issues.
func (*Store) ValidateKey(key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("key too long: %d bytes (max %d)", len(key), maxKeyLength)
	}
	return nil
}

// keyToFilename converts a cache key to a filename with squid-style directory layout.
// Hashes the key and uses first 2 characters of hex hash as subdirectory for even
// distribution (e.g., key "stories:feed:50" -> "a3/a3f2....j").
func (s *Store) keyToFilename(key string) string {
	sum := sha256.Sum256([]byte(key))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(h[:2], h+s.ext)
}

// Location returns the full file path where a key is stored.
func (s *Store) Location(key string) string {
	return filepath.Join(s.Dir, s.keyToFilename(key))
}

// Get retrieves a payload from a file. Expired files are removed on read.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	fn := filepath.Join(s.Dir, s.keyToFilename(key))

	e, err := s.readEntry(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	if !e.Expiry.IsZero() && time.Now().After(e.Expiry) {
		if err := os.Remove(fn); err != nil && !os.IsNotExist(err) {
			return nil, false, fmt.Errorf("remove expired file: %w", err)
		}
		return nil, false, nil
	}

	return e.Value, true, nil
}

// readEntry reads and decodes a single cache file. Corrupt files are
// removed so they cannot wedge future reads.
func (s *Store) readEntry(fn string) (Entry, error) {
	var e Entry

	data, err := os.ReadFile(fn)
	if err != nil {
		return e, err
	}

	jsonData, err := s.compressor.Decode(data)
	if err != nil {
		rmErr := os.Remove(fn)
		return e, errors.Join(fmt.Errorf("decompress: %w", err), rmErr)
	}

	if err := json.Unmarshal(jsonData, &e); err != nil {
		rmErr := os.Remove(fn)
		return e, errors.Join(fmt.Errorf("decode file: %w", err), rmErr)
	}

	return e, nil
}

// Set saves a payload to a file with the given TTL.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	fn := filepath.Join(s.Dir, s.keyToFilename(key))
	dir := filepath.Dir(fn)

	// Check if subdirectory already created (cache to avoid syscalls)
	s.subdirsMu.RLock()
	exists := s.subdirsMade[dir]
	s.subdirsMu.RUnlock()

	if !exists {
		// Hold write lock during check-and-create to avoid race
		s.subdirsMu.Lock()
		// Double-check after acquiring write lock
		if !s.subdirsMade[dir] {
			// Create subdirectory if needed (MkdirAll is idempotent)
			if err := os.MkdirAll(dir, 0o750); err != nil {
				s.subdirsMu.Unlock()
				return fmt.Errorf("create subdirectory: %w", err)
			}
			// Cache that we created it
			s.subdirsMade[dir] = true
		}
		s.subdirsMu.Unlock()
	}

	var expiry time.Time
	if ttl > 0 {
		expiry = time.Now().Add(ttl)
	}

	e := Entry{
		Key:       key,
		Value:     value,
		Expiry:    expiry,
		UpdatedAt: time.Now(),
	}

	jsonData, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	data, err := s.compressor.Encode(jsonData)
	if err != nil {
		return fmt.Errorf("compress: %w", err)
	}

	// Write to temp file first, then rename for atomicity
	tmp := fn + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmp, fn); err != nil {
		rmErr := os.Remove(tmp)
		return errors.Join(fmt.Errorf("rename file: %w", err), rmErr)
	}

	return nil
}

// Delete removes a file.
func (s *Store) Delete(_ context.Context, key string) error {
	fn := filepath.Join(s.Dir, s.keyToFilename(key))
	if err := os.Remove(fn); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// isCacheFile returns true if the file matches the store's cache file extension.
func (s *Store) isCacheFile(name string) bool {
	return filepath.Ext(name) == s.ext
}

// walkEntries visits every decodable cache file under the store directory.
func (s *Store) walkEntries(ctx context.Context, visit func(path string, e Entry)) error {
	var errs []error

	walkErr := filepath.Walk(s.Dir, func(path string, fi os.FileInfo, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			errs = append(errs, fmt.Errorf("walk %s: %w", path, err))
			return nil
		}
		if fi.IsDir() || !s.isCacheFile(fi.Name()) {
			return nil
		}

		e, err := s.readEntry(path)
		if err != nil {
			errs = append(errs, err)
			return nil
		}

		visit(path, e)
		return nil
	})

	if walkErr != nil {
		errs = append(errs, fmt.Errorf("walk directory: %w", walkErr))
	}

	return errors.Join(errs...)
}

// ScanPrefix returns all live keys starting with prefix.
func (s *Store) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	now := time.Now()

	err := s.walkEntries(ctx, func(_ string, e Entry) {
		if !strings.HasPrefix(e.Key, prefix) {
			return
		}
		if !e.Expiry.IsZero() && now.After(e.Expiry) {
			return
		}
		keys = append(keys, e.Key)
	})

	return keys, err
}

// DeletePrefix removes all keys starting with prefix.
// Returns the number of entries removed.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	n := 0
	var errs []error

	walkErr := s.walkEntries(ctx, func(path string, e Entry) {
		if !strings.HasPrefix(e.Key, prefix) {
			return
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			return
		}
		n++
	})

	if walkErr != nil {
		errs = append(errs, walkErr)
	}

	return n, errors.Join(errs...)
}

// Cleanup removes entries whose expiry is more than maxAge in the past.
// Returns the count of deleted entries and any errors encountered.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	n := 0
	var errs []error

	walkErr := s.walkEntries(ctx, func(path string, e Entry) {
		if e.Expiry.IsZero() || !e.Expiry.Before(cutoff) {
			return
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			return
		}
		n++
	})

	if walkErr != nil {
		errs = append(errs, walkErr)
	}

	return n, errors.Join(errs...)
}

// Flush removes all entries from the store.
// Returns the number of entries removed and any errors encountered.
func (s *Store) Flush(ctx context.Context) (int, error) {
	n := 0
	var errs []error

	walkErr := filepath.Walk(s.Dir, func(path string, fi os.FileInfo, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("walk %s: %w", path, err))
			return nil
		}
		if fi.IsDir() || !s.isCacheFile(fi.Name()) {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
		} else {
			n++
		}
		return nil
	})

	if walkErr != nil {
		errs = append(errs, fmt.Errorf("walk directory: %w", walkErr))
	}

	s.subdirsMu.Lock()
	s.subdirsMade = make(map[string]bool)
	s.subdirsMu.Unlock()

	return n, errors.Join(errs...)
}

// Len returns the number of entries in the store.
func (s *Store) Len(ctx context.Context) (int, error) {
	n := 0
	var errs []error

	walkErr := filepath.Walk(s.Dir, func(_ string, fi os.FileInfo, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if fi.IsDir() || !s.isCacheFile(fi.Name()) {
			return nil
		}
		n++
		return nil
	})

	if walkErr != nil {
		errs = append(errs, fmt.Errorf("walk directory: %w", walkErr))
	}

	return n, errors.Join(errs...)
}

// Close cleans up resources.
func (*Store) Close() error {
	// No resources to clean up for file-based storage
	return nil
}

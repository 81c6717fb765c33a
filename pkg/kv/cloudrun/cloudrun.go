// Package cloudrun provides automatic store selection for Cloud Run.
// Detects Cloud Run via the K_SERVICE env var and tries Datastore first,
// falling back to local files if unavailable.
package cloudrun

import (
	"context"
	"os"

	"github.com/codeGROOVE-dev/feedcache/pkg/compress"
	"github.com/codeGROOVE-dev/feedcache/pkg/kv"
	"github.com/codeGROOVE-dev/feedcache/pkg/kv/datastore"
	"github.com/codeGROOVE-dev/feedcache/pkg/kv/localfs"
)

// New creates a store for services that share the remote cache tier.
// In Cloud Run: tries Datastore, falls back to local files on error.
// Outside Cloud Run: uses local files directly, under dir when non-empty.
// Optional compressor enables at-rest compression for the file fallback.
func New(ctx context.Context, cacheID, dir string, c ...compress.Compressor) (kv.Store, error) {
	if os.Getenv("K_SERVICE") != "" {
		if s, err := datastore.New(ctx, cacheID); err == nil {
			return s, nil
		}
	}
	return localfs.New(cacheID, dir, c...)
}

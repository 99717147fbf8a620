// Package spc implements the Server Proxy & Cache: the fast key/value tier
// fronting a durable blob tier, coalescing of concurrent misses, and the
// external model invocation path (spec.md §4.4).
package spc

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"facecache/internal/cacheerrors"
)

// KVTier is the SPC's fast key/value tier (§4.4.2 step 1). Grounded
// directly on the teacher's use of github.com/redis/go-redis/v9 as its
// hot-tier client (src/storage/grid_cache_tiered.go, src/fetcher).
type KVTier struct {
	client *redis.Client
}

func NewKVTier(client *redis.Client) *KVTier {
	return &KVTier{client: client}
}

// Get returns the cached URL for path, or ok=false on a clean miss. No TTL
// is required by the contract (§6); eviction is acceptable because the
// blob tier is the source of truth.
func (t *KVTier) Get(ctx context.Context, path string) (url string, ok bool, err error) {
	v, err := t.client.Get(ctx, path).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, cacheerrors.Wrap(cacheerrors.KindStorageFailure, err)
	}
	return v, true, nil
}

// Set persists the discovered URL for path with no expiry.
func (t *KVTier) Set(ctx context.Context, path, url string) error {
	if err := t.client.Set(ctx, path, url, 0).Err(); err != nil {
		return cacheerrors.Wrap(cacheerrors.KindStorageFailure, err)
	}
	return nil
}

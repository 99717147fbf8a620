package ccd

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"facecache/internal/cachekey"
)

// MemTier is the CCD's tier-1: an in-process LRU map keyed by CacheKey,
// living only for the process lifetime (§4.3.1). Grounded on the teacher's
// TieredGridCache L1, which is also an in-process hashicorp/golang-lru
// fronting a slower tier.
type MemTier struct {
	cache *lru.Cache[cachekey.CacheKey, string]
}

// NewMemTier builds a bounded LRU tier-1. size <= 0 falls back to a sane
// default, matching the teacher's NewTieredGridCache guard.
func NewMemTier(size int) *MemTier {
	if size <= 0 {
		size = 2048
	}
	c, err := lru.New[cachekey.CacheKey, string](size)
	if err != nil {
		// Only returns an error for size <= 0, already guarded above.
		panic(err)
	}
	return &MemTier{cache: c}
}

func (t *MemTier) Get(key cachekey.CacheKey) (string, bool) {
	return t.cache.Get(key)
}

func (t *MemTier) Set(key cachekey.CacheKey, url string) {
	t.cache.Add(key, url)
}

func (t *MemTier) Purge() {
	t.cache.Purge()
}

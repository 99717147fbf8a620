package ccd

import (
	"fmt"

	"github.com/tidwall/buntdb"

	"facecache/internal/cachekey"
)

// PersistTier is the CCD's tier-2: a persistent local key/value store that
// survives process restart (§4.3.1). Grounded on the aistore dbdriver
// BuntDriver (dbdriver/bunt.go), which wraps tidwall/buntdb the same way:
// one embedded, file-backed store, synced to disk on an interval rather
// than on every write.
type PersistTier struct {
	db *buntdb.DB
}

const collection = "preview-url##"

// NewPersistTier opens (creating if absent) the on-device buntdb file at
// path. An empty path opens an in-memory database, useful for tests.
func NewPersistTier(path string) (*PersistTier, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("persist tier: open %s: %w", path, err)
	}
	if err := db.SetConfig(buntdb.Config{SyncPolicy: buntdb.EverySecond}); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist tier: configure: %w", err)
	}
	return &PersistTier{db: db}, nil
}

func (t *PersistTier) Close() error { return t.db.Close() }

func (t *PersistTier) Get(key cachekey.CacheKey) (string, bool, error) {
	var url string
	err := t.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(collection + string(key))
		if err != nil {
			return err
		}
		url = v
		return nil
	})
	if err == buntdb.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return url, true, nil
}

// Set writes url for key. Write failures are the caller's to log and
// tolerate (§4.3.5): the memory tier remains authoritative for the session
// even if this fails.
func (t *PersistTier) Set(key cachekey.CacheKey, url string) error {
	return t.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(collection+string(key), url, nil)
		return err
	})
}

// Clear wipes every entry, for the "after clearing both client tiers"
// scenario in §8.
func (t *PersistTier) Clear() error {
	return t.db.Update(func(tx *buntdb.Tx) error {
		var keys []string
		tx.AscendKeys(collection+"*", func(k, _ string) bool {
			keys = append(keys, k)
			return true
		})
		for _, k := range keys {
			if _, err := tx.Delete(k); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
}

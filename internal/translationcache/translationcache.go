// Package translationcache is a content-addressed disk cache for
// translated text, keyed on a hash of (text, source language, target
// language, mode) so identical retranslation requests across jobs reuse a
// prior result instead of re-calling a paid provider. Grounded on the
// teacher's getJWTSecret temp-write-then-rename pattern (internal/config)
// generalized into a general atomic-write helper, and the
// singleflight.Group usage in base_adapter.go's CheckEnvironmentReady,
// applied here to de-duplicate concurrent lookups for the same key.
package translationcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"videovoice/internal/models"
)

const keyHexLen = 24

// Cache reads and writes translation cache entries under a root directory,
// one file per key.
type Cache struct {
	root    string
	ttl     time.Duration
	group   singleflight.Group
}

func New(root string, ttl time.Duration) *Cache {
	return &Cache{root: root, ttl: ttl}
}

// Key derives the content-addressed cache key for a translation request.
func Key(text, sourceLang, targetLang, mode string) string {
	sum := sha256.Sum256([]byte(text + "|" + sourceLang + "|" + targetLang + "|" + mode))
	return hex.EncodeToString(sum[:])[:keyHexLen]
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.root, key+".json")
}

// Get returns a cached entry if present, not expired, and at or above
// qualityGate. A cache hit below the caller's quality gate is treated as a
// miss so a previously low-scoring translation never silently blocks a
// better retry.
func (c *Cache) Get(key string, qualityGate int) (*models.TranslationCacheEntry, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	var entry models.TranslationCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// corrupt entries are deleted on access so they stop shadowing
		// the key
		_ = os.Remove(c.path(key))
		return nil, false
	}
	if entry.Expired(c.ttl) {
		_ = os.Remove(c.path(key))
		return nil, false
	}
	if entry.QualityGate < qualityGate {
		return nil, false
	}
	return &entry, true
}

// Put atomically writes entry to disk via a temp-file-then-rename, so a
// reader never observes a partially written cache file.
func (c *Cache) Put(entry models.TranslationCacheEntry) error {
	if err := os.MkdirAll(c.root, 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}

	target := c.path(entry.Key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing temp cache file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("renaming temp cache file: %w", err)
	}
	return nil
}

// GetOrTranslate returns a cached entry for key if one satisfies
// qualityGate; otherwise it calls translate exactly once even under
// concurrent callers requesting the same key, caches the result, and
// returns it.
func (c *Cache) GetOrTranslate(key string, qualityGate int, translate func() (models.TranslationCacheEntry, error)) (*models.TranslationCacheEntry, error) {
	if entry, ok := c.Get(key, qualityGate); ok {
		return entry, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		if entry, ok := c.Get(key, qualityGate); ok {
			return entry, nil
		}
		entry, err := translate()
		if err != nil {
			return nil, err
		}
		entry.Key = key
		entry.CreatedAt = time.Now()
		if err := c.Put(entry); err != nil {
			return nil, err
		}
		return &entry, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.TranslationCacheEntry), nil
}

// Invalidate removes a cached entry; removing a key that is not cached is
// not an error.
func (c *Cache) Invalidate(key string) error {
	err := os.Remove(c.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("invalidating cache entry: %w", err)
	}
	return nil
}

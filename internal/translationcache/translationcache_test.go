package translationcache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videovoice/internal/models"
)

func TestKey_DeterministicAndDistinct(t *testing.T) {
	k1 := Key("hello", "en", "fr", "dub")
	k2 := Key("hello", "en", "fr", "dub")
	k3 := Key("hello", "en", "de", "dub")
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, keyHexLen)
}

func TestPutGet_RoundTrip(t *testing.T) {
	cache := New(t.TempDir(), 24*time.Hour)
	key := Key("hello", "en", "fr", "dub")
	entry := models.TranslationCacheEntry{
		Key: key, SourceText: "hello", TargetText: "bonjour",
		SourceLang: "en", TargetLang: "fr", Mode: "dub",
		QualityGate: 70, CreatedAt: time.Now(),
	}
	require.NoError(t, cache.Put(entry))

	got, ok := cache.Get(key, 60)
	require.True(t, ok)
	assert.Equal(t, "bonjour", got.TargetText)
}

func TestGet_MissingKeyIsMiss(t *testing.T) {
	cache := New(t.TempDir(), 24*time.Hour)
	_, ok := cache.Get("nonexistent", 0)
	assert.False(t, ok)
}

func TestGet_BelowQualityGateIsMiss(t *testing.T) {
	cache := New(t.TempDir(), 24*time.Hour)
	key := Key("hello", "en", "fr", "dub")
	entry := models.TranslationCacheEntry{
		Key: key, TargetText: "bonjour", QualityGate: 40, CreatedAt: time.Now(),
	}
	require.NoError(t, cache.Put(entry))

	_, ok := cache.Get(key, 80)
	assert.False(t, ok)
}

func TestGet_ExpiredIsMiss(t *testing.T) {
	cache := New(t.TempDir(), time.Millisecond)
	key := Key("hello", "en", "fr", "dub")
	entry := models.TranslationCacheEntry{
		Key: key, TargetText: "bonjour", QualityGate: 50, CreatedAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, cache.Put(entry))

	_, ok := cache.Get(key, 0)
	assert.False(t, ok)
}

func TestGetOrTranslate_DeduplicatesConcurrentCalls(t *testing.T) {
	cache := New(t.TempDir(), time.Hour)
	key := Key("hello", "en", "fr", "dub")

	var calls int64
	translate := func() (models.TranslationCacheEntry, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return models.TranslationCacheEntry{TargetText: "bonjour", QualityGate: 70}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := cache.GetOrTranslate(key, 50, translate)
			assert.NoError(t, err)
			assert.Equal(t, "bonjour", entry.TargetText)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&calls), int64(2))
}

func TestGetOrTranslate_PropagatesTranslateError(t *testing.T) {
	cache := New(t.TempDir(), time.Hour)
	key := Key("hello", "en", "fr", "dub")
	wantErr := errors.New("provider down")

	_, err := cache.GetOrTranslate(key, 50, func() (models.TranslationCacheEntry, error) {
		return models.TranslationCacheEntry{}, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestInvalidate_RemovesEntry(t *testing.T) {
	cache := New(t.TempDir(), time.Hour)
	key := Key("hello", "en", "fr", "dub")
	require.NoError(t, cache.Put(models.TranslationCacheEntry{Key: key, QualityGate: 50, CreatedAt: time.Now()}))

	require.NoError(t, cache.Invalidate(key))
	_, ok := cache.Get(key, 0)
	assert.False(t, ok)
}

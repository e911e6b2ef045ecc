/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package vaultcache

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCacheBasicOperations(t *testing.T) {
	t.Run("get not existing path", func(t *testing.T) {
		cache, err := New[string](10, nil)
		require.NoError(t, err)

		_, found := cache.Get("notes/missing.md")
		require.False(t, found)
	})

	t.Run("add and get", func(t *testing.T) {
		cache, err := New[string](10, nil)
		require.NoError(t, err)

		cache.Add("notes/todo.md", "- [ ] water plants")
		val, found := cache.Get("notes/todo.md")
		require.True(t, found)
		require.Equal(t, "- [ ] water plants", val)
		require.Equal(t, 1, cache.Len())
	})

	t.Run("add overwrites existing path", func(t *testing.T) {
		cache, err := New[string](10, nil)
		require.NoError(t, err)

		cache.Add("notes/todo.md", "v1")
		cache.Add("notes/todo.md", "v2")
		val, found := cache.Get("notes/todo.md")
		require.True(t, found)
		require.Equal(t, "v2", val)
		require.Equal(t, 1, cache.Len())
	})

	t.Run("get or add", func(t *testing.T) {
		cache, err := New[string](10, nil)
		require.NoError(t, err)

		calls := 0
		provider := func() string {
			calls++
			return "contents"
		}

		val, exists := cache.GetOrAdd("notes/a.md", provider)
		require.False(t, exists)
		require.Equal(t, "contents", val)

		val, exists = cache.GetOrAdd("notes/a.md", provider)
		require.True(t, exists)
		require.Equal(t, "contents", val)
		require.Equal(t, 1, calls)
	})

	t.Run("remove", func(t *testing.T) {
		cache, err := New[string](10, nil)
		require.NoError(t, err)

		cache.Add("notes/a.md", "a")
		require.True(t, cache.Remove("notes/a.md"))
		require.False(t, cache.Remove("notes/a.md"))
		require.Equal(t, 0, cache.Len())
	})

	t.Run("purge", func(t *testing.T) {
		cache, err := New[string](10, nil)
		require.NoError(t, err)

		cache.Add("notes/a.md", "a")
		cache.Add("notes/b.md", "b")
		cache.Purge()
		require.Equal(t, 0, cache.Len())
	})

	t.Run("invalid max entries", func(t *testing.T) {
		_, err := New[string](0, nil)
		require.Error(t, err)
	})
}

func TestCacheEviction(t *testing.T) {
	cache, err := New[string](3, nil)
	require.NoError(t, err)

	cache.Add("a.md", "a")
	cache.Add("b.md", "b")
	cache.Add("c.md", "c")

	// Touch a.md so that b.md becomes the least recently used entry.
	_, found := cache.Get("a.md")
	require.True(t, found)

	cache.Add("d.md", "d")
	require.Equal(t, 3, cache.Len())

	_, found = cache.Get("b.md")
	require.False(t, found)
	for _, path := range []string{"a.md", "c.md", "d.md"} {
		_, found = cache.Get(path)
		require.True(t, found, "expected %s to survive eviction", path)
	}
}

func TestCacheTTL(t *testing.T) {
	t.Run("entry expires", func(t *testing.T) {
		cache, err := NewWithOpts[string](10, nil, Options{DefaultTTL: 20 * time.Millisecond})
		require.NoError(t, err)

		cache.Add("notes/a.md", "a")
		_, found := cache.Get("notes/a.md")
		require.True(t, found)

		time.Sleep(30 * time.Millisecond)
		_, found = cache.Get("notes/a.md")
		require.False(t, found)
		require.Equal(t, 0, cache.Len())
	})

	t.Run("per entry ttl overrides default", func(t *testing.T) {
		cache, err := NewWithOpts[string](10, nil, Options{DefaultTTL: 20 * time.Millisecond})
		require.NoError(t, err)

		cache.AddWithTTL("notes/pinned.md", "pinned", 0)
		time.Sleep(30 * time.Millisecond)
		_, found := cache.Get("notes/pinned.md")
		require.True(t, found)
	})

	t.Run("periodic cleanup removes expired entries", func(t *testing.T) {
		cache, err := New[string](10, nil)
		require.NoError(t, err)

		cache.AddWithTTL("notes/short.md", "short", 10*time.Millisecond)
		cache.AddWithTTL("notes/long.md", "long", time.Hour)
		cache.Add("notes/forever.md", "forever")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go cache.RunPeriodicCleanup(ctx, 5*time.Millisecond)

		require.Eventually(t, func() bool {
			return cache.Len() == 2
		}, time.Second, 5*time.Millisecond)
	})
}

func TestCacheInvalidate(t *testing.T) {
	t.Run("exact path", func(t *testing.T) {
		cache, err := New[string](10, nil)
		require.NoError(t, err)

		var notified []string
		cache.OnInvalidate(func(path string) {
			notified = append(notified, path)
		})

		cache.Add("notes/a.md", "a")
		cache.Add("notes/b.md", "b")

		require.True(t, cache.Invalidate("notes/a.md"))
		require.False(t, cache.Invalidate("notes/missing.md"))
		require.Equal(t, []string{"notes/a.md"}, notified)
		require.Equal(t, 1, cache.Len())
	})

	t.Run("directory", func(t *testing.T) {
		cache, err := New[string](10, nil)
		require.NoError(t, err)

		var mu sync.Mutex
		var notified []string
		cache.OnInvalidate(func(path string) {
			mu.Lock()
			notified = append(notified, path)
			mu.Unlock()
		})

		cache.Add("daily", "listing")
		cache.Add("daily/2026-08-30.md", "yesterday")
		cache.Add("daily/2026-08-31.md", "today")
		cache.Add("dailynotes/other.md", "unrelated")
		cache.Add("projects/plan.md", "plan")

		removed := cache.InvalidateDir("daily/")
		require.Equal(t, 3, removed)
		require.Equal(t, 2, cache.Len())

		// Prefix matching respects path segment boundaries.
		_, found := cache.Get("dailynotes/other.md")
		require.True(t, found)

		sort.Strings(notified)
		require.Equal(t, []string{"daily", "daily/2026-08-30.md", "daily/2026-08-31.md"}, notified)
	})

	t.Run("empty dir invalidates everything", func(t *testing.T) {
		cache, err := New[string](10, nil)
		require.NoError(t, err)

		cache.Add("a.md", "a")
		cache.Add("notes/b.md", "b")
		require.Equal(t, 2, cache.InvalidateDir(""))
		require.Equal(t, 0, cache.Len())
	})

	t.Run("glob pattern", func(t *testing.T) {
		cache, err := New[string](10, nil)
		require.NoError(t, err)

		cache.Add("daily/2026-08-30.md", "a")
		cache.Add("daily/2026-08-31.md", "b")
		cache.Add("daily/index.json", "c")
		cache.Add("projects/plan.md", "d")

		removed := cache.InvalidatePattern("daily/*.md")
		require.Equal(t, 2, removed)
		require.Equal(t, 2, cache.Len())

		_, found := cache.Get("daily/index.json")
		require.True(t, found)
		_, found = cache.Get("projects/plan.md")
		require.True(t, found)
	})

	t.Run("multiple subscribers", func(t *testing.T) {
		cache, err := New[string](10, nil)
		require.NoError(t, err)

		var first, second []string
		cache.OnInvalidate(func(path string) { first = append(first, path) })
		cache.OnInvalidate(func(path string) { second = append(second, path) })

		cache.Add("notes/a.md", "a")
		cache.Invalidate("notes/a.md")
		require.Equal(t, []string{"notes/a.md"}, first)
		require.Equal(t, []string{"notes/a.md"}, second)
	})

	t.Run("subscriber may call back into the cache", func(t *testing.T) {
		cache, err := New[string](10, nil)
		require.NoError(t, err)

		cache.OnInvalidate(func(path string) {
			cache.InvalidateDir("derived/" + path)
		})

		cache.Add("notes/a.md", "a")
		cache.Add("derived/notes/a.md/outline", "outline")

		require.True(t, cache.Invalidate("notes/a.md"))
		require.Equal(t, 0, cache.Len())
	})
}

func TestCacheResize(t *testing.T) {
	cache, err := New[string](5, nil)
	require.NoError(t, err)

	for _, path := range []string{"a.md", "b.md", "c.md", "d.md", "e.md"} {
		cache.Add(path, path)
	}

	evicted := cache.Resize(3)
	require.Equal(t, 2, evicted)
	require.Equal(t, 3, cache.Len())

	// The two oldest entries are gone.
	for _, path := range []string{"a.md", "b.md"} {
		_, found := cache.Get(path)
		require.False(t, found)
	}
	for _, path := range []string{"c.md", "d.md", "e.md"} {
		_, found := cache.Get(path)
		require.True(t, found)
	}
}

func TestCachePrometheusMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()
	cache, err := NewWithOpts[string](2, pm, Options{})
	require.NoError(t, err)

	cache.Add("a.md", "a")
	cache.Add("b.md", "b")
	_, _ = cache.Get("a.md")
	_, _ = cache.Get("missing.md")
	cache.Add("c.md", "c") // evicts b.md

	require.Equal(t, float64(2), testutil.ToFloat64(pm.EntriesAmount.With(nil)))
	require.Equal(t, float64(1), testutil.ToFloat64(pm.HitsTotal.With(nil)))
	require.Equal(t, float64(1), testutil.ToFloat64(pm.MissesTotal.With(nil)))
	require.Equal(t, float64(1), testutil.ToFloat64(pm.EvictionsTotal.With(nil)))
}

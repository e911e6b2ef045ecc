/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package vaultcache provides an in-memory LRU cache for vault resources
// (note contents, directory listings, search results) keyed by vault path.
// Entries may carry a TTL; expired entries are dropped lazily on access or
// during periodic cleanup. The cache supports targeted invalidation by exact
// path, by directory prefix, and by glob pattern, and notifies registered
// subscribers about every invalidated path so that dependent state
// (deduplicated requests, derived indexes) can be flushed as well.
package vaultcache

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vasayxtx/go-glob"
)

type cacheEntry[V any] struct {
	path      string
	value     V
	expiresAt time.Time
}

// InvalidateFunc is called for every path removed from the cache by one of
// the Invalidate* methods. Callbacks are invoked after the cache lock is
// released and must not be assumed to run in any particular order.
type InvalidateFunc func(path string)

// Cache is an LRU cache of vault resources keyed by vault path.
type Cache[V any] struct {
	maxEntries int

	defaultTTL time.Duration

	mu      sync.RWMutex
	lruList *list.List
	cache   map[string]*list.Element // map of cache entries, value is a lruList element

	subsMu      sync.RWMutex
	subscribers []InvalidateFunc

	metricsCollector MetricsCollector
}

// Options represents options for the cache.
type Options struct {
	// DefaultTTL is the default TTL for the cache entries.
	// Please note that expired entries are not removed immediately,
	// but only when they are accessed or during periodic cleanup (see RunPeriodicCleanup).
	DefaultTTL time.Duration
}

// New creates a new Cache with the provided maximum number of entries and metrics collector.
func New[V any](maxEntries int, metricsCollector MetricsCollector) (*Cache[V], error) {
	return NewWithOpts[V](maxEntries, metricsCollector, Options{})
}

// NewWithOpts creates a new Cache with the provided maximum number of entries, metrics collector, and options.
// Metrics collector is used to collect statistics about cache usage.
// It can be nil, in this case, metrics will be disabled.
func NewWithOpts[V any](maxEntries int, metricsCollector MetricsCollector, opts Options) (*Cache[V], error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("maxEntries must be greater than 0")
	}
	if opts.DefaultTTL < 0 {
		return nil, fmt.Errorf("defaultTTL must be greater or equal to 0 (no expiration)")
	}
	if metricsCollector == nil {
		metricsCollector = disabledMetrics{}
	}

	return &Cache[V]{
		maxEntries:       maxEntries,
		lruList:          list.New(),
		cache:            make(map[string]*list.Element),
		metricsCollector: metricsCollector,
		defaultTTL:       opts.DefaultTTL,
	}, nil
}

// Get returns a value from the cache by the provided vault path.
func (c *Cache[V]) Get(path string) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(path)
}

// Add adds a value to the cache under the provided vault path.
// If the cache is full, the least recently used entry will be removed.
func (c *Cache[V]) Add(path string, value V) {
	c.AddWithTTL(path, value, c.defaultTTL)
}

// AddWithTTL adds a value to the cache under the provided vault path with the given TTL.
// If the cache is full, the least recently used entry will be removed.
// Please note that expired entries are not removed immediately,
// but only when they are accessed or during periodic cleanup (see RunPeriodicCleanup).
func (c *Cache[V]) AddWithTTL(path string, value V, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[path]; ok {
		c.lruList.MoveToFront(elem)
		elem.Value = &cacheEntry[V]{path: path, value: value, expiresAt: expiresAt}
		return
	}
	c.addNew(path, value, expiresAt)
}

// GetOrAdd returns a value from the cache by the provided vault path.
// If the path is not cached, it adds a new value produced by valueProvider.
func (c *Cache[V]) GetOrAdd(path string, valueProvider func() V) (value V, exists bool) {
	return c.GetOrAddWithTTL(path, valueProvider, c.defaultTTL)
}

// GetOrAddWithTTL returns a value from the cache by the provided vault path.
// If the path is not cached, it adds a new value produced by valueProvider with the given TTL.
func (c *Cache[V]) GetOrAddWithTTL(path string, valueProvider func() V, ttl time.Duration) (value V, exists bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if value, exists = c.get(path); exists {
		return value, exists
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	value = valueProvider()
	c.addNew(path, value, expiresAt)
	return value, false
}

// Remove removes a value from the cache by the provided vault path.
// Unlike Invalidate, it does not notify subscribers.
func (c *Cache[V]) Remove(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.cache[path]
	if !ok {
		return false
	}

	c.lruList.Remove(elem)
	delete(c.cache, path)
	c.metricsCollector.SetAmount(len(c.cache))
	return true
}

// Invalidate removes the entry for the provided vault path and notifies subscribers.
// It reports whether the path was cached.
func (c *Cache[V]) Invalidate(path string) bool {
	removed := c.Remove(path)
	if removed {
		c.notify([]string{path})
	}
	return removed
}

// InvalidateDir removes all entries whose path lies under the provided directory
// and notifies subscribers. The directory itself is removed too if it is cached
// (directory listings are cached under their own path). It returns the number
// of removed entries. An empty dir invalidates the whole cache.
func (c *Cache[V]) InvalidateDir(dir string) int {
	dir = strings.TrimSuffix(dir, "/")
	return c.invalidateMatching(func(path string) bool {
		if dir == "" {
			return true
		}
		return path == dir || strings.HasPrefix(path, dir+"/")
	})
}

// InvalidatePattern removes all entries whose path matches the provided glob
// pattern (e.g. "daily/*.md") and notifies subscribers. It returns the number
// of removed entries.
func (c *Cache[V]) InvalidatePattern(pattern string) int {
	return c.invalidateMatching(glob.Compile(pattern))
}

// OnInvalidate registers a subscriber that is called for every path removed
// by the Invalidate* methods.
func (c *Cache[V]) OnInvalidate(fn InvalidateFunc) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// Purge clears the cache.
// Keep in mind that this method does not reset the cache size
// and does not reset Prometheus metrics except for the total number of entries.
// All removed entries will not be counted as evictions, and subscribers are not notified.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metricsCollector.SetAmount(0)
	c.cache = make(map[string]*list.Element)
	c.lruList.Init()
}

// Resize changes the cache size and returns the number of evicted entries.
func (c *Cache[V]) Resize(size int) (evicted int) {
	if size <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.maxEntries = size
	evicted = len(c.cache) - size
	if evicted <= 0 {
		return
	}
	for i := 0; i < evicted; i++ {
		_ = c.removeOldest()
	}
	c.metricsCollector.SetAmount(len(c.cache))
	c.metricsCollector.AddEvictions(evicted)
	return evicted
}

// Len returns the number of items in the cache.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func (c *Cache[V]) get(path string) (value V, ok bool) {
	elem, hit := c.cache[path]
	if !hit {
		c.metricsCollector.IncMisses()
		return value, false
	}
	entry := elem.Value.(*cacheEntry[V])
	if !entry.expiresAt.IsZero() && entry.expiresAt.Before(time.Now()) {
		c.lruList.Remove(elem)
		delete(c.cache, path)
		c.metricsCollector.SetAmount(len(c.cache))
		c.metricsCollector.IncMisses()
		return value, false
	}
	c.lruList.MoveToFront(elem)
	c.metricsCollector.IncHits()
	return entry.value, true
}

func (c *Cache[V]) addNew(path string, value V, expiresAt time.Time) {
	c.cache[path] = c.lruList.PushFront(&cacheEntry[V]{path: path, value: value, expiresAt: expiresAt})
	if len(c.cache) <= c.maxEntries {
		c.metricsCollector.SetAmount(len(c.cache))
		return
	}
	if evictedEntry := c.removeOldest(); evictedEntry != nil {
		c.metricsCollector.AddEvictions(1)
	}
}

func (c *Cache[V]) removeOldest() *cacheEntry[V] {
	elem := c.lruList.Back()
	if elem == nil {
		return nil
	}
	c.lruList.Remove(elem)
	entry := elem.Value.(*cacheEntry[V])
	delete(c.cache, entry.path)
	return entry
}

func (c *Cache[V]) invalidateMatching(match func(path string) bool) int {
	var removed []string

	c.mu.Lock()
	for path, elem := range c.cache {
		if match(path) {
			c.lruList.Remove(elem)
			delete(c.cache, path)
			removed = append(removed, path)
		}
	}
	if len(removed) != 0 {
		c.metricsCollector.SetAmount(len(c.cache))
	}
	c.mu.Unlock()

	c.notify(removed)
	return len(removed)
}

// notify is called without the cache lock held so that subscribers may call back into the cache.
func (c *Cache[V]) notify(paths []string) {
	if len(paths) == 0 {
		return
	}
	c.subsMu.RLock()
	subs := c.subscribers
	c.subsMu.RUnlock()
	for _, fn := range subs {
		for _, path := range paths {
			fn(path)
		}
	}
}

// RunPeriodicCleanup runs a cycle of periodic cleanup of expired entries.
// Entries without expiration time are not affected.
// It's supposed to be run in a separate goroutine.
func (c *Cache[V]) RunPeriodicCleanup(ctx context.Context, cleanupInterval time.Duration) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for path, elem := range c.cache {
				entry := elem.Value.(*cacheEntry[V])
				if !entry.expiresAt.IsZero() && entry.expiresAt.Before(now) {
					c.lruList.Remove(elem)
					delete(c.cache, path)
				}
			}
			c.metricsCollector.SetAmount(len(c.cache))
			c.mu.Unlock()
		}
	}
}

package searchclient

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/connexus-ai/kmemory/internal/model"
)

// ResultCache caches Search results keyed by (index, query, filters,
// minRelevance, limit). Entries expire after ttl. Adapted from the
// teacher's internal/cache/query.go QueryCache, generalized from its
// (userID, query, privilegeMode) key to kmemory's filterless-auth search
// signature and from service.RetrievalResult to []Source.
type ResultCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	stopCh  chan struct{}
}

type cacheEntry struct {
	sources   []Source
	expiresAt time.Time
}

// NewResultCache creates a ResultCache and starts its background eviction
// goroutine. Stop must be called to release it.
func NewResultCache(ttl time.Duration) *ResultCache {
	c := &ResultCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		stopCh:  make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Stop halts the background eviction goroutine.
func (c *ResultCache) Stop() {
	close(c.stopCh)
}

func (c *ResultCache) get(key string) ([]Source, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.sources, true
}

func (c *ResultCache) set(key string, sources []Source) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{sources: sources, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// InvalidateIndex drops every cached entry for the given index. Call this
// after a pipeline writes new records into that index so search results
// don't go stale for the cache's ttl.
func (c *ResultCache) InvalidateIndex(index string) {
	prefix := "sc:" + index + ":"
	c.mu.Lock()
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

func (c *ResultCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

func searchCacheKey(index, query string, filters []model.MemoryFilter, minRelevance float64, limit int) string {
	h := sha256.New()
	h.Write([]byte(query))
	for _, f := range filters {
		fmt.Fprintf(h, "|%v", f)
	}
	return fmt.Sprintf("sc:%s:%x:%v:%d", index, h.Sum(nil)[:8], minRelevance, limit)
}

// CachingClient decorates Client.Search with a ResultCache. Ask and List
// are passed straight through to the embedded Client, since Ask's answer
// is per-call-unique and List is unranked and cheap already.
type CachingClient struct {
	*Client
	Cache *ResultCache
}

// Search returns a cached result when available, otherwise delegates to
// the embedded Client and caches the outcome.
func (c *CachingClient) Search(ctx context.Context, index, query string, filters []model.MemoryFilter, minRelevance float64, limit int) ([]Source, error) {
	key := searchCacheKey(index, query, filters, minRelevance, limit)
	if cached, ok := c.Cache.get(key); ok {
		return cached, nil
	}

	sources, err := c.Client.Search(ctx, index, query, filters, minRelevance, limit)
	if err != nil {
		return nil, err
	}
	c.Cache.set(key, sources)
	return sources, nil
}

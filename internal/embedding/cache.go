package embedding

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL is the teacher's default query-embedding cache lifetime
// (internal/cache/embedding.go DefaultEmbeddingTTL, absent its env override
// — config.Config owns env loading here instead).
const DefaultCacheTTL = 15 * time.Minute

type cacheEntry struct {
	vec       []float32
	createdAt time.Time
	expiresAt time.Time
}

// CachingGenerator wraps a Generator with a TTL cache keyed by normalized
// query text, so repeated/similar retrieval queries skip the embedding
// call entirely. Ported from the teacher's internal/cache/embedding.go
// (EmbeddingCache), generalized from a standalone cache object consulted
// manually by callers into a Generator decorator any caller can drop in.
type CachingGenerator struct {
	inner Generator
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]*cacheEntry
	stopCh  chan struct{}
}

// NewCachingGenerator wraps inner with a TTL cache and starts the background
// cleanup goroutine (stop it with Close).
func NewCachingGenerator(inner Generator, ttl time.Duration) *CachingGenerator {
	c := &CachingGenerator{
		inner:   inner,
		ttl:     ttl,
		entries: map[string]*cacheEntry{},
		stopCh:  make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

func (c *CachingGenerator) Dimensions() int   { return c.inner.Dimensions() }
func (c *CachingGenerator) ModelName() string { return c.inner.ModelName() }

// Embed checks the cache per-text, only calling the wrapped Generator for
// misses, and populates the cache with the fresh results.
func (c *CachingGenerator) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		key := queryHash(text)
		if vec, ok := c.get(key); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		out[idx] = vectors[j]
		c.set(queryHash(missTexts[j]), vectors[j])
	}
	return out, nil
}

func (c *CachingGenerator) get(key string) ([]float32, bool) {
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
	slog.Info("embedding cache hit", "query_hash", key, "age_ms", time.Since(entry.createdAt).Milliseconds())
	return entry.vec, true
}

func (c *CachingGenerator) set(key string, vec []float32) {
	now := time.Now()
	c.mu.Lock()
	c.entries[key] = &cacheEntry{vec: vec, createdAt: now, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
}

// Len reports the number of cached entries.
func (c *CachingGenerator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the background cleanup goroutine.
func (c *CachingGenerator) Close() {
	close(c.stopCh)
}

func (c *CachingGenerator) cleanupLoop() {
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

// queryHash is a deterministic cache key for a query string, normalized by
// lowercasing and trimming whitespace before hashing.
func queryHash(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("emb:%x", h[:16])
}

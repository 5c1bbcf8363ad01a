package dialogue

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/text/cases"

	"github.com/MrWong99/npcmind/pkg/pattern"
)

// Cache stores finished responses by [CacheKey]. Errors are reported but the
// engine treats them as misses; a cache is never required for correctness.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Clear(ctx context.Context) error
}

// CacheKey is the cache key of input within the conversation conversationID.
// Inputs that differ only in case, punctuation or spacing share a key.
func CacheKey(conversationID, input string) string {
	return conversationID + ":" + cases.Fold().String(pattern.Normalize(input))
}

// MemoryCache is an in-process [Cache]. When it is full, the oldest half of
// the entries is evicted before the next insert.
type MemoryCache struct {
	mu      sync.RWMutex
	max     int
	entries map[string]string
	order   []string
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache returns a cache holding at most maxSize entries. A
// non-positive maxSize means unbounded.
func NewMemoryCache(maxSize int) *MemoryCache {
	return &MemoryCache{max: maxSize, entries: make(map[string]string)}
}

// Get implements [Cache].
func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

// Set implements [Cache].
func (c *MemoryCache) Set(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.entries[key] = value
		return nil
	}
	if c.max > 0 && len(c.entries) >= c.max {
		c.evictLocked(max(len(c.order)/2, 1))
	}
	c.entries[key] = value
	c.order = append(c.order, key)
	return nil
}

func (c *MemoryCache) evictLocked(n int) {
	for _, k := range c.order[:n] {
		delete(c.entries, k)
	}
	c.order = slices.Delete(c.order, 0, n)
}

// Clear implements [Cache].
func (c *MemoryCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	c.order = c.order[:0]
	return nil
}

// SetMaxSize changes the capacity. Shrinking below the current size evicts
// the oldest entries.
func (c *MemoryCache) SetMaxSize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.max = n
	if over := len(c.order) - n; n > 0 && over > 0 {
		c.evictLocked(over)
	}
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

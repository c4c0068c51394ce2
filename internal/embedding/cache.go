package embedding

import (
	"container/list"
	"sync"

	"github.com/hyperjump/hybridkb/internal/models"
)

// EmbeddingCache is an LRU cache of query embeddings keyed by provider and text.
type EmbeddingCache struct {
	capacity int
	cache    map[cacheKey]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheKey struct {
	provider models.Provider
	text     string
}

type cacheEntry struct {
	key   cacheKey
	value []float32
}

// NewEmbeddingCache creates a cache holding at most capacity vectors. A capacity of zero
// or less disables caching.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		cache:    make(map[cacheKey]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached vector for text under provider.
func (c *EmbeddingCache) Get(provider models.Provider, text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[cacheKey{provider, text}]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return nil, false
}

// Set stores the vector, evicting the least recently used entry when full.
func (c *EmbeddingCache) Set(provider models.Provider, text string, value []float32) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{provider, text}
	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	c.cache[key] = c.lru.PushFront(&cacheEntry{key: key, value: value})
	if c.lru.Len() > c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
}

// Purge drops every entry for provider.
func (c *EmbeddingCache) Purge(provider models.Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, elem := range c.cache {
		if key.provider == provider {
			c.lru.Remove(elem)
			delete(c.cache, key)
		}
	}
}

// Len returns the number of cached vectors.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

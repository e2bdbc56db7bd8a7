package embeddings

import (
	"hash/fnv"
	"sync"
)

// vectorCache is a bounded process-local cache of embeddings keyed by a hash
// of the exact input text. Eviction is oldest-insertion-first, not LRU: a hit
// does not refresh an entry's position. Safe for concurrent use.
type vectorCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[uint64][]float32
	order    []uint64
}

func newVectorCache(capacity int) *vectorCache {
	return &vectorCache{
		capacity: capacity,
		entries:  make(map[uint64][]float32, capacity),
	}
}

// cacheKey hashes text with FNV-1a. Exact string match semantics only.
func cacheKey(text string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return h.Sum64()
}

func (c *vectorCache) get(key uint64) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

// put stores a vector and evicts the single oldest-inserted entry if the
// cache is over capacity. Storing an existing key overwrites the vector
// without changing the key's insertion position.
func (c *vectorCache) put(key uint64, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = vector
		return
	}

	c.entries[key] = vector
	c.order = append(c.order, key)

	if len(c.entries) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *vectorCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

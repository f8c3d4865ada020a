package embedding

import "sync"

// textCacheNode is one entry in the cache's intrusive recency list.
type textCacheNode struct {
	key        string
	vec        []float32
	prev, next *textCacheNode
}

// EmbeddingCache caches text embeddings keyed by the query string. Activity
// and semantic queries repeat the same descriptions often; a hit skips the
// text tower entirely. The least recently used entry is evicted at capacity.
type EmbeddingCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*textCacheNode
	head     *textCacheNode // most recently used
	tail     *textCacheNode // next to evict
}

// NewEmbeddingCache creates a cache holding up to capacity embeddings.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		entries:  make(map[string]*textCacheNode, capacity),
	}
}

// Get returns the cached embedding for key and marks it recently used.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.touch(n)
	return n.vec, true
}

// Set stores the embedding for key, evicting the least recently used entry
// when the cache is full.
func (c *EmbeddingCache) Set(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.entries[key]; ok {
		n.vec = vec
		c.touch(n)
		return
	}
	n := &textCacheNode{key: key, vec: vec}
	c.entries[key] = n
	c.pushFront(n)
	if len(c.entries) > c.capacity {
		c.evictOldest()
	}
}

// Len returns the number of cached embeddings.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *EmbeddingCache) touch(n *textCacheNode) {
	if c.head == n {
		return
	}
	c.unlink(n)
	c.pushFront(n)
}

func (c *EmbeddingCache) pushFront(n *textCacheNode) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *EmbeddingCache) unlink(n *textCacheNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (c *EmbeddingCache) evictOldest() {
	oldest := c.tail
	if oldest == nil {
		return
	}
	c.unlink(oldest)
	delete(c.entries, oldest.key)
}

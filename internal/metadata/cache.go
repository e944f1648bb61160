package metadata

import "sync"

// Cache is the process-wide read-through cache of parsed documents, keyed
// by root. Entries never expire; they are replaced by Set or dropped by
// Invalidate. Every Set and Invalidate bumps the root's generation so a
// cold load that raced with a writer can detect that it is stale.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Document
	gens    map[string]uint64
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*Document),
		gens:    make(map[string]uint64),
	}
}

// Get returns the cached document for root.
func (c *Cache) Get(root string) (*Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.entries[root]
	return doc, ok
}

// Set replaces the cached document for root wholesale.
func (c *Cache) Set(root string, doc *Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[root] = doc
	c.gens[root]++
}

// Invalidate drops the cached document so the next Get misses.
func (c *Cache) Invalidate(root string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, root)
	c.gens[root]++
}

// Generation returns the current generation for root.
func (c *Cache) Generation(root string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[root]
}

// SetIfGeneration stores doc only when no Set or Invalidate happened since
// gen was read. It reports whether the document was stored.
func (c *Cache) SetIfGeneration(root string, doc *Document, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[root] != gen {
		return false
	}
	c.entries[root] = doc
	c.gens[root]++
	return true
}

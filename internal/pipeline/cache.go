package pipeline

import "sync"

// Cache keeps manifests that were already read or written, keyed by
// manifest path.
type Cache struct {
	data map[string]*Manifest
	mu   sync.Mutex

	// Stats
	hits   int
	misses int
}

// NewCache creates a new cache.
func NewCache() *Cache {
	return &Cache{
		data: make(map[string]*Manifest),
	}
}

// Get returns the manifest stored under key if it was produced from a
// source of sourceSize bytes.
func (c *Cache) Get(key string, sourceSize int64) (*Manifest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.data[key]
	if ok && m.SourceSize == sourceSize {
		c.hits++
		return m, true
	}
	c.misses++
	return nil, false
}

// Set stores a manifest.
func (c *Cache) Set(key string, m *Manifest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = m
}

// Delete drops a manifest.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Stats returns cache statistics.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

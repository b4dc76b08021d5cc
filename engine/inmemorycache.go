package engine

import (
	"sync"
	"time"
)

// InMemoryDocumentCache is a simple in-memory implementation of
// DocumentCache. Thread-safe for concurrent access. Documents are
// immutable, so Get hands out the cached pointer directly.
type InMemoryDocumentCache struct {
	doc      *RuleDocument
	cachedAt time.Time
	config   CacheConfig
	isValid  bool
	mu       sync.RWMutex
}

// NewInMemoryDocumentCache creates a new in-memory document cache.
func NewInMemoryDocumentCache(config CacheConfig) *InMemoryDocumentCache {
	return &InMemoryDocumentCache{config: config}
}

// Get retrieves the cached document, nil if invalid or expired.
func (c *InMemoryDocumentCache) Get() *RuleDocument {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isValid {
		return nil
	}
	if c.config.TTL > 0 && time.Since(c.cachedAt) > c.config.TTL {
		return nil
	}
	return c.doc
}

// Set stores a document in the cache.
func (c *InMemoryDocumentCache) Set(doc *RuleDocument) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.doc = doc
	c.cachedAt = time.Now()
	c.isValid = true
}

// Invalidate clears the cache.
func (c *InMemoryDocumentCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isValid = false
	c.doc = nil
}

// IsValid returns true if the cache contains valid data.
func (c *InMemoryDocumentCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isValid {
		return false
	}
	if c.config.TTL > 0 {
		return time.Since(c.cachedAt) <= c.config.TTL
	}
	return true
}

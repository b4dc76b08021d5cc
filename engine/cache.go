package engine

import "time"

// DocumentCache provides an abstraction for caching the active rule
// document between store lookups. This allows swapping between
// in-memory, Redis, or other caching implementations.
type DocumentCache interface {
	// Get retrieves the cached document, nil on miss or expiry.
	Get() *RuleDocument

	// Set stores a document in the cache.
	Set(doc *RuleDocument)

	// Invalidate clears the cache, forcing a store read on next Get.
	Invalidate()

	// IsValid returns true if the cache has valid data.
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior.
type CacheConfig struct {
	// TTL is the time-to-live for the cached document.
	// Set to 0 for no expiration (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for document caching.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0, // invalidate on activation only
	}
}

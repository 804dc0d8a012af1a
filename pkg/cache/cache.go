package cache

import (
	"time"
)

// Cache is a bounded key/value store with optional per-entry expiry.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Put(key K, value V, ttl time.Duration)
	Delete(key K) bool
	Len() int
	Purge()
	StartCleanup(interval time.Duration)
	StopCleanup()
}

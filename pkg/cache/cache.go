// Package cache provides bounded-staleness key/value caching for
// conversation snapshots and NLU predictions. The orchestrator only
// requires get/set with optional expiry; eviction policy belongs to the
// backend.
package cache

import (
	"context"
	"errors"
)

// ErrCacheClosed is returned when operating on a closed cache.
var ErrCacheClosed = errors.New("cache is closed")

// Cache abstracts a key/value store with optional expiry.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves a value. The second return reports whether the key
	// was present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value under the backend's configured TTL.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the cache.
	Close() error
}

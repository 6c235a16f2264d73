package cache

import (
	"context"
	"time"
)

// Store is the TTL key-value surface shared by the rate limiter, the
// permission resolver cache and refresh-session lookups. Implementations
// must treat an expired key as absent.
type Store interface {
	// IncrementWithTTL bumps a counter, starting the window on first use,
	// and reports the new count plus the time left in the window.
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value and whether a live entry exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Delete removes the given keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

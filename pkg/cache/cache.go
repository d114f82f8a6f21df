package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key does not exist or has expired.
var ErrCacheMiss = errors.New("cache miss")

// Cache is the durability layer shared by the engine components.
// Values are JSON-encoded so every implementation behaves like Redis.
type Cache interface {
	// Set stores value under key. A zero ttl means no expiration.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Get decodes the stored value into target, or returns ErrCacheMiss.
	Get(ctx context.Context, key string, target interface{}) error
	Delete(ctx context.Context, key string) error
	// Incr atomically increments the integer stored at key, starting from 0.
	Incr(ctx context.Context, key string) (int64, error)
	// Keys lists keys matching a glob pattern such as "recovery:request:*".
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// Expirer reports how long a key has left to live.
// A zero duration means the key never expires; a missing key yields ErrCacheMiss.
type Expirer interface {
	TTL(ctx context.Context, key string) (time.Duration, error)
}

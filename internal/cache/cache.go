// Package cache provides a minimal string cache contract plus a Redis
// implementation, used as a read-through layer in front of the channel
// preference repository. Cache failures must never fail a delivery;
// callers degrade to the repository on any error.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss indicates the key is not present.
var ErrMiss = errors.New("cache miss")

// Cache is a minimal TTL'd string cache.
type Cache interface {
	Set(ctx context.Context, key, val string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis implements Cache on a single Redis instance.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to addr and verifies the connection with a short ping
// retry loop, so a slow-starting Redis container does not fail boot.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var pingErr error
	for range 5 {
		if pingErr = client.Ping(ctx).Err(); pingErr == nil {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if pingErr != nil {
		return nil, fmt.Errorf("ping redis: %w", pingErr)
	}
	return &Redis{client: client}, nil
}

// Set stores val under key with the given TTL.
func (r *Redis) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	return r.client.Set(ctx, key, val, ttl).Err()
}

// Get returns the value for key, or ErrMiss.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return v, err
}

// Del removes key; missing keys are not an error.
func (r *Redis) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error { return r.client.Close() }

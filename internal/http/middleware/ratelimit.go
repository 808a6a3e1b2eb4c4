// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the per-caller token-bucket rate limiter guarding the
// delivery API. Buckets are keyed by the sender service's gateway key when
// one is presented, otherwise by client IP, and live in process memory; a
// horizontally scaled deployment that needs a global limit should put a
// shared limiter (e.g. Redis-backed) in front instead.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc maps a request to the identity whose bucket it consumes. The
// returned key must be stable for the duration of the request.
type keyFunc func(*gin.Context) string

// KeyBySenderOrIP keys buckets by the X-API-Key header sender services
// authenticate with, falling back to the client IP for unauthenticated
// callers (health probes, misconfigured clients). Keys are prefixed so the
// two namespaces cannot collide.
func KeyBySenderOrIP() keyFunc {
	return func(c *gin.Context) string {
		if k := c.GetHeader("X-API-Key"); k != "" {
			return "key:" + k
		}
		return "ip:" + c.ClientIP()
	}
}

// bucket pairs a caller's limiter with its last activity, so idle callers
// can be evicted.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a token bucket per caller identity. Buckets are
// created on demand; callers idle for longer than the TTL are swept out on
// the next lookup after a TTL interval has elapsed, bounding memory without
// a background goroutine. Safe for concurrent use.
type RateLimiter struct {
	limit rate.Limit
	burst int
	keyFn keyFunc

	mu        sync.Mutex
	buckets   map[string]*bucket
	ttl       time.Duration
	lastSweep time.Time
}

// NewRateLimiter builds a limiter replenishing rps tokens per second with
// the given burst capacity. A burst below 1 is coerced to 1 so a positive
// rps can still admit requests.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:     rate.Limit(rps),
		burst:     burst,
		keyFn:     keyFn,
		buckets:   make(map[string]*bucket),
		ttl:       10 * time.Minute,
		lastSweep: time.Now(),
	}
}

// take returns the limiter for key, creating the bucket on first sight.
// The sweep runs before the lookup touches the bucket so a stale entry for
// the requested key is evicted rather than refreshed.
func (rl *RateLimiter) take(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.ttl {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	b := &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst), lastSeen: now}
	rl.buckets[key] = b
	return b.limiter
}

// Handler returns the Gin middleware. Requests that exhaust their bucket
// get a 429 with Retry-After and the standard error envelope; everything
// else proceeds untouched.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.take(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}

		rid, _ := c.Get(requestIDKey)
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": asString(rid),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}

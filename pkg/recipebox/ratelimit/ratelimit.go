// Package ratelimit provides a keyed token bucket limiter and a gin middleware
// that applies it per client IP.
package ratelimit

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/mikepea/recipebox/pkg/recipebox/apperr"
)

// KeyedRateLimiter manages per-key rate limiting.
// Each unique key gets its own independent limiter.
type KeyedRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter allowing perInterval requests every interval per key,
// with bursts up to burst.
func New(perInterval int, interval time.Duration, burst int) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Limit(float64(perInterval) / interval.Seconds()),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

// Allow reports whether a request for key may proceed now.
func (krl *KeyedRateLimiter) Allow(key string) bool {
	krl.mu.Lock()
	defer krl.mu.Unlock()

	now := krl.now()
	e, ok := krl.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(krl.limit, krl.burst)}
		krl.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Prune drops limiters not used within the idle TTL and returns how many
// were removed. A dropped key starts again with a full bucket.
func (krl *KeyedRateLimiter) Prune() int {
	krl.mu.Lock()
	defer krl.mu.Unlock()

	cutoff := krl.now().Add(-krl.idleTTL)
	removed := 0
	for key, e := range krl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(krl.limiters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (krl *KeyedRateLimiter) Len() int {
	krl.mu.Lock()
	defer krl.mu.Unlock()
	return len(krl.limiters)
}

// Rejecter is notified of each rejected request.
type Rejecter interface {
	RateLimitRejected()
}

// Middleware rejects requests with 429 once the client IP exceeds its limit.
// onReject may be nil.
func Middleware(limiter *KeyedRateLimiter, onReject Rejecter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			if onReject != nil {
				onReject.RateLimitRejected()
			}
			c.Header("Retry-After", "60")
			apperr.Respond(c, apperr.RateLimited("Too many requests. Please try again later."))
			return
		}
		c.Next()
	}
}

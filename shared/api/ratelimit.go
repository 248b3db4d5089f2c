// shared/api/ratelimit.go
package api

import (
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures a token bucket shared by every caller.
type RateLimiterConfig struct {
	// Capacity is the bucket size, the largest burst allowed
	Capacity int
	// RefillTokens tokens are added every RefillInterval
	RefillTokens   int
	RefillInterval time.Duration
}

// DefaultRateLimiterConfig returns 100 tokens refilled at 100 per second.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Capacity:       100,
		RefillTokens:   100,
		RefillInterval: time.Second,
	}
}

// RateLimiter is a global token bucket guarding the ingest endpoints.
type RateLimiter struct {
	limiter *rate.Limiter
	// OnReject is called for every rejected request, if set.
	OnReject func(r *http.Request)
}

// NewRateLimiter creates a rate limiter from cfg.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	perSecond := float64(cfg.RefillTokens) / cfg.RefillInterval.Seconds()
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), cfg.Capacity),
	}
}

// Allow consumes one token if available.
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// retryAfter is the time until one token is available again, in whole seconds.
func (rl *RateLimiter) retryAfter() int {
	secs := int(1 / float64(rl.limiter.Limit()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Middleware returns an HTTP middleware that applies rate limiting.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow() {
			if rl.OnReject != nil {
				rl.OnReject(r)
			}
			w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfter()))
			WriteError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

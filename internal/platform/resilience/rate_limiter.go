package resilience

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter paces outbound requests with a token bucket
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiterFromRPM creates a rate limiter from requests per minute.
// A non-positive rpm returns nil, which allows everything.
func NewRateLimiterFromRPM(requestsPerMinute int, burst int) *RateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst),
	}
}

// Allow checks if a request is allowed without blocking
func (rl *RateLimiter) Allow() bool {
	if rl == nil {
		return true
	}
	return rl.limiter.Allow()
}

// Wait blocks until a token is available or context is cancelled
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	return rl.limiter.Wait(ctx)
}

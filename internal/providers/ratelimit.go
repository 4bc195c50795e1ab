package providers

import (
	"context"
	"sync"
	"time"
)

// DefaultRequestsPerMinute applies when no rate limit is configured.
const DefaultRequestsPerMinute = 150

// RateLimiter is a token bucket refilled continuously at a per-minute rate.
// A throttling response from the provider empties the bucket and can pause
// it outright until the provider's Retry-After has passed.
type RateLimiter struct {
	mu sync.Mutex

	perSecond float64
	capacity  float64

	tokens      float64
	refilledAt  time.Time
	pausedUntil time.Time

	now func() time.Time
}

// NewRateLimiter returns a limiter that starts full.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	r := &RateLimiter{
		perSecond: float64(requestsPerMinute) / 60,
		capacity:  float64(requestsPerMinute),
		now:       time.Now,
	}
	r.tokens = r.capacity
	r.refilledAt = r.now()
	return r
}

// Wait blocks until a request may be sent.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		d := r.reserve()
		if d <= 0 {
			return nil
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// reserve takes a token and returns zero, or returns how long to wait
// before asking again.
func (r *RateLimiter) reserve() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Before(r.pausedUntil) {
		return r.pausedUntil.Sub(now)
	}
	r.tokens += now.Sub(r.refilledAt).Seconds() * r.perSecond
	if r.tokens > r.capacity {
		r.tokens = r.capacity
	}
	r.refilledAt = now

	if r.tokens >= 1 {
		r.tokens--
		return 0
	}
	missing := 1 - r.tokens
	return time.Duration(missing / r.perSecond * float64(time.Second))
}

// Record429 drains the bucket after the provider throttled a request.
func (r *RateLimiter) Record429(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tokens = 0
	if retryAfter > 0 {
		r.pausedUntil = r.now().Add(retryAfter)
	}
}

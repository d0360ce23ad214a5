package infra

import (
	"sync"
	"time"
)

// RateLimiter implements a token bucket. Thread-safe; one instance per API
// category is shared by all callers.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a limiter with the given burst size and refill rate.
func NewRateLimiter(maxRequests int, perSecond float64) *RateLimiter {
	return &RateLimiter{
		tokens:     float64(maxRequests),
		maxTokens:  float64(maxRequests),
		refillRate: perSecond,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available.
func (r *RateLimiter) Wait() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	for r.tokens < 1 {
		wait := time.Duration(float64(time.Second) / r.refillRate)
		r.mu.Unlock()
		time.Sleep(wait)
		r.mu.Lock()
		r.refill()
	}
	r.tokens--
}

// TryAcquire attempts to take a token without blocking.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// refill adds tokens based on elapsed time. Caller holds the mutex.
func (r *RateLimiter) refill() {
	now := time.Now()
	r.tokens += now.Sub(r.lastRefill).Seconds() * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefill = now
}

// KIS rate limits: the real-trading endpoints allow 20 req/s per account, the
// paper-trading (virtual) endpoints only 2 req/s. Conservative buckets below
// those ceilings avoid broker-side throttling.
var (
	kisRealLimiter    *RateLimiter
	kisVirtualLimiter *RateLimiter
	kisLimiterOnce    sync.Once
)

// KISLimiter returns the shared rate limiter for KIS REST calls.
func KISLimiter(virtual bool) *RateLimiter {
	kisLimiterOnce.Do(func() {
		kisRealLimiter = NewRateLimiter(10, 15)
		kisVirtualLimiter = NewRateLimiter(2, 1.5)
	})
	if virtual {
		return kisVirtualLimiter
	}
	return kisRealLimiter
}

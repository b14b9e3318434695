package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
)

// ErrRateLimitExceeded is returned when no token became available in time.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// TokenBucket throttles backend calls per key. Each key owns a bucket of
// capacity tokens that refills one token per refillRate.
type TokenBucket struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int
	refillRate time.Duration
	maxWait    time.Duration // how long Acquire may block for a token
	now        func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewTokenBucket creates a limiter. maxWait zero makes Acquire fail fast.
func NewTokenBucket(capacity int, refillRate, maxWait time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = time.Second
	}
	return &TokenBucket{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
		maxWait:    maxWait,
		now:        time.Now,
	}
}

// Acquire takes one token for key, waiting up to maxWait for a refill.
// The returned release is a no-op; tokens come back only through refill.
func (tb *TokenBucket) Acquire(ctx context.Context, key string) (release func(), err error) {
	deadline := tb.now().Add(tb.maxWait)
	for {
		wait, ok := tb.take(key)
		if ok {
			return func() {}, nil
		}
		if tb.maxWait <= 0 || tb.now().Add(wait).After(deadline) {
			return nil, ErrRateLimitExceeded
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// take consumes a token, or reports how long until the next refill.
func (tb *TokenBucket) take(key string) (time.Duration, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: tb.capacity, lastRefill: now}
		tb.buckets[key] = b
	}

	if refills := int(now.Sub(b.lastRefill) / tb.refillRate); refills > 0 {
		b.tokens = min(b.tokens+refills, tb.capacity)
		b.lastRefill = b.lastRefill.Add(time.Duration(refills) * tb.refillRate)
	}

	if b.tokens > 0 {
		b.tokens--
		return 0, true
	}
	return b.lastRefill.Add(tb.refillRate).Sub(now), false
}

// Ensure TokenBucket implements the RateLimiter interface.
var _ ports.RateLimiter = (*TokenBucket)(nil)

package harnessports

import "context"

// RateLimiter throttles backend calls per key (usually the backend host).
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

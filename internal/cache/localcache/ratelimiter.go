package localcache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

type bucket struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	hits    int64
}

// RateLimiter keeps one token bucket per key. A bucket refills limit tokens
// per window and idle buckets expire after two windows.
type RateLimiter struct {
	mu      sync.Mutex
	buckets *gocache.Cache
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: gocache.New(10*time.Minute, time.Minute)}
}

func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	if limit <= 0 || window <= 0 {
		return true, 0, nil
	}
	b := rl.bucket(key, limit, window)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.hits++
	return b.limiter.Allow(), b.hits, nil
}

func (rl *RateLimiter) bucket(key string, limit int64, window time.Duration) *bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if v, ok := rl.buckets.Get(key); ok {
		return v.(*bucket)
	}
	every := rate.Every(window / time.Duration(limit))
	b := &bucket{limiter: rate.NewLimiter(every, int(limit))}
	rl.buckets.Set(key, b, 2*window)
	return b
}

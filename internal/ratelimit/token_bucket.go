// Package ratelimit implements token bucket rate limiting for tracking
// pixel endpoints. Pixel traffic is bursty (a slider rotation fires several
// impressions at once) but per-ad volume needs a ceiling so a misbehaving or
// hostile client cannot inflate counters.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a thread-safe token bucket rate limiter.
//
// The bucket has a fixed capacity and refills at a constant rate. Each
// request consumes one token; when the bucket is empty, requests are rejected
// until tokens refill.
type TokenBucket struct {
	capacity   int
	tokens     int
	refillRate int       // tokens added per second
	lastRefill time.Time // last time tokens were added
	mu         sync.Mutex
	hitCount   int64 // requests that were rate limited
	totalCount int64 // total requests processed
}

// NewTokenBucket creates a bucket holding at most capacity tokens and
// refilling at refillRate tokens per second. The bucket starts full.
func NewTokenBucket(capacity, refillRate int) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow attempts to consume one token, refilling first based on elapsed time.
// Returns false when the request should be rate limited.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.totalCount++

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tokensToAdd := int(elapsed.Seconds() * float64(tb.refillRate))
	if tokensToAdd > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
		tb.lastRefill = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}

	tb.hitCount++
	return false
}

// Stats returns how many requests were rate limited and the total processed.
func (tb *TokenBucket) Stats() (hits, total int64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.hitCount, tb.totalCount
}

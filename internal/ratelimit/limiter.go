package ratelimit

import (
	"sync"

	"github.com/exohunter/promoserve/internal/observability"
)

// Config holds the configuration for rate limiting.
type Config struct {
	Capacity   int  // token bucket capacity (burst allowance)
	RefillRate int  // tokens added per second (sustained rate)
	Enabled    bool // whether rate limiting is active
}

// AdLimiter manages rate limiting for tracking events, one bucket per ad.
// Buckets are created lazily on first access.
type AdLimiter struct {
	buckets map[string]*TokenBucket
	mu      sync.RWMutex
	config  Config
	metrics observability.MetricsRegistry
}

// NewAdLimiter creates a per-ad rate limiter with the given configuration.
func NewAdLimiter(config Config, metrics observability.MetricsRegistry) *AdLimiter {
	return &AdLimiter{
		buckets: make(map[string]*TokenBucket),
		config:  config,
		metrics: metrics,
	}
}

// Allow reports whether a tracking event for the given ad should be accepted.
// Always true when rate limiting is disabled.
func (al *AdLimiter) Allow(adID string) bool {
	if !al.config.Enabled {
		return true
	}

	al.metrics.IncrementRateLimitRequests(adID)

	al.mu.RLock()
	bucket, exists := al.buckets[adID]
	al.mu.RUnlock()

	if !exists {
		al.mu.Lock()
		bucket, exists = al.buckets[adID]
		if !exists {
			bucket = NewTokenBucket(al.config.Capacity, al.config.RefillRate)
			al.buckets[adID] = bucket
		}
		al.mu.Unlock()
	}

	allowed := bucket.Allow()
	if !allowed {
		al.metrics.IncrementRateLimitHits(adID)
	}
	return allowed
}

// Stats contains rate limiting statistics for a single ad.
type Stats struct {
	AdID    string  `json:"ad_id"`
	Hits    int64   `json:"hits"`
	Total   int64   `json:"total"`
	HitRate float64 `json:"hit_rate"`
}

// GetStats returns a snapshot of rate limiting statistics for all ads.
func (al *AdLimiter) GetStats() map[string]Stats {
	al.mu.RLock()
	defer al.mu.RUnlock()

	stats := make(map[string]Stats, len(al.buckets))
	for adID, bucket := range al.buckets {
		hits, total := bucket.Stats()
		hitRate := 0.0
		if total > 0 {
			hitRate = float64(hits) / float64(total)
		}
		stats[adID] = Stats{AdID: adID, Hits: hits, Total: total, HitRate: hitRate}
	}
	return stats
}

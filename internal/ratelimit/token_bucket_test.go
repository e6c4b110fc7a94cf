package ratelimit

import (
	"testing"
	"time"
)

func TestTokenBucketAllowsUpToCapacity(t *testing.T) {
	tb := NewTokenBucket(3, 1)

	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if tb.Allow() {
		t.Error("bucket should be empty after capacity requests")
	}

	hits, total := tb.Stats()
	if hits != 1 || total != 4 {
		t.Errorf("stats = %d hits, %d total; want 1, 4", hits, total)
	}
}

func TestTokenBucketRefills(t *testing.T) {
	tb := NewTokenBucket(1, 100)

	if !tb.Allow() {
		t.Fatal("first request should be allowed")
	}
	if tb.Allow() {
		t.Fatal("second request should be limited")
	}

	time.Sleep(50 * time.Millisecond) // 100/s refill restores at least one token
	if !tb.Allow() {
		t.Error("bucket should refill over time")
	}
}

func TestTokenBucketCapacityCeiling(t *testing.T) {
	tb := NewTokenBucket(2, 10)
	time.Sleep(500 * time.Millisecond) // would add 5 tokens uncapped

	allowed := 0
	for i := 0; i < 5; i++ {
		if tb.Allow() {
			allowed++
		}
	}
	if allowed > 2 {
		t.Errorf("allowed %d requests, refill must not exceed capacity", allowed)
	}
}

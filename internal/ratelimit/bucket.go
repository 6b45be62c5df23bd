// Package ratelimit implements the per-session token bucket guarding the
// input pipeline. One bucket belongs to exactly one session; it is created
// with the session and released with it, and is never shared.
package ratelimit

import (
	"sync"
	"time"
)

// Clock returns the current time. Injectable for tests.
type Clock func() time.Time

// Bucket is a token bucket: capacity tokens at most, refilled continuously
// at rate tokens per second. Each admitted event consumes one token; when
// the bucket is empty the event is dropped, never queued.
type Bucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	ratePerSec float64
	lastRefill time.Time
	now        Clock
}

// NewBucket creates a full bucket. Non-positive capacity or rate are
// clamped to 1 so a misconfigured bucket throttles hard instead of
// blocking everything or panicking.
func NewBucket(capacity, ratePerSec int, now Clock) *Bucket {
	if capacity <= 0 {
		capacity = 1
	}
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Bucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		ratePerSec: float64(ratePerSec),
		lastRefill: now(),
		now:        now,
	}
}

// Allow consumes one token if available and reports whether the event may
// proceed. O(1), no allocation, safe under sustained flood.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Tokens returns the current token count after refill. For status output
// and tests.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	return b.tokens
}

func (b *Bucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.lastRefill = now
	b.tokens += elapsed * b.ratePerSec
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

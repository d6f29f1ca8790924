// Package ratelimit provides a per-identity token bucket limiter with
// per-call capacity.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// maxBuckets is the maximum number of tracked identities to prevent memory exhaustion.
	maxBuckets = 100_000

	sweepInterval = 5 * time.Minute
	maxIdle       = 10 * time.Minute
)

// Limiter tracks one token bucket per identity. Buckets refill lazily at
// check time; there is no per-bucket timer.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// bucket holds fractional tokens so refill is continuous at capacity/60 per second.
type bucket struct {
	tokens   float64
	capacity float64
	lastFill time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter and starts a background sweep that evicts idle
// buckets. The sweep stops when ctx is cancelled.
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	go l.startCleanup(ctx)

	return l
}

// Allow reports whether identity may make one more request under a limit of
// limitPerMinute. A denied call consumes nothing. A changed limit resizes the
// bucket on this call.
func (l *Limiter) Allow(identity string, limitPerMinute int) bool {
	if limitPerMinute <= 0 {
		return false
	}

	capacity := float64(limitPerMinute)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[identity]
	if !ok {
		if len(l.buckets) >= maxBuckets {
			return false
		}

		b = &bucket{tokens: capacity, capacity: capacity, lastFill: now}
		l.buckets[identity] = b
	}

	return b.allow(now, capacity)
}

func (b *bucket) allow(now time.Time, capacity float64) bool {
	b.capacity = capacity

	if elapsed := now.Sub(b.lastFill).Seconds(); elapsed > 0 {
		b.tokens += elapsed * b.capacity / 60
		b.lastFill = now
	}

	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}

	if b.tokens >= 1 {
		b.tokens--

		return true
	}

	return false
}

// Len returns the number of tracked identities.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.buckets)
}

// Sweep evicts buckets that have been idle for longer than the idle window.
func (l *Limiter) Sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for id, b := range l.buckets {
		if now.Sub(b.lastFill) > maxIdle {
			delete(l.buckets, id)
		}
	}
}

// startCleanup periodically evicts stale rate-limit buckets.
func (l *Limiter) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

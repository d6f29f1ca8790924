// Package security guards credential checks against guessing.
package security

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	BruteForceMaxAttempts = 5
	BruteForceWindow      = 15 * time.Minute
	BruteForceLockout     = 5 * time.Minute
	bruteForceCleanup     = 60 * time.Second
	bruteForceMaxRecords  = 10000
)

type failureRecord struct {
	attempts  int
	firstFail time.Time
	lockedAt  time.Time
}

// BruteForceGuard tracks authentication failures per subject (a caller
// address) and locks out subjects that exceed the failure threshold within
// the tracking window.
type BruteForceGuard struct {
	mu      sync.Mutex
	records map[string]*failureRecord
	log     *logrus.Logger
	now     func() time.Time
}

// Option configures a BruteForceGuard.
type Option func(*BruteForceGuard)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *BruteForceGuard) { g.now = now }
}

// NewBruteForceGuard creates a new guard and starts a background cleanup goroutine
// that stops when ctx is cancelled.
func NewBruteForceGuard(ctx context.Context, log *logrus.Logger, opts ...Option) *BruteForceGuard {
	g := &BruteForceGuard{
		records: make(map[string]*failureRecord),
		log:     log,
		now:     time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	go g.cleanupLoop(ctx)
	return g
}

// IsBlocked returns true if subject is currently locked out.
func (g *BruteForceGuard) IsBlocked(subject string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[subject]
	if !ok {
		return false
	}

	return !rec.lockedAt.IsZero() && g.now().Sub(rec.lockedAt) < BruteForceLockout
}

// RecordFailure records a failed authentication attempt by subject.
func (g *BruteForceGuard) RecordFailure(subject string) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[subject]
	if !ok {
		g.records[subject] = &failureRecord{attempts: 1, firstFail: now}
		return
	}

	// Reset if outside the tracking window or after a served lockout.
	lockoutServed := !rec.lockedAt.IsZero() && now.Sub(rec.lockedAt) >= BruteForceLockout
	if lockoutServed || now.Sub(rec.firstFail) > BruteForceWindow {
		rec.attempts = 1
		rec.firstFail = now
		rec.lockedAt = time.Time{}
		return
	}

	rec.attempts++
	if rec.attempts >= BruteForceMaxAttempts && rec.lockedAt.IsZero() {
		rec.lockedAt = now
		g.log.WithField("subject", subject).Warn("locked out after repeated auth failures")
	}
}

// Reset clears failure tracking for subject (call on successful auth).
func (g *BruteForceGuard) Reset(subject string) {
	g.mu.Lock()
	delete(g.records, subject)
	g.mu.Unlock()
}

func (g *BruteForceGuard) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(bruteForceCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweep()
		}
	}
}

func (g *BruteForceGuard) sweep() {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for k, rec := range g.records {
		if !rec.lockedAt.IsZero() && now.Sub(rec.lockedAt) >= BruteForceLockout {
			delete(g.records, k)
		} else if rec.lockedAt.IsZero() && now.Sub(rec.firstFail) >= BruteForceWindow {
			delete(g.records, k)
		}
	}
	if len(g.records) > bruteForceMaxRecords {
		g.evictOldest(len(g.records) - bruteForceMaxRecords)
	}
}

// evictOldest removes n entries with the oldest firstFail times.
// Caller must hold g.mu. Complexity: O(m log m) via sort.
func (g *BruteForceGuard) evictOldest(n int) {
	type entry struct {
		key  string
		time time.Time
	}
	entries := make([]entry, 0, len(g.records))
	for k, rec := range g.records {
		entries = append(entries, entry{k, rec.firstFail})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].time.Before(entries[j].time)
	})
	for i := range n {
		delete(g.records, entries[i].key)
	}
}

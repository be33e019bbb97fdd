// Package ratelimit implements a keyed fixed-window request limiter.
//
// Counters are keyed by identity (preferred) or source address (fallback for
// unauthenticated traffic). Each key owns its own window bucket with its own
// mutex, stored in a sync.Map, so unrelated keys never serialize behind a
// global lock. Within one key, check-and-increment is atomic: two concurrent
// requests can never both observe count == limit-1 and both pass.
//
// Every attempt counts, including requests later rejected by downstream
// stages, so the limiter reflects true load from broken or malicious
// clients.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// cleanupInterval bounds how often stale buckets are purged.
const cleanupInterval = 5 * time.Minute

// Decision is the result of a limit check.
type Decision struct {
	Allowed    bool
	Remaining  int64         // requests left in the current window (0 when denied)
	Limit      int64         // configured per-window limit
	RetryAfter time.Duration // remaining window time; positive on deny
}

// Limiter is a concurrency-safe fixed-window counter store.
type Limiter struct {
	limit  int64
	window time.Duration
	logger *slog.Logger

	buckets sync.Map // key string → *bucket

	cleanupMu   sync.Mutex
	lastCleanup time.Time
}

// bucket is a single key's window counter. Access is serialized per key.
type bucket struct {
	mu        sync.Mutex
	count     int64
	windowEnd time.Time
	lastSeen  time.Time
}

// New creates a Limiter allowing limit requests per window per key.
func New(limit int, window time.Duration, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		limit:       int64(limit),
		window:      window,
		logger:      logger,
		lastCleanup: time.Now(),
	}
}

// Check records an attempt for key at time now and decides whether it is
// within the window's budget. Denials carry RetryAfter equal to the time
// remaining in the active window.
func (l *Limiter) Check(key string, now time.Time) Decision {
	b := l.getOrCreate(key)

	b.mu.Lock()
	if !now.Before(b.windowEnd) {
		// Window rolled over; start a fresh one anchored at now.
		b.count = 0
		b.windowEnd = now.Add(l.window)
	}
	b.lastSeen = now

	if b.count >= l.limit {
		retryAfter := b.windowEnd.Sub(now)
		b.mu.Unlock()

		l.maybeCleanup(now)
		l.logger.Debug("rate limit exceeded", "key", key, "retry_after", retryAfter)
		return Decision{
			Allowed:    false,
			Remaining:  0,
			Limit:      l.limit,
			RetryAfter: retryAfter,
		}
	}

	b.count++
	remaining := l.limit - b.count
	b.mu.Unlock()

	l.maybeCleanup(now)
	return Decision{
		Allowed:   true,
		Remaining: remaining,
		Limit:     l.limit,
	}
}

// getOrCreate returns the bucket for key, creating it on first use.
func (l *Limiter) getOrCreate(key string) *bucket {
	if v, ok := l.buckets.Load(key); ok {
		return v.(*bucket)
	}
	v, _ := l.buckets.LoadOrStore(key, &bucket{})
	return v.(*bucket)
}

// maybeCleanup purges buckets idle for more than two windows.
// Runs at most once per cleanupInterval.
func (l *Limiter) maybeCleanup(now time.Time) {
	l.cleanupMu.Lock()
	if now.Sub(l.lastCleanup) < cleanupInterval {
		l.cleanupMu.Unlock()
		return
	}
	l.lastCleanup = now
	l.cleanupMu.Unlock()

	stale := now.Add(-2 * l.window)
	l.buckets.Range(func(key, v any) bool {
		b := v.(*bucket)
		b.mu.Lock()
		idle := b.lastSeen.Before(stale)
		b.mu.Unlock()
		if idle {
			l.buckets.Delete(key)
		}
		return true
	})
}

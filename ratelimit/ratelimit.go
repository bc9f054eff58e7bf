// Package ratelimit implements a sliding window request limiter keyed by
// client, shielding the RPC surface from floods.
package ratelimit

import (
	"sync"
	"time"

	"qdag/exception"
)

const cleanupInterval = 5 * time.Minute

// Limiter allows up to max requests per key within a rolling window.
type Limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	hits   map[string][]time.Time
	stop   chan struct{}
}

// New creates a limiter and starts its background cleanup. Close releases it.
func New(max int, window time.Duration) *Limiter {
	l := &Limiter{
		max:    max,
		window: window,
		hits:   make(map[string][]time.Time),
		stop:   make(chan struct{}),
	}
	exception.SafeGo("RateLimitCleanup", l.cleanupLoop)
	return l
}

// Allow records a request for key and reports whether it is within limits.
func (l *Limiter) Allow(key string) bool {
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.max {
		l.hits[key] = kept
		return false
	}
	l.hits[key] = append(kept, now)
	return true
}

// Close stops the cleanup goroutine.
func (l *Limiter) Close() {
	close(l.stop)
}

// cleanupLoop drops keys whose entire window has expired so idle clients do
// not accumulate.
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.window)
			l.mu.Lock()
			for key, times := range l.hits {
				live := false
				for _, t := range times {
					if t.After(cutoff) {
						live = true
						break
					}
				}
				if !live {
					delete(l.hits, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Package ratelimit implements a per-key token-bucket rate limiter for the
// gateway. Each key's bucket holds its configured limit and refills
// continuously at limit-per-window.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// Limiter tracks token buckets per API key in memory. A janitor loop drops
// buckets idle for two windows so revoked keys do not accumulate.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	window  time.Duration
	done    chan struct{}
}

// New creates a rate limiter where each key receives its limit in tokens
// per window, refilled continuously.
func New(window time.Duration) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		window:  window,
		done:    make(chan struct{}),
	}
	go l.janitor()
	return l
}

// Allow consumes one token for key if available. When the bucket is empty
// it returns false and how long until the next token refills.
func (l *Limiter) Allow(key string, limit int) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: float64(limit - 1), lastCheck: now}
		return true, 0
	}

	rate := float64(limit) / l.window.Seconds()
	b.tokens += now.Sub(b.lastCheck).Seconds() * rate
	if b.tokens > float64(limit) {
		b.tokens = float64(limit)
	}
	b.lastCheck = now

	if b.tokens < 1 {
		wait := time.Duration(math.Ceil((1-b.tokens)/rate)) * time.Second
		return false, wait
	}
	b.tokens--
	return true, 0
}

// Reset clears the bucket for a key, restoring its full burst.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Close stops the janitor loop.
func (l *Limiter) Close() {
	close(l.done)
}

func (l *Limiter) janitor() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-2 * l.window)
			for key, b := range l.buckets {
				if b.lastCheck.Before(cutoff) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.done:
			return
		}
	}
}

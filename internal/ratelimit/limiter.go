// Package ratelimit throttles expensive per-athlete operations such as a manual refresh.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether the caller identified by key may proceed now.
// When it may not, the returned duration is how long to wait.
type Limiter interface {
	Allow(key string) (bool, time.Duration)
}

// KeyedLimiter keeps one token bucket per key, allowing limit events per window.
type KeyedLimiter struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	now     func() time.Time
	buckets map[string]*rate.Limiter
}

// Option configures a KeyedLimiter.
type Option func(*KeyedLimiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *KeyedLimiter) {
		l.now = now
	}
}

// NewKeyedLimiter allows limit events per window for every key.
func NewKeyedLimiter(limit int, window time.Duration, opts ...Option) *KeyedLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &KeyedLimiter{
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		now:     time.Now,
		buckets: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow implements Limiter. A denied call consumes nothing.
func (l *KeyedLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(l.every, l.burst)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()

	now := l.now()
	reservation := bucket.ReserveN(now, 1)
	if !reservation.OK() {
		return false, 0
	}
	delay := reservation.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	reservation.CancelAt(now)
	return false, delay
}

package compliance

import (
	"context"
	"sync"
	"time"
)

// RateLimiter caps sends per destination. Allow consumes one slot; Release
// gives back a slot whose send never left the process.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type bucket struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a fixed-window limiter local to one process. Counters
// reset on restart.
type MemoryLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewMemoryLimiter allows max sends per key in each window.
func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		max:     max,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		if len(l.buckets) > 1024 {
			l.sweep(now)
		}
		l.buckets[key] = &bucket{count: 1, resetAt: now.Add(l.window)}
		return true, nil
	}
	if b.count >= l.max {
		return false, nil
	}
	b.count++
	return true, nil
}

func (l *MemoryLimiter) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok && b.count > 0 && l.now().Before(b.resetAt) {
		b.count--
	}
	return nil
}

func (l *MemoryLimiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, k)
		}
	}
}

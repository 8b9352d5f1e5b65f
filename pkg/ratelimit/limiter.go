// Package ratelimit enforces per-caller fixed-window limits on tool
// dispatch. The Redis limiter is shared across replicas; the in-memory
// one covers single-instance and degraded-Redis operation.
package ratelimit

import (
	"sync"
	"time"
)

// Decision reports one Allow call. ResetAt bounds the Retry-After hint
// handed to limited callers.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type Limiter interface {
	Allow(key string, limit int) Decision
}

// InMemoryLimiter counts per-key requests in fixed windows. Expired keys
// are swept lazily, amortized across calls.
type InMemoryLimiter struct {
	mu     sync.Mutex
	window time.Duration
	items  map[string]entry
	calls  int
}

type entry struct {
	count   int
	resetAt time.Time
}

const sweepEvery = 256

func NewInMemory(window time.Duration) *InMemoryLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &InMemoryLimiter{
		window: window,
		items:  make(map[string]entry),
	}
}

func (l *InMemoryLimiter) Allow(key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweep(now)
	}

	curr := l.items[key]
	if curr.resetAt.IsZero() || now.After(curr.resetAt) {
		curr = entry{resetAt: now.Add(l.window)}
	}
	curr.count++
	l.items[key] = curr

	d := Decision{
		Allowed: curr.count <= limit,
		Limit:   limit,
		ResetAt: curr.resetAt,
	}
	if left := limit - curr.count; left > 0 {
		d.Remaining = left
	}
	return d
}

func (l *InMemoryLimiter) sweep(now time.Time) {
	for k, v := range l.items {
		if now.After(v.resetAt) {
			delete(l.items, k)
		}
	}
}

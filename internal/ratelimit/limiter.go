package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter gates how often an actor may initiate an action within a rolling
// window. Allow must atomically check and record the attempt; a denied call
// has no side effects. Implementations fail closed: if the counter store
// cannot be reached, the attempt is denied.
type Limiter interface {
	Allow(ctx context.Context, actorID, action string, limit int, window time.Duration) bool
}

func key(actorID, action string) string {
	return fmt.Sprintf("%s:%s", actorID, action)
}

// MemoryLimiter is a process-local rolling-window limiter. It serves
// single-instance deployments; multi-instance deployments share counters
// through the Redis limiter instead.
type MemoryLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	now      func() time.Time
}

func NewMemory() *MemoryLimiter {
	return &MemoryLimiter{
		attempts: make(map[string][]time.Time),
		now:      time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, actorID, action string, limit int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(actorID, action)
	now := l.now()
	cutoff := now.Add(-window)

	kept := l.attempts[k][:0]
	for _, t := range l.attempts[k] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.attempts[k] = kept

	if len(kept) >= limit {
		return false
	}
	l.attempts[k] = append(kept, now)
	return true
}

package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Local is an in-process token bucket limiter keyed by rule and identifier.
// A full bucket holds rule.Limit tokens and refills over rule.Window.
type Local struct {
	mu       sync.Mutex
	limiters map[string]*localEntry
	now      func() time.Time
}

type localEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewLocal creates an empty Local limiter.
func NewLocal() *Local {
	return &Local{limiters: make(map[string]*localEntry), now: time.Now}
}

func (l *Local) Allow(_ context.Context, identifier string, rule Rule) (bool, error) {
	now := l.now()
	key := rule.Key + identifier

	l.mu.Lock()
	e, ok := l.limiters[key]
	if !ok {
		every := rule.Window / time.Duration(max(rule.Limit, 1))
		e = &localEntry{limiter: rate.NewLimiter(rate.Every(every), max(rule.Limit, 1))}
		l.limiters[key] = e
	}
	e.lastAccess = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1), nil
}

// Prune drops limiters idle for longer than idle.
func (l *Local) Prune(idle time.Duration) int {
	threshold := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, e := range l.limiters {
		if e.lastAccess.Before(threshold) {
			delete(l.limiters, k)
			n++
		}
	}
	return n
}

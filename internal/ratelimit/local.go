package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Local is an in-memory Allower. Each (rule, identifier) pair gets a token
// bucket refilled at Limit per Window with a burst of Limit.
type Local struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	max      int
}

// DefaultLocalKeys caps the number of tracked identifiers. When the cap is
// reached the table is reset.
const DefaultLocalKeys = 10000

// NewLocal creates an in-memory limiter tracking at most maxKeys buckets.
func NewLocal(maxKeys int) *Local {
	if maxKeys <= 0 {
		maxKeys = DefaultLocalKeys
	}
	return &Local{limiters: make(map[string]*rate.Limiter), max: maxKeys}
}

// Allow implements Allower. It never returns an error.
func (l *Local) Allow(_ context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= l.max {
			l.limiters = make(map[string]*rate.Limiter)
		}
		every := rate.Every(rule.Window / time.Duration(max(rule.Limit, 1)))
		lim = rate.NewLimiter(every, rule.Limit)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	return lim.Allow(), nil
}

package api

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = time.Minute
	limiterIdleTTL       = 3 * time.Minute
)

// sessionLimiter rate-limits messages per session ID.
type sessionLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newSessionLimiter(rps float64, burst int) *sessionLimiter {
	if burst < 1 {
		burst = 1
	}
	return &sessionLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
	}
}

// allow reports whether one more message for sessionID may proceed now.
func (l *sessionLimiter) allow(sessionID string) bool {
	l.mu.Lock()
	v, ok := l.visitors[sessionID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[sessionID] = v
	}
	v.lastSeen = time.Now()
	l.mu.Unlock()
	return v.limiter.Allow()
}

// sweep drops idle sessions until ctx is done.
func (l *sessionLimiter) sweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.prune(time.Now().Add(-limiterIdleTTL))
		}
	}
}

func (l *sessionLimiter) prune(before time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, v := range l.visitors {
		if v.lastSeen.Before(before) {
			delete(l.visitors, id)
		}
	}
}

func (l *sessionLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

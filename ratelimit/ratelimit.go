// Package ratelimit provides per-client token-bucket rate limiting for
// publish traffic.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter tracks one token bucket per client id. Idle entries are dropped
// after the eviction interval so disconnected clients do not accumulate.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter allowing msgsPerSec messages per second per client
// with the given burst. A zero or negative rate disables limiting.
func New(msgsPerSec float64, burst int) *Limiter {
	if msgsPerSec <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(msgsPerSec)
		if burst < 1 {
			burst = 1
		}
	}
	l := &Limiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(msgsPerSec),
		burst:   burst,
	}
	go l.evictLoop()
	return l
}

// Allow reports whether the client may send another message now.
func (l *Limiter) Allow(clientID string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	cl, ok := l.clients[clientID]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[clientID] = cl
	}
	cl.lastSeen = time.Now()
	l.mu.Unlock()

	return cl.limiter.Allow()
}

// Forget drops the client's bucket.
func (l *Limiter) Forget(clientID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.clients, clientID)
	l.mu.Unlock()
}

func (l *Limiter) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		l.mu.Lock()
		for id, cl := range l.clients {
			if cl.lastSeen.Before(cutoff) {
				delete(l.clients, id)
			}
		}
		l.mu.Unlock()
	}
}

// Package ratelimit enforces a minimum interval between a sender's writes.
// This is an advisory UX throttle held in process memory, not a security
// control; the backend does not enforce it.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultWindow is the minimum interval between accepted sends.
const DefaultWindow = 3 * time.Second

// Limiter tracks the last accepted send per sender.
type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
}

// New creates a Limiter with the given window. A non-positive window
// disables limiting.
func New(window time.Duration) *Limiter {
	return &Limiter{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// TryAccept reports whether a send from senderID at now is allowed. On
// acceptance the sender's last-accepted timestamp advances; on rejection it
// is left untouched and the remaining wait is returned for the caller to
// surface.
func (l *Limiter) TryAccept(senderID string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.window <= 0 {
		l.last[senderID] = now
		return true, 0
	}

	last, ok := l.last[senderID]
	if ok {
		elapsed := now.Sub(last)
		if elapsed < l.window {
			return false, l.window - elapsed
		}
	}
	l.last[senderID] = now
	return true, 0
}

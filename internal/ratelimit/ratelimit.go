// Package ratelimit bounds outbound AI backend calls with a fixed-window
// counter shared by all concurrent runs.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Error is returned when the request budget for the current window is
// exhausted. Callers must treat it as retryable after RetryAfter.
type Error struct {
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// IsRateLimit reports whether err is a rate-limit rejection.
func IsRateLimit(err error) bool {
	_, ok := err.(*Error)
	return ok
}

// Limiter implements fixed-window admission control. The window reset and
// the counter increment happen under one lock so a burst at the window
// boundary cannot double-count.
type Limiter struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
	maxRequests int
	window      time.Duration
	now         func() time.Time // injectable for tests
}

// New creates a limiter allowing maxRequests per window.
func New(maxRequests int, window time.Duration) *Limiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
}

// Admit consumes one request slot, or fails fast with *Error carrying the
// time until the current window elapses.
func (l *Limiter) Admit() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) > l.window {
		l.windowStart = now
		l.count = 0
	}

	if l.count >= l.maxRequests {
		retryAfter := l.window - now.Sub(l.windowStart)
		if retryAfter <= 0 {
			retryAfter = time.Millisecond
		}
		return &Error{RetryAfter: retryAfter}
	}

	l.count++
	return nil
}

// Remaining returns how many slots are left in the current window.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.windowStart.IsZero() || l.now().Sub(l.windowStart) > l.window {
		return l.maxRequests
	}
	return l.maxRequests - l.count
}

// Package costs guards LLM spend: a sliding-window rate limiter in
// front of the API, a usage ledger persisted as JSONL, and a spike
// detector that compares today's burn against recent history.
package costs

import (
	"sync"
	"time"
)

// RateLimiter admits at most max calls per sliding window. It
// implements the llm.Gate interface.
type RateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	calls  []time.Time
}

// NewRateLimiter creates a limiter. max <= 0 disables limiting.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{max: max, window: window}
}

// Allow reports whether another call may proceed now, and counts it.
func (l *RateLimiter) Allow() bool {
	if l.max <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.window)
	kept := l.calls[:0]
	for _, t := range l.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.calls = kept

	if len(l.calls) >= l.max {
		return false
	}
	l.calls = append(l.calls, time.Now())
	return true
}

// InWindow returns the number of calls counted in the current window.
func (l *RateLimiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.window)
	n := 0
	for _, t := range l.calls {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

package ratelimit

import (
	"context"
	"time"
)

// Check is one windowed counter a call is measured against.
type Check struct {
	Key    string
	Limit  int // catalog.Unlimited disables the cap
	Window time.Duration
	Reason string
}

// Counter is the state of one window.
type Counter struct {
	Count       int
	WindowStart time.Time
	WindowEnd   time.Time // exclusive
}

// Verdict is the result of Store.Consume.
type Verdict struct {
	Allowed bool
	// Failed is the index of the first check over its limit, or -1.
	Failed int
	// Counters is parallel to the checks. When admitted it holds the
	// incremented counters; when denied, Counters[Failed] is the full window.
	Counters []Counter
}

// Store holds usage windows. Consume must evaluate and increment all checks
// in one critical section: an admitted call increments every counter, a
// denied call increments none.
type Store interface {
	Consume(ctx context.Context, checks []Check, now time.Time) (Verdict, error)
	Peek(ctx context.Context, checks []Check, now time.Time) ([]Counter, error)
}

// fresh returns c, or a new empty window when c has expired.
func fresh(c Counter, ok bool, window time.Duration, now time.Time) Counter {
	if !ok || !now.Before(c.WindowEnd) {
		return Counter{WindowStart: now, WindowEnd: now.Add(window)}
	}
	return c
}

// Package ratelimit enforces per-user hourly, daily and complex-tool quotas
// with reset-on-access fixed windows. A window starts at the first call and
// resets the first time it is touched after it ends, so up to twice the limit
// can land around a window boundary.
package ratelimit

import (
	"context"
	"time"

	"github.com/Carrie-PLH/plus/internal/catalog"
	"go.uber.org/zap"
)

const (
	ReasonHourly      = "hourly_limit"
	ReasonDaily       = "daily_limit"
	ReasonComplex     = "complex_limit"
	ReasonFailOpen    = "fail_open"
	ReasonUnavailable = "limiter_unavailable"
)

const (
	Hour = time.Hour
	Day  = 24 * time.Hour
)

type Decision struct {
	Allowed    bool   `json:"allowed"`
	ReasonCode string `json:"reasonCode,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	// Remaining is the smallest headroom left across capped windows, or -1
	// when every window is unlimited.
	Remaining      int    `json:"remaining"`
	ResetInSeconds int    `json:"resetInSeconds,omitempty"`
	ResetIn        int    `json:"resetIn,omitempty"`
	ResetUnit      string `json:"resetUnit,omitempty"`
}

// WindowStatus is a read-only view of one window for dashboards.
type WindowStatus struct {
	Kind      string    `json:"kind"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

type Limiter struct {
	store    Store
	failOpen bool
	logger   *zap.Logger
}

func NewLimiter(store Store, failOpen bool, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{store: store, failOpen: failOpen, logger: logger}
}

// Checks returns the windows a call to tool is measured against, in the
// order they are evaluated.
func Checks(userID string, tool catalog.Tool, limits catalog.Limits) []Check {
	checks := []Check{
		{Key: userID + ":" + tool.ID + ":hour", Limit: limits.Hourly, Window: Hour, Reason: ReasonHourly},
		{Key: userID + ":" + tool.ID + ":day", Limit: limits.Daily, Window: Day, Reason: ReasonDaily},
	}
	if tool.Complex {
		checks = append(checks, Check{Key: userID + ":complex:day", Limit: limits.ComplexDaily, Window: Day, Reason: ReasonComplex})
	}
	return checks
}

// CheckAndConsume admits or denies one call. The first window over its limit
// decides the reason. Store failures follow the fail-open policy.
func (l *Limiter) CheckAndConsume(ctx context.Context, userID string, tool catalog.Tool, limits catalog.Limits, now time.Time) Decision {
	checks := Checks(userID, tool, limits)

	verdict, err := l.store.Consume(ctx, checks, now)
	if err != nil {
		l.logger.Error("usage store failed",
			zap.String("user_id", userID),
			zap.String("tool", tool.ID),
			zap.Bool("fail_open", l.failOpen),
			zap.Error(err),
		)
		if l.failOpen {
			return Decision{Allowed: true, ReasonCode: ReasonFailOpen, Remaining: catalog.Unlimited}
		}
		return Decision{Allowed: false, ReasonCode: ReasonUnavailable, Remaining: 0}
	}

	if !verdict.Allowed {
		chk := checks[verdict.Failed]
		d := Decision{
			Allowed:    false,
			ReasonCode: chk.Reason,
			Limit:      chk.Limit,
			Remaining:  0,
		}
		d.ResetInSeconds, d.ResetIn, d.ResetUnit = resetIn(chk.Window, verdict.Counters[verdict.Failed].WindowEnd.Sub(now))
		return d
	}

	remaining := catalog.Unlimited
	for i, chk := range checks {
		if chk.Limit < 0 {
			continue
		}
		left := chk.Limit - verdict.Counters[i].Count
		if remaining < 0 || left < remaining {
			remaining = left
		}
	}
	return Decision{Allowed: true, Remaining: remaining}
}

// Status reports the windows for tool without consuming anything.
func (l *Limiter) Status(ctx context.Context, userID string, tool catalog.Tool, limits catalog.Limits, now time.Time) ([]WindowStatus, error) {
	checks := Checks(userID, tool, limits)
	counters, err := l.store.Peek(ctx, checks, now)
	if err != nil {
		return nil, err
	}

	out := make([]WindowStatus, len(checks))
	for i, chk := range checks {
		remaining := catalog.Unlimited
		if chk.Limit >= 0 {
			remaining = max(chk.Limit-counters[i].Count, 0)
		}
		out[i] = WindowStatus{
			Kind:      kindOf(chk.Reason),
			Used:      counters[i].Count,
			Limit:     chk.Limit,
			Remaining: remaining,
			ResetAt:   counters[i].WindowEnd,
		}
	}
	return out, nil
}

func kindOf(reason string) string {
	switch reason {
	case ReasonHourly:
		return "hourly"
	case ReasonDaily:
		return "daily"
	default:
		return "complex"
	}
}

// resetIn rounds the wait up to whole minutes for hourly windows and whole
// hours for daily ones.
func resetIn(window, wait time.Duration) (seconds, n int, unit string) {
	unitDur, unit := time.Minute, "minutes"
	if window > Hour {
		unitDur, unit = time.Hour, "hours"
	}
	n = int((wait + unitDur - 1) / unitDur)
	if n < 1 {
		n = 1
	}
	return n * int(unitDur/time.Second), n, unit
}

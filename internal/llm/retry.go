package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

type RetryConfig struct {
	// Attempts is the total number of calls, first call included. Default 2.
	Attempts int
	// Delay is multiplied by the attempt number before each retry.
	Delay time.Duration
	// Timeout bounds each attempt.
	Timeout time.Duration
}

// Retrying retries transient faults with linear backoff. Client faults and
// a cancelled caller end the loop at once.
type Retrying struct {
	next   Generator
	cfg    RetryConfig
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

func NewRetrying(next Generator, cfg RetryConfig, logger *zap.Logger) *Retrying {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, cfg: cfg, logger: logger, sleep: sleepCtx}
}

func (r *Retrying) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	var last *Fault
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx, r.cfg.Delay*time.Duration(attempt-1)); err != nil {
				return "", Transient(last.Provider, err)
			}
		}

		countAttempt(ctx)
		text, err := r.attempt(ctx, prompt, opts)
		if err == nil {
			return text, nil
		}

		last = AsFault("", err)
		if last.Kind == ClientFault || ctx.Err() != nil {
			return "", last
		}
		r.logger.Warn("generation attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.cfg.Attempts),
			zap.Error(last),
		)
	}
	return "", last
}

func (r *Retrying) attempt(ctx context.Context, prompt string, opts Options) (string, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	text, err := r.next.Generate(ctx, prompt, opts)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		var f *Fault
		if !errors.As(err, &f) {
			return "", Transient("", err)
		}
	}
	return text, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package llm

import (
	"context"
	"errors"

	"github.com/Carrie-PLH/plus/internal/circuitbreaker"
)

// Breaker fails fast with a transient fault while the provider's circuit is
// open. Only transient faults count against the circuit.
type Breaker struct {
	name string
	next Generator
	cb   *circuitbreaker.CircuitBreaker
}

// NewBreaker wraps next. cfg.IsFailure is replaced.
func NewBreaker(name string, next Generator, cfg circuitbreaker.Config) *Breaker {
	cfg.Name = name
	cfg.IsFailure = func(err error) bool {
		return err != nil && !IsClientFault(err) && !errors.Is(err, context.Canceled)
	}
	return &Breaker{name: name, next: next, cb: circuitbreaker.New(cfg)}
}

func (b *Breaker) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	var text string
	err := b.cb.Call(ctx, func(ctx context.Context) error {
		var err error
		text, err = b.next.Generate(ctx, prompt, opts)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return "", Transient(b.name, err)
	}
	if err != nil {
		return "", AsFault(b.name, err)
	}
	return text, nil
}

func (b *Breaker) Metrics() circuitbreaker.Metrics {
	return b.cb.Metrics()
}

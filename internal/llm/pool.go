package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/Carrie-PLH/plus/internal/loadbalancer"
	"go.uber.org/zap"
)

type Provider struct {
	Name      string
	Generator Generator
}

// Pool tries providers in the order its strategy picks and moves on after
// a transient fault. A client fault stops the walk.
type Pool struct {
	providers map[string]Generator
	names     []string
	strategy  loadbalancer.Strategy
	logger    *zap.Logger
}

func NewPool(strategy loadbalancer.Strategy, logger *zap.Logger, providers ...Provider) (*Pool, error) {
	if len(providers) == 0 {
		return nil, errors.New("no generative providers configured")
	}
	if strategy == nil {
		strategy = loadbalancer.NewPriority()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{providers: make(map[string]Generator, len(providers)), strategy: strategy, logger: logger}
	for _, pr := range providers {
		if _, dup := p.providers[pr.Name]; dup {
			return nil, fmt.Errorf("duplicate provider %q", pr.Name)
		}
		p.providers[pr.Name] = pr.Generator
		p.names = append(p.names, pr.Name)
	}
	return p, nil
}

func (p *Pool) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	tracker, _ := p.strategy.(*loadbalancer.LeastPending)

	var last *Fault
	for _, name := range p.strategy.Order(p.names) {
		if tracker != nil {
			tracker.Acquire(name)
		}
		text, err := p.providers[name].Generate(ctx, prompt, opts)
		if tracker != nil {
			tracker.Release(name)
		}
		if err == nil {
			return text, nil
		}

		last = AsFault(name, err)
		if last.Kind == ClientFault || ctx.Err() != nil {
			return "", last
		}
		p.logger.Warn("provider failed, trying next", zap.String("provider", name), zap.Error(err))
	}
	return "", last
}

func (p *Pool) Providers() []string {
	return append([]string(nil), p.names...)
}

// Package llm is the boundary to generative model providers. Every error it
// returns is a *Fault telling the caller whether retrying can help.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
)

type Options struct {
	MaxOutputTokens int
	Temperature     float64
	System          string
}

// Generator turns a prompt into raw model text.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string, opts Options) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	return f(ctx, prompt, opts)
}

type FaultKind int

const (
	// TransientFault may succeed on retry: rate limits, 5xx, network
	// failures, timeouts, an open circuit.
	TransientFault FaultKind = iota
	// ClientFault will fail again: bad request, bad credentials, missing
	// configuration.
	ClientFault
)

func (k FaultKind) String() string {
	if k == ClientFault {
		return "client"
	}
	return "transient"
}

type Fault struct {
	Kind     FaultKind
	Provider string
	Status   int
	Err      error
}

func (f *Fault) Error() string {
	if f.Status != 0 {
		return fmt.Sprintf("%s %s fault (status %d): %v", f.Provider, f.Kind, f.Status, f.Err)
	}
	return fmt.Sprintf("%s %s fault: %v", f.Provider, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

func Transient(provider string, err error) *Fault {
	return &Fault{Kind: TransientFault, Provider: provider, Err: err}
}

func Client(provider string, err error) *Fault {
	return &Fault{Kind: ClientFault, Provider: provider, Err: err}
}

// StatusFault classifies an HTTP status from a provider.
func StatusFault(provider string, status int, err error) *Fault {
	kind := TransientFault
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusUnprocessableEntity:
		kind = ClientFault
	}
	return &Fault{Kind: kind, Provider: provider, Status: status, Err: err}
}

// IsClientFault reports whether err is a fault that retrying cannot fix.
func IsClientFault(err error) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == ClientFault
}

// AsFault returns err as a *Fault, classifying unknown errors as transient.
func AsFault(provider string, err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return Transient(provider, err)
}

// Stats collects per-request call counts. Attach one with WithStats.
type Stats struct {
	attempts atomic.Int32
	tokens   atomic.Int64
}

func (s *Stats) Attempts() int {
	if s == nil {
		return 0
	}
	return int(s.attempts.Load())
}

// Tokens is the total reported by providers across attempts.
func (s *Stats) Tokens() int {
	if s == nil {
		return 0
	}
	return int(s.tokens.Load())
}

type statsKey struct{}

func WithStats(ctx context.Context) (context.Context, *Stats) {
	s := &Stats{}
	return context.WithValue(ctx, statsKey{}, s), s
}

func countAttempt(ctx context.Context) {
	if s, ok := ctx.Value(statsKey{}).(*Stats); ok {
		s.attempts.Add(1)
	}
}

// CountTokens adds provider-reported token usage to the request's stats.
func CountTokens(ctx context.Context, n int) {
	if s, ok := ctx.Value(statsKey{}).(*Stats); ok && n > 0 {
		s.tokens.Add(int64(n))
	}
}

package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newBreaker(c *clock, transitions *[]string) *CircuitBreaker {
	return New(Config{
		Name:        "test",
		MaxFailures: 3,
		Timeout:     10 * time.Second,
		Now:         c.now,
		OnStateChange: func(_ string, from, to State) {
			if transitions != nil {
				*transitions = append(*transitions, from.String()+">"+to.String())
			}
		},
	})
}

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	cb := newBreaker(c, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Call(ctx, fail), errBoom)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Call(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	cb := newBreaker(c, nil)
	ctx := context.Background()

	_ = cb.Call(ctx, fail)
	_ = cb.Call(ctx, fail)
	require.NoError(t, cb.Call(ctx, succeed))
	_ = cb.Call(ctx, fail)

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Metrics().FailureCount)
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	var transitions []string
	cb := newBreaker(c, &transitions)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Call(ctx, fail)
	}
	c.advance(9 * time.Second)
	assert.ErrorIs(t, cb.Call(ctx, succeed), ErrCircuitOpen)

	c.advance(time.Second)
	assert.ErrorIs(t, cb.Call(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, cb.State(), "failed probe reopens")

	c.advance(10 * time.Second)
	require.NoError(t, cb.Call(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{
		"closed>open",
		"open>half-open",
		"half-open>open",
		"open>half-open",
		"half-open>closed",
	}, transitions)
}

func TestBreaker_SingleProbeInFlight(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	cb := newBreaker(c, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Call(ctx, fail)
	}
	c.advance(time.Minute)

	err := cb.Call(ctx, func(ctx context.Context) error {
		assert.ErrorIs(t, cb.Call(ctx, succeed), ErrCircuitOpen)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_IsFailurePredicate(t *testing.T) {
	ignored := errors.New("bad request")
	cb := New(Config{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return err != nil && !errors.Is(err, ignored) },
	})
	ctx := context.Background()

	assert.ErrorIs(t, cb.Call(ctx, func(context.Context) error { return ignored }), ignored)
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Call(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	cb := New(Config{MaxFailures: 1})
	_ = cb.Call(context.Background(), func(context.Context) error { return context.Canceled })
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_Reset(t *testing.T) {
	cb := New(Config{MaxFailures: 1})
	_ = cb.Call(context.Background(), fail)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	m := cb.Metrics()
	assert.Equal(t, StateClosed, m.State)
	assert.Zero(t, m.FailureCount)
}

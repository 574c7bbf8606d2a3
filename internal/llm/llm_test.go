package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Carrie-PLH/plus/internal/circuitbreaker"
	"github.com/Carrie-PLH/plus/internal/loadbalancer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scripted struct {
	errs  []error
	text  string
	calls int
}

func (s *scripted) Generate(ctx context.Context, _ string, _ Options) (string, error) {
	s.calls++
	if len(s.errs) >= s.calls && s.errs[s.calls-1] != nil {
		return "", s.errs[s.calls-1]
	}
	return s.text, nil
}

func noSleep(r *Retrying) *[]time.Duration {
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return &slept
}

func TestStatusFault(t *testing.T) {
	client := []int{400, 401, 403, 404, 422}
	transient := []int{408, 409, 429, 500, 502, 503, 529}
	for _, s := range client {
		assert.Equal(t, ClientFault, StatusFault("p", s, nil).Kind, s)
	}
	for _, s := range transient {
		assert.Equal(t, TransientFault, StatusFault("p", s, nil).Kind, s)
	}
}

func TestRetrying_RetriesTransientOnce(t *testing.T) {
	g := &scripted{errs: []error{Transient("p", errors.New("503"))}, text: "ok"}
	r := NewRetrying(g, RetryConfig{Delay: time.Second}, nil)
	slept := noSleep(r)

	ctx, stats := WithStats(context.Background())
	text, err := r.Generate(ctx, "prompt", Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, g.calls)
	assert.Equal(t, 2, stats.Attempts())
	assert.Equal(t, []time.Duration{time.Second}, *slept)
}

func TestRetrying_GivesUpAfterBudget(t *testing.T) {
	boom := Transient("p", errors.New("overloaded"))
	g := &scripted{errs: []error{boom, boom, boom, boom}}
	r := NewRetrying(g, RetryConfig{Attempts: 3, Delay: time.Second}, nil)
	slept := noSleep(r)

	_, err := r.Generate(context.Background(), "prompt", Options{})
	require.Error(t, err)
	assert.False(t, IsClientFault(err))
	assert.Equal(t, 3, g.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept, "linear backoff")
}

func TestRetrying_NoRetryOnClientFault(t *testing.T) {
	g := &scripted{errs: []error{StatusFault("p", 401, errors.New("bad key"))}}
	r := NewRetrying(g, RetryConfig{}, nil)
	noSleep(r)

	_, err := r.Generate(context.Background(), "prompt", Options{})
	assert.True(t, IsClientFault(err))
	assert.Equal(t, 1, g.calls)
}

func TestRetrying_PerAttemptTimeout(t *testing.T) {
	g := GeneratorFunc(func(ctx context.Context, _ string, _ Options) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	r := NewRetrying(g, RetryConfig{Attempts: 2, Timeout: 10 * time.Millisecond}, nil)
	noSleep(r)

	ctx, stats := WithStats(context.Background())
	_, err := r.Generate(ctx, "prompt", Options{})
	var f *Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, TransientFault, f.Kind)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, stats.Attempts())
}

func TestBreaker_OpensOnTransientOnly(t *testing.T) {
	g := &scripted{errs: []error{
		StatusFault("p", 400, errors.New("bad")),
		StatusFault("p", 500, errors.New("down")),
		StatusFault("p", 500, errors.New("down")),
	}}
	b := NewBreaker("p", g, circuitbreaker.Config{MaxFailures: 2, Timeout: time.Hour})
	ctx := context.Background()

	_, err := b.Generate(ctx, "x", Options{})
	assert.True(t, IsClientFault(err))
	assert.Equal(t, circuitbreaker.StateClosed, b.Metrics().State)

	_, _ = b.Generate(ctx, "x", Options{})
	_, _ = b.Generate(ctx, "x", Options{})
	assert.Equal(t, circuitbreaker.StateOpen, b.Metrics().State)

	_, err = b.Generate(ctx, "x", Options{})
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.False(t, IsClientFault(err))
	assert.Equal(t, 3, g.calls, "open circuit does not call through")
}

func TestPool_FailsOverOnTransient(t *testing.T) {
	first := &scripted{errs: []error{Transient("a", errors.New("down"))}}
	second := &scripted{text: "from b"}
	p, err := NewPool(loadbalancer.NewPriority(), nil,
		Provider{Name: "a", Generator: first},
		Provider{Name: "b", Generator: second},
	)
	require.NoError(t, err)

	text, err := p.Generate(context.Background(), "x", Options{})
	require.NoError(t, err)
	assert.Equal(t, "from b", text)
	assert.Equal(t, 1, first.calls)
}

func TestPool_StopsOnClientFault(t *testing.T) {
	first := &scripted{errs: []error{Client("a", errors.New("no key"))}}
	second := &scripted{text: "unused"}
	p, err := NewPool(nil, nil, Provider{Name: "a", Generator: first}, Provider{Name: "b", Generator: second})
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), "x", Options{})
	assert.True(t, IsClientFault(err))
	assert.Zero(t, second.calls)
}

func TestNewPool_Validation(t *testing.T) {
	_, err := NewPool(nil, nil)
	assert.Error(t, err)

	g := &scripted{}
	_, err = NewPool(nil, nil, Provider{Name: "a", Generator: g}, Provider{Name: "a", Generator: g})
	assert.Error(t, err)
}

func TestAnthropicClient_Generate(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"a\":"},{"type":"text","text":"1}"}],"usage":{"input_tokens":3,"output_tokens":4}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{APIKey: "secret", BaseURL: srv.URL, Model: "m"}, nil)
	ctx, stats := WithStats(context.Background())
	text, err := c.Generate(ctx, "hello", Options{MaxOutputTokens: 500, Temperature: 0.3, System: "be brief"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, text)
	assert.Equal(t, 7, stats.Tokens())

	assert.Equal(t, "m", got.Model)
	assert.Equal(t, 500, got.MaxTokens)
	assert.Equal(t, "be brief", got.System)
	assert.InDelta(t, 0.3, got.Temperature, 1e-9)
	assert.Equal(t, []anthropicMessage{{Role: "user", Content: "hello"}}, got.Messages)
}

func TestAnthropicClient_Faults(t *testing.T) {
	tests := []struct {
		status int
		kind   FaultKind
	}{
		{http.StatusUnauthorized, ClientFault},
		{http.StatusBadRequest, ClientFault},
		{http.StatusTooManyRequests, TransientFault},
		{http.StatusInternalServerError, TransientFault},
		{529, TransientFault},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"x","message":"nope"}}`))
		}))
		c := NewAnthropicClient(AnthropicConfig{APIKey: "k", BaseURL: srv.URL}, nil)

		_, err := c.Generate(context.Background(), "p", Options{})
		var f *Fault
		require.ErrorAs(t, err, &f)
		assert.Equal(t, tt.kind, f.Kind, tt.status)
		assert.Equal(t, tt.status, f.Status)
		srv.Close()
	}
}

func TestAnthropicClient_MissingKeyIsClientFault(t *testing.T) {
	c := NewAnthropicClient(AnthropicConfig{}, nil)
	_, err := c.Generate(context.Background(), "p", Options{})
	assert.True(t, IsClientFault(err))
}

func TestAnthropicClient_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewAnthropicClient(AnthropicConfig{APIKey: "k", BaseURL: url}, nil)
	_, err := c.Generate(context.Background(), "p", Options{})
	require.Error(t, err)
	assert.False(t, IsClientFault(err))
}

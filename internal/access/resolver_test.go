package access

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Carrie-PLH/plus/internal/catalog"
	"github.com/Carrie-PLH/plus/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	subs  map[string]*Subscription
	err   error
	calls atomic.Int32
}

func (f *fakeSource) Subscription(_ context.Context, uid string) (*Subscription, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.subs[uid], nil
}

func newResolver(t *testing.T, src SubscriptionSource, failOpen bool) *Resolver {
	t.Helper()
	c, err := catalog.Default()
	require.NoError(t, err)
	r := NewResolver(c, src, failOpen, nil)
	r.now = func() time.Time { return now }
	return r
}

func TestResolve_AnonymousSkipsStore(t *testing.T) {
	src := &fakeSource{}
	r := newResolver(t, src, true)

	d := r.Resolve(context.Background(), Anonymous, "symptomPro")
	assert.True(t, d.Allowed)
	assert.Equal(t, "free", d.Tier)
	assert.Equal(t, 3, d.Limits.Daily)

	d = r.Resolve(context.Background(), "", "promptPro")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonTierRequired, d.ReasonCode)
	assert.Equal(t, "professional", d.RequiredTier)

	assert.Zero(t, src.calls.Load())
}

func TestResolve_EntitledTier(t *testing.T) {
	src := &fakeSource{subs: map[string]*Subscription{
		"active":   {Tier: "professional", Status: StatusActive},
		"trial":    {Tier: "essential", Status: StatusTrialing},
		"graceful": {Tier: "professional", Status: StatusCanceled, CurrentPeriodEnd: now.Add(time.Hour)},
		"lapsed":   {Tier: "professional", Status: StatusCanceled, CurrentPeriodEnd: now.Add(-time.Hour)},
		"past_due": {Tier: "professional", Status: "past_due"},
		"mystery":  {Tier: "platinum", Status: StatusActive},
		"boundary": {Tier: "professional", Status: StatusCanceled, CurrentPeriodEnd: now},
	}}
	r := newResolver(t, src, true)
	ctx := context.Background()

	tests := []struct {
		uid     string
		tool    string
		allowed bool
		tier    string
	}{
		{"active", "careMapper", true, "professional"},
		{"trial", "agendaDesigner", true, "essential"},
		{"trial", "careMapper", false, "essential"},
		{"graceful", "careMapper", true, "professional"},
		{"lapsed", "careMapper", false, "free"},
		{"past_due", "careMapper", false, "free"},
		{"mystery", "symptomPro", true, "free"},
		{"boundary", "careMapper", false, "free"},
		{"nobody", "symptomPro", true, "free"},
	}
	for _, tt := range tests {
		t.Run(tt.uid+"/"+tt.tool, func(t *testing.T) {
			d := r.Resolve(ctx, tt.uid, tt.tool)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.tier, d.Tier)
			if !tt.allowed {
				assert.Equal(t, ReasonTierRequired, d.ReasonCode)
				assert.Equal(t, "professional", d.RequiredTier)
			}
		})
	}
}

func TestResolve_UnknownToolNeverFailsOpen(t *testing.T) {
	src := &fakeSource{err: errors.New("unavailable")}
	r := newResolver(t, src, true)

	d := r.Resolve(context.Background(), "u1", "doesNotExist")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonUnknownTool, d.ReasonCode)
	assert.Zero(t, src.calls.Load())
}

func TestResolve_StoreFailure(t *testing.T) {
	src := &fakeSource{err: errors.New("unavailable")}

	d := newResolver(t, src, true).Resolve(context.Background(), "u1", "trendTrack")
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonFailOpen, d.ReasonCode)
	assert.Equal(t, "free", d.Tier)
	assert.Equal(t, 50, d.Limits.Hourly, "metered as powerUser, the cheapest tier granting trendTrack")
	assert.Equal(t, 50, d.Limits.ComplexDaily)

	d = newResolver(t, src, true).Resolve(context.Background(), "u1", "symptomPro")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Limits.Hourly, "tools the default tier grants keep its limits")

	d = newResolver(t, src, true).Resolve(context.Background(), "u1", "resetPro")
	assert.True(t, d.Allowed)
	assert.Equal(t, 20, d.Limits.ComplexDaily, "metered as professional")

	d = newResolver(t, src, false).Resolve(context.Background(), "u1", "trendTrack")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonTierRequired, d.ReasonCode)

	d = newResolver(t, src, false).Resolve(context.Background(), "u1", "symptomPro")
	assert.True(t, d.Allowed)
	assert.Empty(t, d.ReasonCode)
}

func TestStanding(t *testing.T) {
	src := &fakeSource{subs: map[string]*Subscription{
		"lapsed":   {Tier: "essential", Status: "unpaid"},
	}}
	r := newResolver(t, src, true)
	ctx := context.Background()

	assert.Equal(t, StandingAnonymous, r.Standing(ctx, Anonymous).Status)
	assert.Equal(t, StandingNoSubscription, r.Standing(ctx, "nobody").Status)

	s := r.Standing(ctx, "lapsed")
	assert.Equal(t, StandingExpired, s.Status)
	assert.Equal(t, "free", s.Tier.Name)
	require.NotNil(t, s.Subscription)
	assert.Equal(t, "essential", s.Subscription.Tier)
}

func TestEntitled(t *testing.T) {
	assert.True(t, Entitled(StatusActive, time.Time{}, now))
	assert.True(t, Entitled(StatusTrialing, time.Time{}, now))
	assert.True(t, Entitled(StatusCanceled, now.Add(time.Second), now))
	assert.False(t, Entitled(StatusCanceled, now, now))
	assert.False(t, Entitled(StatusCanceled, time.Time{}, now))
	assert.False(t, Entitled("incomplete", now.Add(time.Hour), now))
	assert.False(t, Entitled("", time.Time{}, now))
}

func TestDocumentSource(t *testing.T) {
	store := storage.NewMemoryDocumentStore()
	ctx := context.Background()
	sub := &Subscription{
		Tier:                 "powerUser",
		Status:               StatusCanceled,
		StripeSubscriptionID: "sub_1",
		CurrentPeriodEnd:     now.Add(72 * time.Hour),
		CancelAtPeriodEnd:    true,
	}
	require.NoError(t, store.Set(ctx, UsersCollection, "u1", map[string]any{"subscription": sub.Fields()}, true))
	require.NoError(t, store.Set(ctx, UsersCollection, "u2", map[string]any{"subscription": "garbage"}, false))
	require.NoError(t, store.Set(ctx, UsersCollection, "u3", map[string]any{
		"subscription": map[string]any{"tier": "essential", "status": "active", "currentPeriodEnd": "2026-06-01T00:00:00Z"},
	}, false))

	src := NewDocumentSource(store)

	got, err := src.Subscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, sub, got)

	got, err = src.Subscription(ctx, "u2")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = src.Subscription(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), got.CurrentPeriodEnd)

	got, err = src.Subscription(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

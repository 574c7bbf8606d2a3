package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Carrie-PLH/plus/internal/access"
	"github.com/Carrie-PLH/plus/internal/catalog"
	"github.com/Carrie-PLH/plus/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

const whsec = "whsec_test"

type fakeProvider struct {
	customers int
	checkout  CheckoutSession
	portalFor string
	err       error
}

func (f *fakeProvider) CreateCustomer(_ context.Context, uid, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.customers++
	return "cus_" + uid, nil
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, s CheckoutSession) (*Session, error) {
	f.checkout = s
	return &Session{ID: "cs_1", URL: "https://checkout.test/cs_1"}, nil
}

func (f *fakeProvider) CreatePortalSession(_ context.Context, customerID, _ string) (string, error) {
	f.portalFor = customerID
	return "https://portal.test", nil
}

func newService(t *testing.T, provider Provider) (*Service, *storage.MemoryDocumentStore) {
	t.Helper()
	c, err := catalog.Default()
	require.NoError(t, err)
	docs := storage.NewMemoryDocumentStore()
	s := NewService(provider, docs, c, Config{
		WebhookSecret: whsec,
		Prices: map[string]string{
			"essential_monthly":    "price_ess_m",
			"professional_annual":  "price_pro_a",
			"professional_monthly": "price_pro_m",
		},
		SuccessURL: "https://app.test/success",
		CancelURL:  "https://app.test/subscribe",
		ReturnURL:  "https://app.test/account",
	}, nil)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return s, docs
}

func TestCreateCheckoutSession(t *testing.T) {
	p := &fakeProvider{}
	s, docs := newService(t, p)
	ctx := context.Background()

	sess, err := s.CreateCheckoutSession(ctx, CheckoutRequest{UID: "u1", Email: "u1@example.com", Tier: "essential"})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", sess.ID)
	assert.Equal(t, "price_ess_m", p.checkout.PriceID)
	assert.Equal(t, int64(7), p.checkout.TrialDays)
	assert.Equal(t, "https://app.test/success", p.checkout.SuccessURL)
	assert.Equal(t, map[string]string{MetaUID: "u1", MetaTier: "essential", MetaInterval: "monthly"}, p.checkout.Metadata)

	doc, err := docs.Get(ctx, access.UsersCollection, "u1")
	require.NoError(t, err)
	assert.Equal(t, "cus_u1", doc["stripeCustomerId"])

	_, err = s.CreateCheckoutSession(ctx, CheckoutRequest{UID: "u1", Tier: "professional", Interval: "annual", CancelURL: "https://x.test/back"})
	require.NoError(t, err)
	assert.Equal(t, 1, p.customers, "customer is reused")
	assert.Equal(t, int64(14), p.checkout.TrialDays)
	assert.Equal(t, "https://x.test/back", p.checkout.CancelURL)
}

func TestCreateCheckoutSession_Errors(t *testing.T) {
	s, _ := newService(t, &fakeProvider{})
	_, err := s.CreateCheckoutSession(context.Background(), CheckoutRequest{UID: "u1", Tier: "enterprise"})
	assert.ErrorIs(t, err, ErrUnknownPrice)

	s, _ = newService(t, &fakeProvider{err: errors.New("stripe down")})
	_, err = s.CreateCheckoutSession(context.Background(), CheckoutRequest{UID: "u1", Tier: "essential"})
	assert.Error(t, err)

	s, _ = newService(t, nil)
	_, err = s.CreateCheckoutSession(context.Background(), CheckoutRequest{UID: "u1", Tier: "essential"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestCreatePortalSession(t *testing.T) {
	p := &fakeProvider{}
	s, docs := newService(t, p)
	ctx := context.Background()

	_, err := s.CreatePortalSession(ctx, "u1", "")
	assert.ErrorIs(t, err, ErrNoCustomer)

	require.NoError(t, docs.Set(ctx, access.UsersCollection, "u1", map[string]any{"stripeCustomerId": "cus_9"}, true))
	url, err := s.CreatePortalSession(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, "https://portal.test", url)
	assert.Equal(t, "cus_9", p.portalFor)
}

func signed(t *testing.T, payload string) ([]byte, string) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    whsec,
		Timestamp: time.Now(),
	})
	return sp.Payload, sp.Header
}

func subscriptionEventJSON(typ, status string, meta string, periodEnd, trialEnd int64) string {
	return fmt.Sprintf(`{
  "id": "evt_1",
  "object": "event",
  "type": %q,
  "data": {"object": {
    "id": "sub_1",
    "object": "subscription",
    "status": %q,
    "current_period_end": %d,
    "cancel_at_period_end": false,
    "trial_end": %d,
    "metadata": %s
  }}
}`, typ, status, periodEnd, trialEnd, meta)
}

func TestHandleWebhook_SubscriptionUpdated(t *testing.T) {
	s, docs := newService(t, nil)
	ctx := context.Background()
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	payload, sig := signed(t, subscriptionEventJSON(EventSubscriptionUpdated, "trialing",
		`{"firebaseUID": "u1", "tier": "professional"}`, end.Unix(), end.Unix()))

	ev, err := s.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, "u1", ev.UID)
	assert.Equal(t, "professional", ev.Tier)
	assert.Equal(t, "trialing", ev.Status)
	assert.Equal(t, end, ev.CurrentPeriodEnd)

	sub, err := access.NewDocumentSource(docs).Subscription(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "professional", sub.Tier)
	assert.Equal(t, "sub_1", sub.StripeSubscriptionID)
	assert.Equal(t, end, sub.TrialEnd)
}

func TestHandleWebhook_DefaultsTierAndClearsTrial(t *testing.T) {
	s, docs := newService(t, nil)
	ctx := context.Background()

	payload, sig := signed(t, subscriptionEventJSON(EventSubscriptionCreated, "trialing",
		`{"firebaseUID": "u1", "tier": "professional"}`, 1775000000, 1775000000))
	_, err := s.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)

	payload, sig = signed(t, subscriptionEventJSON(EventSubscriptionUpdated, "active",
		`{"firebaseUID": "u1"}`, 1777000000, 0))
	_, err = s.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)

	sub, err := access.NewDocumentSource(docs).Subscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "essential", sub.Tier)
	assert.Equal(t, access.StatusActive, sub.Status)
	assert.True(t, sub.TrialEnd.IsZero())
}

func TestHandleWebhook_Deleted(t *testing.T) {
	s, docs := newService(t, nil)
	ctx := context.Background()

	payload, sig := signed(t, subscriptionEventJSON(EventSubscriptionCreated, "active",
		`{"firebaseUID": "u1", "tier": "powerUser"}`, 1775000000, 0))
	_, err := s.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)

	payload, sig = signed(t, subscriptionEventJSON(EventSubscriptionDeleted, "canceled",
		`{"firebaseUID": "u1", "tier": "powerUser"}`, 1775000000, 0))
	_, err = s.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)

	sub, err := access.NewDocumentSource(docs).Subscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "free", sub.Tier)
	assert.Equal(t, access.StatusCanceled, sub.Status)
	assert.Equal(t, s.now().Unix(), sub.CanceledAt.Unix())
	assert.Equal(t, "sub_1", sub.StripeSubscriptionID, "sibling fields survive the merge")
}

func TestHandleWebhook_Ignored(t *testing.T) {
	s, docs := newService(t, nil)

	payload, sig := signed(t, subscriptionEventJSON(EventSubscriptionUpdated, "active", `{}`, 1775000000, 0))
	ev, err := s.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Empty(t, ev.UID)

	payload, sig = signed(t, `{"id": "evt_2", "object": "event", "type": "invoice.payment_failed", "data": {"object": {"id": "in_1", "object": "invoice"}}}`)
	ev, err = s.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, EventPaymentFailed, ev.Type)

	assert.Zero(t, docs.Len(access.UsersCollection))
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	s, _ := newService(t, nil)
	payload, _ := signed(t, subscriptionEventJSON(EventSubscriptionUpdated, "active", `{}`, 0, 0))

	_, err := s.HandleWebhook(context.Background(), payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrSignature)

	s.cfg.WebhookSecret = ""
	_, err = s.HandleWebhook(context.Background(), payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

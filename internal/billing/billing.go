// Package billing creates Stripe checkout and portal sessions and turns
// verified webhook events into subscription records under users/{uid}.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Carrie-PLH/plus/internal/access"
	"github.com/Carrie-PLH/plus/internal/catalog"
	"github.com/Carrie-PLH/plus/internal/storage"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

var (
	ErrNotConfigured = errors.New("billing is not configured")
	ErrUnknownPrice  = errors.New("no price configured for this plan")
	ErrNoCustomer    = errors.New("no subscription found")
	ErrSignature     = errors.New("webhook signature verification failed")
)

// Metadata keys written on checkout and read back from subscription events.
const (
	MetaUID      = "firebaseUID"
	MetaTier     = "tier"
	MetaInterval = "interval"
)

const customerField = "stripeCustomerId"

const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentSucceeded    = "invoice.payment_succeeded"
	EventPaymentFailed       = "invoice.payment_failed"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	// Prices maps "<tier>_<interval>" to a Stripe price id.
	Prices     map[string]string
	SuccessURL string
	CancelURL  string
	ReturnURL  string
}

// Provider is the subset of the Stripe API used here.
type Provider interface {
	CreateCustomer(ctx context.Context, uid, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, s CheckoutSession) (*Session, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// CheckoutSession is what the provider is asked to create.
type CheckoutSession struct {
	CustomerID string
	PriceID    string
	TrialDays  int64
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

type Session struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

type CheckoutRequest struct {
	UID        string
	Email      string
	Tier       string
	Interval   string
	SuccessURL string
	CancelURL  string
}

// Event is a verified webhook event reduced to what the subscription record
// needs. UID is empty when the subscription carries no owner metadata.
type Event struct {
	ID                string    `json:"id"`
	Type              string    `json:"type"`
	UID               string    `json:"uid,omitempty"`
	SubscriptionID    string    `json:"subscriptionId,omitempty"`
	Tier              string    `json:"tier,omitempty"`
	Status            string    `json:"status,omitempty"`
	CurrentPeriodEnd  time.Time `json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool      `json:"cancelAtPeriodEnd"`
	TrialEnd          time.Time `json:"trialEnd"`
}

type Service struct {
	provider Provider
	docs     storage.DocumentStore
	catalog  *catalog.Catalog
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewService returns a billing service. provider may be nil when no secret
// key is configured; session calls then fail with ErrNotConfigured.
func NewService(provider Provider, docs storage.DocumentStore, c *catalog.Catalog, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		provider: provider,
		docs:     docs,
		catalog:  c,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateCheckoutSession starts a subscription checkout for req.Tier. The
// Stripe customer is created on first use and remembered on the user.
func (s *Service) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error) {
	if s.provider == nil {
		return nil, ErrNotConfigured
	}
	if req.Interval == "" {
		req.Interval = "monthly"
	}
	priceID, ok := s.cfg.Prices[req.Tier+"_"+req.Interval]
	if !ok || priceID == "" {
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownPrice, req.Tier, req.Interval)
	}

	customerID, err := s.customer(ctx, req.UID, req.Email)
	if err != nil {
		return nil, err
	}

	return s.provider.CreateCheckoutSession(ctx, CheckoutSession{
		CustomerID: customerID,
		PriceID:    priceID,
		TrialDays:  trialDays(req.Tier),
		SuccessURL: orDefault(req.SuccessURL, s.cfg.SuccessURL),
		CancelURL:  orDefault(req.CancelURL, s.cfg.CancelURL),
		Metadata: map[string]string{
			MetaUID:      req.UID,
			MetaTier:     req.Tier,
			MetaInterval: req.Interval,
		},
	})
}

// CreatePortalSession opens the billing portal for a user who has been
// through checkout before.
func (s *Service) CreatePortalSession(ctx context.Context, uid, returnURL string) (string, error) {
	if s.provider == nil {
		return "", ErrNotConfigured
	}
	doc, err := s.docs.Get(ctx, access.UsersCollection, uid)
	if err != nil {
		return "", fmt.Errorf("loading user: %w", err)
	}
	customerID, _ := doc[customerField].(string)
	if customerID == "" {
		return "", ErrNoCustomer
	}
	return s.provider.CreatePortalSession(ctx, customerID, orDefault(returnURL, s.cfg.ReturnURL))
}

func (s *Service) customer(ctx context.Context, uid, email string) (string, error) {
	doc, err := s.docs.Get(ctx, access.UsersCollection, uid)
	if err != nil {
		return "", fmt.Errorf("loading user: %w", err)
	}
	if id, _ := doc[customerField].(string); id != "" {
		return id, nil
	}

	id, err := s.provider.CreateCustomer(ctx, uid, email)
	if err != nil {
		return "", fmt.Errorf("creating customer: %w", err)
	}
	if err := s.docs.Set(ctx, access.UsersCollection, uid, map[string]any{customerField: id}, true); err != nil {
		return "", fmt.Errorf("saving customer: %w", err)
	}
	return id, nil
}

// trialDays is 7 for the entry plan and 14 for everything else.
func trialDays(tier string) int64 {
	if tier == "essential" {
		return 7
	}
	return 14
}

// HandleWebhook verifies and applies one webhook delivery.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	ev, err := s.ParseEvent(payload, signature)
	if err != nil {
		return nil, err
	}
	if err := s.Apply(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// ParseEvent checks the Stripe-Signature header and maps the event.
func (s *Service) ParseEvent(payload []byte, signature string) (*Event, error) {
	if s.cfg.WebhookSecret == "" {
		return nil, ErrNotConfigured
	}
	raw, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignature, err)
	}
	return mapEvent(raw)
}

func mapEvent(raw stripe.Event) (*Event, error) {
	ev := &Event{ID: raw.ID, Type: string(raw.Type)}
	if !subscriptionEvent(ev.Type) || raw.Data == nil {
		return ev, nil
	}

	var sub stripe.Subscription
	if err := json.Unmarshal(raw.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("decoding subscription: %w", err)
	}
	ev.UID = sub.Metadata[MetaUID]
	ev.SubscriptionID = sub.ID
	ev.Tier = sub.Metadata[MetaTier]
	if ev.Tier == "" {
		ev.Tier = "essential"
	}
	ev.Status = string(sub.Status)
	ev.CurrentPeriodEnd = unix(sub.CurrentPeriodEnd)
	ev.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	ev.TrialEnd = unix(sub.TrialEnd)
	return ev, nil
}

func subscriptionEvent(t string) bool {
	switch t {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		return true
	}
	return false
}

// Apply writes the subscription record for ev. Events without an owner and
// event types that carry no subscription state are logged and skipped.
func (s *Service) Apply(ctx context.Context, ev *Event) error {
	if !subscriptionEvent(ev.Type) {
		s.logger.Info("unhandled billing event", zap.String("type", ev.Type), zap.String("event_id", ev.ID))
		return nil
	}
	if ev.UID == "" {
		s.logger.Warn("billing event has no user", zap.String("type", ev.Type), zap.String("event_id", ev.ID))
		return nil
	}

	now := s.now()
	var fields map[string]any
	if ev.Type == EventSubscriptionDeleted {
		fields = map[string]any{
			"tier":       "free",
			"status":     access.StatusCanceled,
			"canceledAt": now.Unix(),
		}
	} else {
		sub := access.Subscription{
			Tier:                 ev.Tier,
			Status:               ev.Status,
			StripeSubscriptionID: ev.SubscriptionID,
			CurrentPeriodEnd:     ev.CurrentPeriodEnd,
			CancelAtPeriodEnd:    ev.CancelAtPeriodEnd,
			TrialEnd:             ev.TrialEnd,
		}
		if _, ok := s.catalog.Tier(sub.Tier); !ok {
			s.logger.Warn("billing event names unknown tier", zap.String("tier", sub.Tier), zap.String("user_id", ev.UID))
		}
		fields = sub.Fields()
		if ev.TrialEnd.IsZero() {
			fields["trialEnd"] = nil
		}
	}

	err := s.docs.Set(ctx, access.UsersCollection, ev.UID, map[string]any{
		"subscription": fields,
		"updatedAt":    now.Unix(),
	}, true)
	if err != nil {
		return fmt.Errorf("saving subscription: %w", err)
	}

	s.logger.Info("subscription updated",
		zap.String("user_id", ev.UID),
		zap.String("type", ev.Type),
		zap.String("tier", fmt.Sprint(fields["tier"])),
		zap.String("status", fmt.Sprint(fields["status"])),
	)
	return nil
}

func unix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

package access

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Carrie-PLH/plus/internal/storage"
	"golang.org/x/sync/singleflight"
)

// UsersCollection holds one document per user, keyed by uid.
const UsersCollection = "users"

const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusCanceled = "canceled"
)

// Subscription is the billing state stored under users/{uid}.subscription.
type Subscription struct {
	Tier                 string    `json:"tier"`
	Status               string    `json:"status"`
	StripeSubscriptionID string    `json:"stripeSubscriptionId,omitempty"`
	CurrentPeriodEnd     time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd    bool      `json:"cancelAtPeriodEnd"`
	TrialEnd             time.Time `json:"trialEnd,omitempty"`
	CanceledAt           time.Time `json:"canceledAt,omitempty"`
}

// Entitled reports whether a subscription in status grants its tier at now.
// Canceled subscriptions keep access until the paid period ends.
func Entitled(status string, currentPeriodEnd, now time.Time) bool {
	switch status {
	case StatusActive, StatusTrialing:
		return true
	case StatusCanceled:
		return now.Before(currentPeriodEnd)
	default:
		return false
	}
}

func (s *Subscription) EntitledAt(now time.Time) bool {
	return Entitled(s.Status, s.CurrentPeriodEnd, now)
}

// Fields renders s for a merge write. Times are stored as unix seconds and
// zero times are left out.
func (s *Subscription) Fields() map[string]any {
	f := map[string]any{
		"tier":              s.Tier,
		"status":            s.Status,
		"cancelAtPeriodEnd": s.CancelAtPeriodEnd,
	}
	if s.StripeSubscriptionID != "" {
		f["stripeSubscriptionId"] = s.StripeSubscriptionID
	}
	putTime(f, "currentPeriodEnd", s.CurrentPeriodEnd)
	putTime(f, "trialEnd", s.TrialEnd)
	putTime(f, "canceledAt", s.CanceledAt)
	return f
}

func putTime(f map[string]any, key string, t time.Time) {
	if !t.IsZero() {
		f[key] = t.Unix()
	}
}

// SubscriptionFromDocument reads the subscription map of a user document.
// It returns nil when the document has none or it is not an object.
func SubscriptionFromDocument(doc map[string]any) *Subscription {
	raw, ok := doc["subscription"].(map[string]any)
	if !ok {
		return nil
	}
	s := &Subscription{
		Tier:                 str(raw["tier"]),
		Status:               str(raw["status"]),
		StripeSubscriptionID: str(raw["stripeSubscriptionId"]),
		CurrentPeriodEnd:     timeOf(raw["currentPeriodEnd"]),
		TrialEnd:             timeOf(raw["trialEnd"]),
		CanceledAt:           timeOf(raw["canceledAt"]),
	}
	s.CancelAtPeriodEnd, _ = raw["cancelAtPeriodEnd"].(bool)
	return s
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// timeOf accepts unix seconds or an RFC 3339 string.
func timeOf(v any) time.Time {
	switch t := v.(type) {
	case float64:
		return time.Unix(int64(t), 0).UTC()
	case int64:
		return time.Unix(t, 0).UTC()
	case int:
		return time.Unix(int64(t), 0).UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed
		}
		if secs, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC()
		}
	}
	return time.Time{}
}

// SubscriptionSource looks up a user's subscription. A nil subscription with
// a nil error means the user has none.
type SubscriptionSource interface {
	Subscription(ctx context.Context, uid string) (*Subscription, error)
}

// DocumentSource reads subscriptions from users/{uid}. Concurrent lookups for
// one uid share a single store read.
type DocumentSource struct {
	store storage.DocumentStore
	group singleflight.Group
}

func NewDocumentSource(store storage.DocumentStore) *DocumentSource {
	return &DocumentSource{store: store}
}

func (s *DocumentSource) Subscription(ctx context.Context, uid string) (*Subscription, error) {
	v, err, _ := s.group.Do(uid, func() (any, error) {
		doc, err := s.store.Get(ctx, UsersCollection, uid)
		if err != nil {
			return nil, fmt.Errorf("failed to read user %s: %w", uid, err)
		}
		return SubscriptionFromDocument(doc), nil
	})
	if err != nil {
		return nil, err
	}
	sub, _ := v.(*Subscription)
	return sub, nil
}

// Package access decides which subscription tier a caller holds and whether
// that tier may run a tool.
package access

import (
	"context"
	"time"

	"github.com/Carrie-PLH/plus/internal/catalog"
	"go.uber.org/zap"
)

// Anonymous is the caller id used when a request carries no credentials.
const Anonymous = "anonymous"

const (
	ReasonTierRequired = "tier_required"
	ReasonUnknownTool  = "unknown_tool"
	ReasonFailOpen     = "fail_open"
)

// Standing statuses reported alongside the subscription's own status.
const (
	StandingAnonymous      = "anonymous"
	StandingNoSubscription = "no_subscription"
	StandingExpired        = "expired"
	StandingError          = "error"
)

type Decision struct {
	Allowed      bool           `json:"allowed"`
	ReasonCode   string         `json:"reasonCode,omitempty"`
	Tier         string         `json:"tier"`
	RequiredTier string         `json:"requiredTier,omitempty"`
	Limits       catalog.Limits `json:"-"`
	Tool         catalog.Tool   `json:"-"`
}

// Standing is the caller's effective tier and where it came from.
type Standing struct {
	Tier         *catalog.Tier
	Status       string
	Subscription *Subscription
	Err          error
}

type Resolver struct {
	catalog  *catalog.Catalog
	source   SubscriptionSource
	failOpen bool
	logger   *zap.Logger
	now      func() time.Time
}

func NewResolver(c *catalog.Catalog, source SubscriptionSource, failOpen bool, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		catalog:  c,
		source:   source,
		failOpen: failOpen,
		logger:   logger,
		now:      time.Now,
	}
}

// Standing resolves the caller's tier. It never fails: anonymous callers,
// missing or lapsed subscriptions and unknown tier names all land on the
// default tier. A store error is reported in Err with the default tier.
func (r *Resolver) Standing(ctx context.Context, userID string) Standing {
	free := r.catalog.DefaultTier()
	if userID == "" || userID == Anonymous {
		return Standing{Tier: free, Status: StandingAnonymous}
	}

	sub, err := r.source.Subscription(ctx, userID)
	if err != nil {
		return Standing{Tier: free, Status: StandingError, Err: err}
	}
	if sub == nil {
		return Standing{Tier: free, Status: StandingNoSubscription}
	}
	if !sub.EntitledAt(r.now()) {
		return Standing{Tier: free, Status: StandingExpired, Subscription: sub}
	}

	tier, ok := r.catalog.Tier(sub.Tier)
	if !ok {
		r.logger.Warn("subscription names unknown tier",
			zap.String("user_id", userID),
			zap.String("tier", sub.Tier),
		)
		tier = free
	}
	return Standing{Tier: tier, Status: sub.Status, Subscription: sub}
}

// Resolve decides whether userID may run toolID. Unknown tools are denied
// before any store read.
func (r *Resolver) Resolve(ctx context.Context, userID, toolID string) Decision {
	tool, ok := r.catalog.Tool(toolID)
	if !ok {
		return Decision{
			Allowed:    false,
			ReasonCode: ReasonUnknownTool,
			Tier:       r.catalog.DefaultTierName,
		}
	}

	standing := r.Standing(ctx, userID)
	if standing.Err != nil {
		r.logger.Error("subscription lookup failed",
			zap.String("user_id", userID),
			zap.String("tool", toolID),
			zap.Bool("fail_open", r.failOpen),
			zap.Error(standing.Err),
		)
		if r.failOpen {
			// Meter the call as the cheapest tier that grants the tool, so
			// paid tools keep paid limits while the store is down.
			metered := standing.Tier
			if !metered.Allows(toolID) {
				if required, ok := r.catalog.MinimumTier(toolID); ok {
					metered = required
				}
			}
			return Decision{
				Allowed:    true,
				ReasonCode: ReasonFailOpen,
				Tier:       standing.Tier.Name,
				Limits:     metered.Limits,
				Tool:       tool,
			}
		}
	}

	d := Decision{
		Allowed: standing.Tier.Allows(toolID),
		Tier:    standing.Tier.Name,
		Limits:  standing.Tier.Limits,
		Tool:    tool,
	}
	if !d.Allowed {
		d.ReasonCode = ReasonTierRequired
		if required, ok := r.catalog.MinimumTier(toolID); ok {
			d.RequiredTier = required.Name
		}
	}
	return d
}

package handler

import (
	"net/http"
	"time"

	"github.com/Carrie-PLH/plus/internal/access"
	"github.com/Carrie-PLH/plus/internal/catalog"
	"github.com/Carrie-PLH/plus/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AccessHandler answers tier and entitlement questions without spending
// quota.
type AccessHandler struct {
	catalog  *catalog.Catalog
	resolver *access.Resolver
	limiter  *ratelimit.Limiter
	logger   *zap.Logger
}

func NewAccessHandler(c *catalog.Catalog, resolver *access.Resolver, limiter *ratelimit.Limiter, logger *zap.Logger) *AccessHandler {
	return &AccessHandler{catalog: c, resolver: resolver, limiter: limiter, logger: nopIfNil(logger)}
}

type tierView struct {
	*catalog.Tier
	Benefits []string `json:"benefits"`
}

// Handles GET /v1/tiers
func (h *AccessHandler) Tiers(c *gin.Context) {
	tiers := make([]tierView, 0, len(h.catalog.Tiers))
	for i := range h.catalog.Tiers {
		t := &h.catalog.Tiers[i]
		tiers = append(tiers, tierView{Tier: t, Benefits: h.catalog.Benefits(t.Name)})
	}
	ok(c, http.StatusOK, gin.H{
		"defaultTier": h.catalog.DefaultTierName,
		"tiers":       tiers,
	})
}

// Handles GET /v1/tiers/compare?from=&tool=
func (h *AccessHandler) Compare(c *gin.Context) {
	tool := c.Query("tool")
	if tool == "" {
		invalid(c, "Provide 'tool'")
		return
	}
	cmp, err := h.catalog.Compare(c.Query("from"), tool)
	if err != nil {
		invalid(c, "Unknown tool: "+tool)
		return
	}
	ok(c, http.StatusOK, cmp)
}

// Handles POST /v1/access/check
func (h *AccessHandler) Check(c *gin.Context) {
	var req struct {
		ToolID string `json:"toolId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ToolID == "" {
		invalid(c, "Provide 'toolId'")
		return
	}

	uid := callerID(c)
	d := h.resolver.Resolve(c.Request.Context(), uid, req.ToolID)
	if d.ReasonCode == access.ReasonUnknownTool {
		invalid(c, "Unknown tool: "+req.ToolID)
		return
	}

	out := gin.H{
		"allowed":    d.Allowed,
		"reasonCode": d.ReasonCode,
		"tier":       d.Tier,
	}
	if !d.Allowed {
		out["requiredTier"] = d.RequiredTier
		if cmp, err := h.catalog.Compare(d.Tier, req.ToolID); err == nil {
			out["comparison"] = cmp
		}
		ok(c, http.StatusOK, out)
		return
	}

	windows, err := h.limiter.Status(c.Request.Context(), uid, d.Tool, d.Limits, time.Now())
	if err != nil {
		h.logger.Warn("usage counters unavailable", zap.String("user_id", uid), zap.Error(err))
	} else {
		out["windows"] = windows
	}
	ok(c, http.StatusOK, out)
}

// Handles GET /v1/subscription
func (h *AccessHandler) Subscription(c *gin.Context) {
	standing := h.resolver.Standing(c.Request.Context(), callerID(c))
	status := standing.Status
	if status == access.StandingAnonymous {
		status = "unauthenticated"
	}
	if standing.Err != nil {
		h.logger.Error("subscription lookup failed", zap.String("user_id", callerID(c)), zap.Error(standing.Err))
	}

	out := gin.H{
		"tier":      standing.Tier.Name,
		"status":    status,
		"canAccess": h.catalog.ToolsForTier(standing.Tier.Name),
	}
	if sub := standing.Subscription; sub != nil && standing.Status != access.StandingExpired {
		if !sub.CurrentPeriodEnd.IsZero() {
			out["periodEnd"] = sub.CurrentPeriodEnd
		}
		out["cancelAtPeriodEnd"] = sub.CancelAtPeriodEnd
	}
	ok(c, http.StatusOK, out)
}

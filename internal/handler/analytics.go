package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Carrie-PLH/plus/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AnalyticsHandler struct {
	service *service.AnalyticsService
	logger  *zap.Logger
}

func NewAnalyticsHandler(service *service.AnalyticsService, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{service: service, logger: nopIfNil(logger)}
}

// Handles GET /v1/me/usage
func (h *AnalyticsHandler) Usage(c *gin.Context) {
	report, err := h.service.Usage(c.Request.Context(), callerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, report)
}

// Handles GET /v1/me/usage/history?limit=
func (h *AnalyticsHandler) History(c *gin.Context) {
	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 0 {
			invalid(c, "'limit' must be a positive number")
			return
		}
		limit = l
	}

	events, err := h.service.History(c.Request.Context(), callerID(c), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"events": events})
}

// Handles GET /v1/me/usage/chart?period=week|month|year
func (h *AnalyticsHandler) Chart(c *gin.Context) {
	period := c.DefaultQuery("period", "week")
	switch period {
	case "week", "month", "year":
	default:
		invalid(c, "'period' must be week, month or year")
		return
	}

	chart, err := h.service.Chart(c.Request.Context(), callerID(c), period)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, chart)
}

// Handles GET /v1/me/dashboard
func (h *AnalyticsHandler) Dashboard(c *gin.Context) {
	d, err := h.service.Dashboard(c.Request.Context(), callerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

func (h *AnalyticsHandler) respondError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrAnalyticsUnavailable) {
		fail(c, http.StatusServiceUnavailable, "Usage history is not available", "analytics_unavailable")
		return
	}
	failErr(c, h.logger, err)
}

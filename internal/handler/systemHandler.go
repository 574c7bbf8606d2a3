package handler

import (
	"net/http"
	"time"

	"github.com/Carrie-PLH/plus/internal/circuitbreaker"
	"github.com/Carrie-PLH/plus/internal/healthcheck"
	"github.com/gin-gonic/gin"
)

// Handles system-related endpoints
type SystemHandler struct {
	checker  *healthcheck.Checker
	breakers map[string]func() circuitbreaker.Metrics
	version  string
	started  time.Time
}

func NewSystemHandler(checker *healthcheck.Checker, breakers map[string]func() circuitbreaker.Metrics, version string) *SystemHandler {
	return &SystemHandler{
		checker:  checker,
		breakers: breakers,
		version:  version,
		started:  time.Now(),
	}
}

// Handles GET /health. Degraded dependencies answer 503.
func (h *SystemHandler) Health(c *gin.Context) {
	overall := h.checker.OverallHealth()
	statusCode := http.StatusOK
	if overall != healthcheck.Healthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    overall.String(),
		"service":   "plus",
		"version":   h.version,
		"uptime":    time.Since(h.started).Seconds(),
		"timestamp": time.Now().Unix(),
		"checks":    h.checker.GetAllStatus(),
		"breakers":  h.breakerStatus(),
	})
}

// Returns the state of each provider circuit
func (h *SystemHandler) breakerStatus() map[string]any {
	statuses := make(map[string]any, len(h.breakers))
	for name, metrics := range h.breakers {
		m := metrics()
		statuses[name] = gin.H{
			"state":             m.State.String(),
			"failure_count":     m.FailureCount,
			"last_failure_time": m.LastFailureTime,
			"last_state_change": m.LastStateChange,
		}
	}
	return statuses
}

package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Carrie-PLH/plus/internal/catalog"
	"github.com/Carrie-PLH/plus/internal/pipeline"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ToolHandler struct {
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
}

func NewToolHandler(p *pipeline.Pipeline, logger *zap.Logger) *ToolHandler {
	return &ToolHandler{pipeline: p, logger: nopIfNil(logger)}
}

// Handles POST /v1/tools/:toolId. The body is the tool's input object.
func (h *ToolHandler) Run(c *gin.Context) {
	var inputs map[string]any
	if err := c.ShouldBindJSON(&inputs); err != nil && !errors.Is(err, io.EOF) {
		invalid(c, "Request body must be a JSON object")
		return
	}

	res, err := h.pipeline.Run(c.Request.Context(), callerID(c), c.Param("toolId"), inputs)
	if err != nil {
		var denied *pipeline.AccessDeniedError
		if errors.As(err, &denied) && denied.ResetInSeconds > 0 {
			c.Header("Retry-After", strconv.Itoa(denied.ResetInSeconds))
		}
		failErr(c, h.logger, err)
		return
	}

	if res.Usage.Remaining != catalog.Unlimited {
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Usage.Remaining))
	}
	if res.Fallback {
		c.Header("X-Tool-Fallback", "true")
	}
	if res.Cached {
		c.Header("X-Tool-Cache", "hit")
	}
	ok(c, http.StatusOK, res.Data)
}

package handler

import (
	"errors"
	"net/http"

	"github.com/Carrie-PLH/plus/internal/access"
	"github.com/Carrie-PLH/plus/internal/service"
	"github.com/Carrie-PLH/plus/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type APIKeyHandler struct {
	service  *service.APIKeyService
	resolver *access.Resolver
	logger   *zap.Logger
}

func NewAPIKeyHandler(service *service.APIKeyService, resolver *access.Resolver, logger *zap.Logger) *APIKeyHandler {
	return &APIKeyHandler{service: service, resolver: resolver, logger: nopIfNil(logger)}
}

// Handles POST /v1/me/keys
func (h *APIKeyHandler) Create(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "Provide 'name'")
		return
	}

	ctx := c.Request.Context()
	uid := callerID(c)
	tier := h.resolver.Standing(ctx, uid).Tier.Name

	key, apiKey, err := h.service.Create(ctx, uid, req.Name, tier)
	if err != nil {
		if errors.Is(err, service.ErrAPIAccessRequired) {
			fail(c, http.StatusForbidden, "Your plan does not include API access. Upgrade to create keys.", access.ReasonTierRequired)
			return
		}
		failErr(c, h.logger, err)
		return
	}

	ok(c, http.StatusCreated, gin.H{
		"key":     key,
		"apiKey":  apiKey,
		"message": "Save this key - it won't be shown again",
	})
}

// Handles GET /v1/me/keys
func (h *APIKeyHandler) List(c *gin.Context) {
	keys, err := h.service.List(c.Request.Context(), callerID(c))
	if err != nil {
		failErr(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"keys": keys})
}

// Handles DELETE /v1/me/keys/:id
func (h *APIKeyHandler) Delete(c *gin.Context) {
	if err := h.service.Revoke(c.Request.Context(), callerID(c), c.Param("id")); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fail(c, http.StatusNotFound, "API key not found", "not_found")
			return
		}
		failErr(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"revoked": c.Param("id")})
}

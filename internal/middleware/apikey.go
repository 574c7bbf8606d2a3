package middleware

import (
	"context"

	"github.com/Carrie-PLH/plus/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	APIKeyHeader = "X-API-Key"
	APIKeyCtxKey = "api_key"
)

// KeyValidator resolves API keys. service.APIKeyService implements it.
type KeyValidator interface {
	Validate(ctx context.Context, key string) (*models.APIKey, error)
	UpdateLastUsed(ctx context.Context, id uuid.UUID)
}

func identifyAPIKey(c *gin.Context, keys KeyValidator, key string) bool {
	ctx := c.Request.Context()
	apiKey, err := keys.Validate(ctx, key)
	if err != nil || apiKey == nil {
		return false
	}

	c.Set(APIKeyCtxKey, apiKey)
	c.Set(UserIDKey, apiKey.OwnerUID)
	c.Set(AuthMethodKey, "api_key")

	go keys.UpdateLastUsed(context.WithoutCancel(ctx), apiKey.ID)
	return true
}

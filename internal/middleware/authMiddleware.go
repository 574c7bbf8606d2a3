package middleware

import (
	"net/http"
	"strings"

	"github.com/Carrie-PLH/plus/internal/access"
	"github.com/Carrie-PLH/plus/internal/pipeline"
	"github.com/Carrie-PLH/plus/internal/service"
	"github.com/gin-gonic/gin"
)

const (
	UserIDKey     = "user_id"
	EmailKey      = "email"
	AuthMethodKey = "auth_method"

	CodeUnauthenticated = "unauthenticated"
)

// Identify sets the caller's uid from a bearer token or an API key. Requests
// with neither run as anonymous; bad credentials are rejected with 401.
func Identify(auth *service.AuthService, keys KeyValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(UserIDKey, access.Anonymous)
		c.Set(AuthMethodKey, "anonymous")

		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			// Check Bearer prefix
			parts := strings.Fields(authHeader)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				unauthorized(c, "Invalid authorization header format. Use: Bearer <token>")
				return
			}

			uid, claims, err := auth.ValidateToken(parts[1])
			if err != nil {
				unauthorized(c, "Invalid or expired token")
				return
			}

			c.Set(UserIDKey, uid)
			c.Set(AuthMethodKey, "jwt")
			if email, ok := claims["email"].(string); ok {
				c.Set(EmailKey, email)
			}
			c.Next()
			return
		}

		if key := strings.TrimSpace(c.GetHeader(APIKeyHeader)); key != "" && keys != nil {
			if !identifyAPIKey(c, keys, key) {
				unauthorized(c, "Invalid API key")
				return
			}
		}

		c.Next()
	}
}

// RequireUser rejects anonymous callers.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid := c.GetString(UserIDKey); uid == "" || uid == access.Anonymous {
			unauthorized(c, "Authentication required")
			return
		}
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, pipeline.Failure(message, CodeUnauthenticated))
}

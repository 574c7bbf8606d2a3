package middleware

import (
	"fmt"

	"github.com/Carrie-PLH/plus/internal/pipeline"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic",
					zap.String("request_id", c.GetString(RequestIDKey)),
					zap.String("path", c.Request.URL.Path),
					zap.Any("panic", err),
					zap.Stack("stack"),
				)

				status, body := pipeline.FailureFor(fmt.Errorf("panic: %v", err))
				c.AbortWithStatusJSON(status, body)
			}
		}()
		c.Next()
	}
}

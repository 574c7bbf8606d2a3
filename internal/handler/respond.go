package handler

import (
	"net/http"

	"github.com/Carrie-PLH/plus/internal/middleware"
	"github.com/Carrie-PLH/plus/internal/pipeline"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, pipeline.Success(data))
}

func fail(c *gin.Context, status int, message, code string) {
	c.JSON(status, pipeline.Failure(message, code))
}

// failErr maps err through the pipeline taxonomy. Unexpected errors are
// logged here because their cause never reaches the caller.
func failErr(c *gin.Context, logger *zap.Logger, err error) {
	status, body := pipeline.FailureFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, body)
}

func invalid(c *gin.Context, message string) {
	fail(c, http.StatusBadRequest, message, pipeline.CodeInvalidInput)
}

func callerID(c *gin.Context) string {
	return c.GetString(middleware.UserIDKey)
}

func nopIfNil(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

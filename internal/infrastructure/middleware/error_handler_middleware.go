package middleware

import (
	"net/http"

	apperrors "liveclass/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware translates AppErrors attached to the gin
// context into structured responses.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		appErr := apperrors.From(err)
		logger.Errorw("request failed",
			"code", appErr.Code,
			"message", appErr.Message,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		c.JSON(appErr.HTTPStatus(), gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		})
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   string(apperrors.CodeInternal),
					"message": "Internal server error",
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}

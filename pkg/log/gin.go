package log

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestLogger returns a gin middleware that logs each request with zerolog
// and attaches a request-scoped logger to the request context.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Writer.Header().Set("X-Request-ID", requestID)

		logger := L().With().
			Str(FieldRequestID, requestID).
			Str(FieldMethod, c.Request.Method).
			Str(FieldPath, c.Request.URL.Path).
			Logger()
		c.Request = c.Request.WithContext(WithLogger(c.Request.Context(), logger))

		c.Next()

		logger.Info().
			Int(FieldStatus, c.Writer.Status()).
			Int64(FieldLatency, time.Since(start).Milliseconds()).
			Str(FieldClientIP, c.ClientIP()).
			Msg("request completed")
	}
}

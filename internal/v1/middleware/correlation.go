// Package middleware contains Gin middleware for the application.
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/scribear/relay/internal/v1/logging"
)

// HeaderXCorrelationID is the header key for the correlation ID.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID stamps every request (HTTP or WS upgrade) with a correlation
// id, echoing one the caller supplied or minting a fresh uuid. The relay's
// /health response body literally is this id.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Header(HeaderXCorrelationID, correlationID)
		c.Set(string(logging.CorrelationIDKey), correlationID)
		c.Request = c.Request.WithContext(
			context.WithValue(c.Request.Context(), logging.CorrelationIDKey, correlationID),
		)

		c.Next()
	}
}

// RequestID extracts the correlation id stashed by CorrelationID, or the
// empty string if the middleware never ran for this request.
func RequestID(c *gin.Context) string {
	if v, ok := c.Get(string(logging.CorrelationIDKey)); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Package middleware provides HTTP middleware for the docuchat API surface.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/kart-io/docuchat/pkg/id"
)

const (
	// RequestIDHeader is the header carrying the request identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin context key for the request identifier.
	RequestIDKey = "request_id"
)

// RequestID returns a middleware that ensures every request carries a ULID
// request identifier. An incoming X-Request-ID is honored so callers can
// correlate across services; otherwise a new one is generated.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || !id.IsValid(requestID) {
			requestID = id.New()
		}

		c.Set(RequestIDKey, requestID)
		c.Writer.Header().Set(RequestIDHeader, requestID)

		c.Next()
	}
}

// GetRequestID extracts the request ID from the gin context.
// Returns empty string if no request ID is present.
func GetRequestID(c *gin.Context) string {
	if v, ok := c.Get(RequestIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDKey = "request_id"

// maxRequestIDLen guards against header abuse; anything longer is discarded
// and replaced with a generated id.
const maxRequestIDLen = 128

func sanitizeRequestID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxRequestIDLen {
		return ""
	}
	return raw
}

// RequestIDMiddleware derives a correlation id from x-request-id (or
// x-correlation-id), generating a UUID when absent, stores it on the context
// and echoes it on the response.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := sanitizeRequestID(c.GetHeader("x-request-id"))
		if rid == "" {
			rid = sanitizeRequestID(c.GetHeader("x-correlation-id"))
		}
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set("x-request-id", rid)
		c.Next()
	}
}

// RequestID returns the correlation id stored by RequestIDMiddleware.
func RequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

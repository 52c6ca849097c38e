package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
)

// RequestIDKey is the gin context key holding the per-request id.
const RequestIDKey = "request_id"

// RequestID assigns a ksuid to every request and echoes it back in the
// X-Request-ID header. An id supplied by the client is kept.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = ksuid.New().String()
		}
		c.Set(RequestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

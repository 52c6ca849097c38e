package middleware

import (
	"time"

	"github.com/armanrma7/rmbg/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger logs every request through the global zap logger.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		cost := time.Since(start)

		utils.Logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
			zap.Duration("cost", cost),
			zap.String("request_id", c.GetString(RequestIDKey)),
		)
	}
}

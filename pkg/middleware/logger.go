package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LoggerMiddleware logs mutating requests. Monitoring endpoints and plain
// GET traffic are skipped to keep the log focused on state changes.
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		method := c.Request.Method

		c.Next()

		shouldLog := true
		if strings.Contains(path, "/metrics") ||
			strings.Contains(path, "/monitor") ||
			strings.Contains(path, "/static") ||
			strings.Contains(path, "/favicon.ico") {
			shouldLog = false
		}
		if method == "GET" && shouldLog {
			shouldLog = false
		}

		if shouldLog {
			latency := time.Since(start)
			logger.Info("Request",
				zap.Int("status", c.Writer.Status()),
				zap.String("method", method),
				zap.String("path", path),
				zap.String("query", query),
				zap.String("ip", c.ClientIP()),
				zap.String("user-agent", c.Request.UserAgent()),
				zap.Duration("latency", latency),
			)
		}
	}
}

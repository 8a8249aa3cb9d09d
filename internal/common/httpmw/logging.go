// Package httpmw carries the gin middleware shared by the status API.
package httpmw

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/drawbridge/drawbridge/internal/common/logger"
)

// RequestLogger emits one entry per request once the handler chain
// completes. The status API is low-traffic and read-only, so
// successful requests stay at debug; only server faults surface.
func RequestLogger(log *logger.Logger, serverName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		size := c.Writer.Size()
		if size < 0 {
			size = 0
		}
		fields := []zap.Field{
			zap.String("server", serverName),
			zap.String("method", c.Request.Method),
			zap.String("path", routePath(c)),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int("bytes", size),
		}

		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("http", fields...)
			return
		}
		log.Debug("http", fields...)
	}
}

// routePath prefers the matched route template over the raw URL so
// entries aggregate by handler.
func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

package middleware

import (
	"context"
	"time"

	"github.com/TungSeven30/henrii-sub000/internal/logging"
	"github.com/gin-gonic/gin"
)

func RequestLogger(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]any{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		}
		if u := UserIDFromContext(c); u != "" {
			fields["user_id"] = u
		}
		entry := log.WithFields(fields)
		switch {
		case c.Writer.Status() >= 500:
			entry.Errorf("request failed")
		case c.Writer.Status() >= 400:
			entry.Warnf("request rejected")
		default:
			entry.Debugf("request served")
		}
	}
}

// Timeout bounds the request context; handlers pass it down to the store.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

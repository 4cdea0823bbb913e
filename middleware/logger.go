// Package middleware holds the gin middlewares of the status server.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// quietPaths are probe endpoints that are never logged
var quietPaths = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// RequestLogger logs failed or slow requests
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if quietPaths[path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		status := c.Writer.Status()
		if status >= 400 || duration > time.Second {
			log.Info("Request",
				zap.String("method", c.Request.Method),
				zap.String("path", path),
				zap.Int("status", status),
				zap.Duration("duration", duration),
				zap.String("client_ip", c.ClientIP()),
			)
		}
	}
}

// Recovery converts handler panics into 500 responses and logs them
func Recovery(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error("Handler panicked", zap.String("path", c.Request.URL.Path), zap.Any("panic", recovered))
		c.AbortWithStatusJSON(500, gin.H{"error": "internal error"})
	})
}

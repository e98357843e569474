package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/vcscsvcscs/regimen/internal/audit"
	"go.uber.org/zap"
)

const (
	requestIDKey = "request_id"
	userIDKey    = "user_id"

	// UserIDHeader identifies the caller for the audit trail. Authentication
	// happens upstream; the gateway forwards the verified subject here.
	UserIDHeader = "X-User-ID"
)

// RequestLoggingMiddleware logs all incoming requests. Requests slower than
// slowThreshold are logged at warn level; a zero threshold disables that check.
func RequestLoggingMiddleware(logger *zap.Logger, slowThreshold time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(startTime)

		userID := c.GetString(userIDKey)
		if userID == "" {
			userID = "anonymous"
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("route", c.FullPath()),
			zap.String("query", query),
			zap.String("user_id", userID),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.Time("timestamp", startTime),
		}

		if requestID := c.GetString(requestIDKey); requestID != "" {
			fields = append(fields, zap.String("request_id", requestID))
		}

		status := c.Writer.Status()
		switch {
		case status >= 500:
			logger.Error("Request completed with server error", fields...)
		case status >= 400:
			logger.Warn("Request completed with client error", fields...)
		default:
			logger.Info("Request completed", fields...)
		}

		if slowThreshold > 0 && duration > slowThreshold {
			logger.Warn("Slow request",
				zap.String("method", c.Request.Method),
				zap.String("route", c.FullPath()),
				zap.Duration("duration", duration),
				zap.Duration("threshold", slowThreshold),
			)
		}
	}
}

// ErrorLoggingMiddleware logs errors attached to the gin context with request context
func ErrorLoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, err := range c.Errors {
			logger.Error("Request error occurred",
				zap.Error(err.Err),
				zap.Uint64("error_type", uint64(err.Type)),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", c.GetString(requestIDKey)),
				zap.String("ip", c.ClientIP()),
				zap.Stack("stack_trace"),
			)
		}
	}
}

// RecoveryMiddleware recovers from panics and logs them with stack traces
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", c.GetString(requestIDKey)),
					zap.String("ip", c.ClientIP()),
					zap.Stack("stack_trace"),
				)

				c.AbortWithStatusJSON(500, gin.H{
					"code":    "INTERNAL_ERROR",
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

// ActorMiddleware attaches the caller identity to the request context so that
// audit records written further down carry it.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := audit.Actor{
			UserID:    c.GetHeader(UserIDHeader),
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}
		if actor.UserID != "" {
			c.Set(userIDKey, actor.UserID)
		} else {
			actor.UserID = "anonymous"
		}

		c.Request = c.Request.WithContext(audit.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

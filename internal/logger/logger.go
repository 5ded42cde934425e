// Package logger builds the service's zap logger and the gin middleware that
// tags every request with a correlation id.
package logger

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CorrelationIDHeader carries the request correlation id in and out.
const CorrelationIDHeader = "X-Correlation-ID"

const correlationKey = "correlationID"

type ctxKey struct{}

// Init builds a production logger honouring LOG_LEVEL and LOG_FORMAT.
func Init() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		cfg = zap.NewDevelopmentConfig()
	}

	level := zapcore.InfoLevel
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(raw))); err != nil {
			return nil, err
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// Middleware assigns a correlation id to each request, reusing the inbound
// header when present, and exposes it on the response.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(CorrelationIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(correlationKey, id)
		c.Header(CorrelationIDHeader, id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), ctxKey{}, id))
		c.Next()
	}
}

// AccessLog writes one line per request.
func AccessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("correlation_id", CorrelationID(c)),
		)
	}
}

// CorrelationID returns the id assigned by Middleware.
func CorrelationID(c *gin.Context) string {
	return c.GetString(correlationKey)
}

// FromContext returns base annotated with the request's correlation id, if any.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return base.With(zap.String("correlation_id", id))
	}
	return base
}

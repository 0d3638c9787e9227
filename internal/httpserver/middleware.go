package httpserver

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"milestone-tracker/pkg/logger"
	"milestone-tracker/pkg/metrics"
	"milestone-tracker/pkg/trace"
)

// TraceMiddleware 从请求头读取 trace_id，没有则生成一个，并写回响应头
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(trace.HeaderName())
		if traceID == "" {
			traceID = trace.GenerateTraceID()
		}
		c.Request = c.Request.WithContext(trace.WithContext(c.Request.Context(), traceID))
		c.Header(trace.HeaderName(), traceID)
		c.Next()
	}
}

// RequestLogger 记录每个请求
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		l := logger.WithTrace(c.Request.Context(), log)
		if c.Writer.Status() >= 500 {
			l.Error("HTTP request", fields...)
			return
		}
		l.Info("HTTP request", fields...)
	}
}

// MetricsMiddleware 按路由模板记录请求耗时，避免 path 参数撑爆 label
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

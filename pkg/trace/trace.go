package trace

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

const TraceIDKey = "trace_id"

type ctxKey struct{}

// GenerateTraceID 生成一个新的 trace ID
func GenerateTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// FromContext 从 context 中获取 trace_id
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(ctxKey{}).(string); ok {
		return traceID
	}
	return ""
}

// WithContext 将 trace_id 添加到 context 中
func WithContext(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, traceID)
}

// HeaderName 返回 trace ID 的 HTTP header 名称
func HeaderName() string {
	return "X-Trace-ID"
}

package types

import "context"

type contextKey int

const (
	keyTraceID contextKey = iota
	keyRequestID
	keyRunID
)

func withString(ctx context.Context, key contextKey, v string) context.Context {
	return context.WithValue(ctx, key, v)
}

// 空字符串视为未设置
func stringValue(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}

// WithTraceID 记录 OTel trace ID，供日志关联
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return withString(ctx, keyTraceID, traceID)
}

func TraceID(ctx context.Context) (string, bool) { return stringValue(ctx, keyTraceID) }

// WithRequestID 记录入站请求 ID（X-Request-ID）
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withString(ctx, keyRequestID, requestID)
}

func RequestID(ctx context.Context) (string, bool) { return stringValue(ctx, keyRequestID) }

// WithRunID 记录当前工作流运行 ID
func WithRunID(ctx context.Context, runID string) context.Context {
	return withString(ctx, keyRunID, runID)
}

func RunID(ctx context.Context) (string, bool) { return stringValue(ctx, keyRunID) }

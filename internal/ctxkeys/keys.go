package ctxkeys

import "context"

// TraceIDKey 链路追踪ID，取值为记录ID
type TraceIDKey struct{}

// WithTraceID 写入追踪ID
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey{}, id)
}

// TraceID 读取追踪ID
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(TraceIDKey{}).(string)
	return id
}

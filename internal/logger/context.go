package logger

import "context"

type contextKey string

// logContextKey is the key for LogContext in context.Context
const logContextKey contextKey = "securenas_log_context"

// LogContext holds connection-scoped logging context that is automatically
// attached by the *Ctx logging functions.
type LogContext struct {
	ClientIP  string
	SessionID string
	Identity  string
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a connecting client
func NewLogContext(clientIP string) *LogContext {
	return &LogContext{ClientIP: clientIP}
}

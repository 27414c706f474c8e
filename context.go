package hearth

import (
	"context"
	"log/slog"
)

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey int

const (
	requestIDContextKey contextKey = iota + 1
	loggerContextKey
)

// NewContextWithRequestID attaches a request ID to the context.
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// RequestIDFromContext returns the request ID from the context, or empty string.
func RequestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDContextKey).(string)
	return requestID
}

// NewContextWithLogger attaches a request-scoped logger to the context.
func NewContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// LoggerFromContext returns the request-scoped logger, or fallback if none
// is attached.
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(loggerContextKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return fallback
}

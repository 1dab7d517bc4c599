package events

import (
	"context"
	"os"

	"github.com/nordaqua/fieldsync/internal/models"
)

type contextKey int

const (
	loggerKey contextKey = iota
	requestIDKey
	scopeKey
)

var defaultLogger = NewTestLogger(InfoLevel, "text", os.Stdout)

// FromContext extracts logger from context.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// WithLogger adds logger to context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithRequestID adds request ID to context.
func WithRequestID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("request_id", id)
	ctx = context.WithValue(ctx, requestIDKey, id)
	return WithLogger(ctx, logger)
}

// WithScope adds the tenant scope to context.
func WithScope(ctx context.Context, scope models.Scope) context.Context {
	logger := FromContext(ctx).WithField("scope", scope.Key())
	ctx = context.WithValue(ctx, scopeKey, scope)
	return WithLogger(ctx, logger)
}

// GetRequestID retrieves request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetScope retrieves the tenant scope from context.
func GetScope(ctx context.Context) (models.Scope, bool) {
	scope, ok := ctx.Value(scopeKey).(models.Scope)
	return scope, ok
}

package api

import (
	"context"
	"log/slog"
)

// loggerContextKey is the context key for the request-scoped logger.
type loggerContextKey struct{}

// WithLogger returns a new context with the logger attached.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// LoggerFromContext extracts the request-scoped logger from the context.
// Returns slog.Default() if none is present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger)
	if !ok || logger == nil {
		return slog.Default()
	}
	return logger
}

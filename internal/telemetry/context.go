package telemetry

import (
	"context"
	"log/slog"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
)

// WithRequestID stores a request_id in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	reqID, _ := ctx.Value(ctxKeyRequestID).(string)
	return reqID
}

// LoggerFromContext returns the default logger with request_id if present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if reqID := RequestIDFromContext(ctx); reqID != "" {
		return logger.With("request_id", reqID)
	}
	return logger
}

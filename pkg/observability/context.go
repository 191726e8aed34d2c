package observability

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	correlationIDCtxKey contextKey = "correlation_id"
	runIDCtxKey         contextKey = "run_id"
)

// Standard attribute keys used in logs and metrics.
const (
	CorrelationIDKey = "correlation_id"
	RunIDKey         = "run_id"
	OperationKey     = "operation"
	DurationKey      = "duration_ms"
	ErrorKey         = "error"
	StatusKey        = "status"
)

// WithCorrelationID adds a correlation ID to the context.
// If id is empty, a new UUID is generated.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.New().String()
	}
	return context.WithValue(ctx, correlationIDCtxKey, id)
}

// CorrelationIDFromContext extracts the correlation ID from context.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationIDCtxKey).(string); ok {
		return id
	}
	return ""
}

// WithRunID tags the context with the dispatch run it belongs to.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDCtxKey, runID)
}

// RunIDFromContext extracts the dispatch run ID from context.
func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(runIDCtxKey).(string); ok {
		return id
	}
	return ""
}

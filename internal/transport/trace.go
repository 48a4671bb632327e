package transport

import (
	"context"

	"github.com/google/uuid"
)

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const traceIDKey ctxKey = "trace_id"

// WithTraceID переопределяет Trace-ID клиента для одного вызова.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext достает Trace-ID вызова, если он был задан.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(traceIDKey).(string)
	return id, ok && id != ""
}

// NewTraceID генерирует новый Trace-ID.
func NewTraceID() string {
	return uuid.New().String()
}

func resolveTraceID(ctx context.Context, fallback string) string {
	if id, ok := TraceIDFromContext(ctx); ok {
		return id
	}
	return fallback
}

package audit

import (
	"context"

	"go.uber.org/zap"
)

// LogSink пишет события журнала в zap. Используется, когда база не настроена.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("decisions")}
}

func (s *LogSink) WriteBatch(_ context.Context, events []DecisionEvent) error {
	for _, e := range events {
		s.logger.Info("policy decision",
			zap.String("id", e.ID),
			zap.String("trace_id", e.TraceID),
			zap.String("action", e.Action),
			zap.String("resource", e.Resource),
			zap.String("decision", string(e.Decision)),
			zap.String("policy", e.Policy),
			zap.String("reason", e.Reason),
			zap.Bool("cached", e.Cached),
			zap.Int64("duration_ms", e.DurationMs),
			zap.String("error", e.Error),
			zap.Time("timestamp", e.Timestamp),
		)
	}
	return nil
}

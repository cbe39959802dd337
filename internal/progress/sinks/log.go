package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-collector/internal/progress"
)

// LogSink writes each telemetry event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("telemetry")}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.String("task_id", evt.TaskID),
			zap.Duration("dur", evt.Dur),
		}
		if evt.SourceID != "" {
			fields = append(fields,
				zap.String("source_id", evt.SourceID),
				zap.String("source", evt.SourceName),
				zap.String("site", evt.Site),
			)
		}
		if evt.Status != "" {
			fields = append(fields, zap.String("status", evt.Status))
		}
		if evt.Stage == progress.StageSourceDone || evt.Stage == progress.StageRunDone {
			fields = append(fields, zap.Int64("items", evt.Items))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("collection event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

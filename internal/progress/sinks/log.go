package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/progress"
)

// LogSink writes every event as a structured log line. Page events log at
// debug, everything else at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.Int64("seq", evt.Seq),
			zap.String("kind", string(evt.Kind)),
		}
		if evt.To != "" {
			fields = append(fields, zap.String("from", string(evt.From)), zap.String("state", string(evt.To)))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL), zap.Int("depth", evt.Depth))
		}
		if evt.Outcome != "" {
			fields = append(fields, zap.String("outcome", string(evt.Outcome)), zap.Duration("dur", evt.Duration))
		}
		if evt.Finding != nil {
			fields = append(fields,
				zap.String("challenge", string(evt.Finding.Type)),
				zap.Float64("confidence", evt.Finding.Confidence))
		}
		if evt.Cause != "" {
			fields = append(fields, zap.String("cause", evt.Cause))
		}
		switch evt.Kind {
		case crawler.EventPageLoaded, crawler.EventPageFailed:
			s.logger.Debug("job event", fields...)
		default:
			s.logger.Info("job event", fields...)
		}
	}
	return nil
}

// Close does nothing.
func (s *LogSink) Close(context.Context) error {
	return nil
}

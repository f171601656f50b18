package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-provenance-crawler/internal/progress"
)

// LogSink writes each event as a debug-level structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Debug("progress event",
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("job", string(evt.Job)),
			zap.String("stage", string(evt.Stage)),
			zap.String("url", evt.URL),
			zap.String("page_id", evt.PageID),
			zap.String("outcome", string(evt.Outcome)),
			zap.String("class", evt.Class),
			zap.Int("attempts", evt.Attempts),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

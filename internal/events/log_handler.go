package events

import (
	"context"

	"go.uber.org/zap"
)

// LogHandler writes every lifecycle event to the structured log.
// Document failures log at Warn so the console mirror surfaces them.
type LogHandler struct {
	logger *zap.Logger
}

func NewLogHandler(logger *zap.Logger) *LogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogHandler{logger: logger}
}

func (h *LogHandler) ID() string { return "log" }

func (h *LogHandler) Handles() []Type { return AllTypes() }

func (h *LogHandler) Priority() int { return 10 }

func (h *LogHandler) Handle(_ context.Context, e *Event) error {
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
		zap.String("run_id", e.RunID),
	}
	if e.Stage != "" {
		fields = append(fields, zap.String("stage", e.Stage))
	}
	if e.Batch > 0 {
		fields = append(fields, zap.Int("batch", e.Batch))
	}
	if e.Count > 0 {
		fields = append(fields, zap.Int("count", e.Count))
	}
	if e.Failed > 0 {
		fields = append(fields, zap.Int("failed", e.Failed))
	}
	if e.DocumentID != "" {
		fields = append(fields, zap.String("doc_id", e.DocumentID))
	}
	if e.Error != "" {
		fields = append(fields, zap.String("error", e.Error))
	}

	if e.Type == TypeDocumentFailed {
		h.logger.Warn("pipeline event", fields...)
	} else {
		h.logger.Info("pipeline event", fields...)
	}
	return nil
}

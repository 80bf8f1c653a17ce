package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/docpipe/docpipe/internal/telemetry"
)

const scopeName = "github.com/docpipe/docpipe/pipeline"

// stageMetrics records per-stage document counts and batch durations.
// A nil receiver is safe and records nothing, so the instruments are
// only built when telemetry is enabled.
type stageMetrics struct {
	docs metric.Int64Counter
	dur  metric.Float64Histogram
}

func newStageMetrics() *stageMetrics {
	if !telemetry.Enabled() {
		return nil
	}
	m := telemetry.Meter(scopeName)
	docs, _ := m.Int64Counter("pipeline.stage.documents",
		metric.WithDescription("Documents entering each stage"),
	)
	dur, _ := m.Float64Histogram("pipeline.stage.batch.duration",
		metric.WithDescription("Stage batch processing duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &stageMetrics{docs: docs, dur: dur}
}

func (sm *stageMetrics) observe(ctx context.Context, stage string, docs int, elapsed time.Duration) {
	if sm == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("pipeline.stage", stage))
	sm.docs.Add(ctx, int64(docs), attrs)
	sm.dur.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}

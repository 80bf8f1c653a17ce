package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/docpipe/docpipe/internal/lineage"
	"github.com/docpipe/docpipe/internal/types"
)

const lineageScopeName = "github.com/docpipe/docpipe/lineage"

// InstrumentedStore wraps a lineage.Store with OTel tracing and metrics.
// Every method gets a span and is counted in pipeline.lineage.* metrics.
// Use WrapStore to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStore struct {
	inner       lineage.Store
	tracer      trace.Tracer
	ops         metric.Int64Counter
	dur         metric.Float64Histogram
	errs        metric.Int64Counter
	recordGauge metric.Int64Gauge
}

// WrapStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStore(s lineage.Store) lineage.Store {
	if !Enabled() {
		return s
	}
	m := Meter(lineageScopeName)
	ops, _ := m.Int64Counter("pipeline.lineage.operations",
		metric.WithDescription("Total lineage store operations executed"),
	)
	dur, _ := m.Float64Histogram("pipeline.lineage.operation.duration",
		metric.WithDescription("Lineage store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("pipeline.lineage.errors",
		metric.WithDescription("Total lineage store operation errors"),
	)
	recordGauge, _ := m.Int64Gauge("pipeline.lineage.records",
		metric.WithDescription("Current number of lineage records (snapshot from Stats)"),
	)
	return &InstrumentedStore{
		inner:       s,
		tracer:      Tracer(lineageScopeName),
		ops:         ops,
		dur:         dur,
		errs:        errs,
		recordGauge: recordGauge,
	}
}

// op starts a span and records a metric for the named store operation.
func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "lineage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStore) Create(ctx context.Context, id string, source *lineage.SourceInfo, parentID string) (*lineage.Record, error) {
	attrs := []attribute.KeyValue{attribute.String("pipeline.doc.id", id)}
	if parentID != "" {
		attrs = append(attrs, attribute.String("pipeline.doc.parent_id", parentID))
	}
	ctx, span, t := s.op(ctx, "Create", attrs...)
	v, err := s.inner.Create(ctx, id, source, parentID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) Update(ctx context.Context, id string, kind lineage.ChangeKind, opts lineage.UpdateOptions) (*lineage.Record, error) {
	attrs := []attribute.KeyValue{
		attribute.String("pipeline.doc.id", id),
		attribute.String("pipeline.change.kind", string(kind)),
	}
	ctx, span, t := s.op(ctx, "Update", attrs...)
	v, err := s.inner.Update(ctx, id, kind, opts)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, id string) error {
	attrs := []attribute.KeyValue{attribute.String("pipeline.doc.id", id)}
	ctx, span, t := s.op(ctx, "Delete", attrs...)
	err := s.inner.Delete(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) Get(ctx context.Context, id string) (*lineage.Record, error) {
	attrs := []attribute.KeyValue{attribute.String("pipeline.doc.id", id)}
	ctx, span, t := s.op(ctx, "Get", attrs...)
	v, err := s.inner.Get(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) History(ctx context.Context, id string, sinceVersion int) ([]lineage.Change, error) {
	attrs := []attribute.KeyValue{
		attribute.String("pipeline.doc.id", id),
		attribute.Int("pipeline.since_version", sinceVersion),
	}
	ctx, span, t := s.op(ctx, "History", attrs...)
	v, err := s.inner.History(ctx, id, sinceVersion)
	if err == nil {
		span.SetAttributes(attribute.Int("pipeline.result.count", len(v)))
	}
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) AppendStep(ctx context.Context, id string, step types.ProcessingStep) (*lineage.Record, error) {
	attrs := []attribute.KeyValue{
		attribute.String("pipeline.doc.id", id),
		attribute.String("pipeline.step", step.StepName),
		attribute.String("pipeline.step.status", string(step.Status)),
	}
	ctx, span, t := s.op(ctx, "AppendStep", attrs...)
	v, err := s.inner.AppendStep(ctx, id, step)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) List(ctx context.Context) ([]*lineage.Record, error) {
	ctx, span, t := s.op(ctx, "List")
	v, err := s.inner.List(ctx)
	if err == nil {
		span.SetAttributes(attribute.Int("pipeline.result.count", len(v)))
	}
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) Stats(ctx context.Context) (lineage.Stats, error) {
	ctx, span, t := s.op(ctx, "Stats")
	v, err := s.inner.Stats(ctx)
	s.done(ctx, span, t, err)
	if err == nil {
		s.recordGauge.Record(ctx, int64(v.Records))
	}
	return v, err
}

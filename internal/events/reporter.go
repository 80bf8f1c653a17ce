package events

import "context"

// Reporter stamps a run id onto events published from inside stages.
// A nil Reporter is safe to call and drops everything, so stages can
// be constructed without a bus in tests.
type Reporter struct {
	bus   *Bus
	runID string
}

// NewReporter binds a bus to one pipeline run.
func NewReporter(bus *Bus, runID string) *Reporter {
	return &Reporter{bus: bus, runID: runID}
}

// RunID returns the run identifier, or "" for a nil reporter.
func (r *Reporter) RunID() string {
	if r == nil {
		return ""
	}
	return r.runID
}

// Bus returns the underlying bus, or nil for a nil reporter. The
// orchestrator uses it to register its own run-scoped handlers.
func (r *Reporter) Bus() *Bus {
	if r == nil {
		return nil
	}
	return r.bus
}

func (r *Reporter) publish(ctx context.Context, e *Event) {
	if r == nil || r.bus == nil {
		return
	}
	// Publish only fails on context cancellation; the run is being
	// torn down then and the event is moot.
	_ = r.bus.Publish(ctx, e)
}

func (r *Reporter) RunStarted(ctx context.Context) {
	if r == nil {
		return
	}
	r.publish(ctx, New(TypeRunStarted, r.runID))
}

func (r *Reporter) RunCompleted(ctx context.Context, processed, failed int) {
	if r == nil {
		return
	}
	r.publish(ctx, New(TypeRunCompleted, r.runID).WithCounts(processed, failed))
}

func (r *Reporter) StageStarted(ctx context.Context, stage string) {
	if r == nil {
		return
	}
	r.publish(ctx, New(TypeStageStarted, r.runID).WithStage(stage))
}

func (r *Reporter) StageCompleted(ctx context.Context, stage string, processed, failed int) {
	if r == nil {
		return
	}
	r.publish(ctx, New(TypeStageCompleted, r.runID).WithStage(stage).WithCounts(processed, failed))
}

// StageFailed reports a stage-scoped error; the run is about to abort.
func (r *Reporter) StageFailed(ctx context.Context, stage string, err error) {
	if r == nil {
		return
	}
	e := New(TypeStageCompleted, r.runID).WithStage(stage)
	if err != nil {
		e.Error = err.Error()
	}
	r.publish(ctx, e)
}

func (r *Reporter) BatchCompleted(ctx context.Context, stage string, batch, count int) {
	if r == nil {
		return
	}
	r.publish(ctx, New(TypeBatchCompleted, r.runID).WithStage(stage).WithBatch(batch, count))
}

func (r *Reporter) DocumentFailed(ctx context.Context, stage, docID string, err error) {
	if r == nil {
		return
	}
	r.publish(ctx, New(TypeDocumentFailed, r.runID).WithStage(stage).WithDocument(docID, err))
}

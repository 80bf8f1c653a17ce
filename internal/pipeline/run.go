package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docpipe/docpipe/internal/lineage"
	"github.com/docpipe/docpipe/internal/types"
)

// Run executes the pipeline once. Document-scoped problems are recorded
// on lineage and never abort the run; a stage-scoped failure cancels
// every worker and surfaces as *Error. Cancellation is not an error:
// Run returns the partial result with the cancelled tally filled and
// a skipped step recorded on each document the run did not finish.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if p.loader == nil {
		return nil, &Error{Stage: types.StageLoad, Err: errNoLoader}
	}
	if p.ledger == nil {
		return nil, &Error{Stage: types.StageLoad, Err: errNoLedger}
	}
	started := time.Now()

	rs := newRunState(p.reporter.RunID(), p.stages)
	if bus := p.reporter.Bus(); bus != nil {
		bus.Register(rs.failures)
	}
	p.reporter.RunStarted(ctx)

	g, gctx := errgroup.WithContext(ctx)

	first := make(chan []*types.Document, queueDepth)
	g.Go(func() error { return p.runLoad(gctx, rs, first) })

	in := (<-chan []*types.Document)(first)
	for i, st := range p.stages {
		out := make(chan []*types.Document, queueDepth)
		next := ""
		if i+1 < len(p.stages) {
			next = p.stages[i+1].Name()
		}
		stageIn := in
		g.Go(func() error { return p.runStage(gctx, rs, st, next, stageIn, out) })
		in = out
	}

	// The collector drains the last stage unconditionally so no emit
	// upstream can block during shutdown. Documents arriving here have
	// completed every enabled stage, cancellation or not.
	last := in
	g.Go(func() error {
		for batch := range last {
			rs.processed.Add(int64(len(batch)))
		}
		return nil
	})

	runErr := g.Wait()
	result := rs.result(p.stages, time.Since(started), p.logPath)

	end := context.WithoutCancel(ctx)
	p.reporter.RunCompleted(end, result.Processed, result.Failed)
	p.logger.Info("pipeline run finished",
		zap.String("run_id", result.RunID),
		zap.Int("loaded", result.Loaded),
		zap.Int("processed", result.Processed),
		zap.Int("deduplicated", result.Deduplicated),
		zap.Int("failed", result.Failed),
		zap.Int("cancelled", result.Cancelled),
		zap.Int("indexed", result.Indexed),
		zap.Duration("duration", result.Duration),
		zap.Error(runErr))
	return result, runErr
}

// runLoad produces admitted batches on out. Loader failures are
// stage-scoped; admission problems (duplicate ids, unknown parents)
// are per document. Cancellation is honored at batch boundaries:
// documents not yet admitted have no lineage record to annotate and
// only count toward the cancelled tally.
func (p *Pipeline) runLoad(ctx context.Context, rs *runState, out chan<- []*types.Document) error {
	defer close(out)
	p.reporter.StageStarted(ctx, types.StageLoad)

	next := ""
	if len(p.stages) > 0 {
		next = p.stages[0].Name()
	}

	docs, err := p.loader.Load(ctx)
	if err != nil {
		if isCancel(err) {
			rs.cancelled.Add(int64(len(docs)))
			p.reporter.StageCompleted(context.WithoutCancel(ctx), types.StageLoad, 0, 0)
			return nil
		}
		p.reporter.StageFailed(ctx, types.StageLoad, err)
		return &Error{Stage: types.StageLoad, Err: err}
	}
	rs.loaded.Store(int64(len(docs)))
	rs.stageDocs[types.StageLoad].Add(int64(len(docs)))

	var emitted, batches int
	for start := 0; start < len(docs); start += p.batchSize {
		if ctx.Err() != nil {
			rs.cancelled.Add(int64(len(docs) - start))
			break
		}
		stop := start + p.batchSize
		if stop > len(docs) {
			stop = len(docs)
		}
		admitted := p.admit(ctx, rs, docs[start:stop])
		if len(admitted) == 0 {
			continue
		}
		batches++
		p.reporter.BatchCompleted(ctx, types.StageLoad, batches, len(admitted))
		select {
		case out <- admitted:
			emitted += len(admitted)
		case <-ctx.Done():
			p.dropBatch(ctx, rs, next, admitted)
		}
	}
	p.reporter.StageCompleted(context.WithoutCancel(ctx), types.StageLoad, emitted, 0)
	return nil
}

// admit validates each document, registers the batch with the lineage
// ledger, and records the load step for each document that got a
// record. References are wired after every create so links between
// batch members resolve regardless of file order.
func (p *Pipeline) admit(ctx context.Context, rs *runState, batch []*types.Document) []*types.Document {
	started := time.Now()
	admitted := make([]*types.Document, 0, len(batch))
	for _, doc := range batch {
		// The built-in loader normalizes these away; this catches
		// documents from custom Loader implementations.
		if err := doc.Validate(); err != nil {
			rs.failures.add(doc.ID)
			p.reporter.DocumentFailed(ctx, types.StageLoad, doc.ID, err)
			p.logger.Warn("document rejected",
				zap.String("doc_id", doc.ID),
				zap.Error(err))
			continue
		}
		if p.createRecord(ctx, rs, doc) {
			admitted = append(admitted, doc)
		}
	}

	durationMS := float64(time.Since(started).Milliseconds())
	for _, doc := range admitted {
		step := loadStep(doc)
		step.Metrics = map[string]float64{types.MetricDurationMS: durationMS}
		p.recordStep(ctx, doc.ID, step)
	}

	p.wireReferences(ctx, admitted)
	return admitted
}

// createRecord opens the document's lineage. A duplicate id is dropped;
// a document naming an unknown parent is admitted without the parent
// link.
func (p *Pipeline) createRecord(ctx context.Context, rs *runState, doc *types.Document) bool {
	source := sourceInfo(doc)
	parentID := doc.Relationships.ParentID

	_, err := p.ledger.Create(ctx, doc.ID, source, parentID)
	if err != nil && parentID != "" && lineage.IsNotFound(err) {
		p.logger.Warn("parent not found; admitting without parent link",
			zap.String("doc_id", doc.ID),
			zap.String("parent_id", parentID))
		_, err = p.ledger.Create(ctx, doc.ID, source, "")
	}
	if err != nil {
		rs.failures.add(doc.ID)
		p.reporter.DocumentFailed(ctx, types.StageLoad, doc.ID, err)
		p.logger.Warn("document not admitted",
			zap.String("doc_id", doc.ID),
			zap.Error(err))
		return false
	}
	return true
}

// wireReferences records reference edges for admitted documents. An
// edge that cannot be wired (unknown target, would close a cycle) is
// logged and dropped; the referencing document itself continues.
func (p *Pipeline) wireReferences(ctx context.Context, batch []*types.Document) {
	for _, doc := range batch {
		for _, ref := range doc.Relationships.References {
			if ref == "" {
				continue
			}
			_, err := p.ledger.Update(ctx, doc.ID, lineage.KindReferenced,
				lineage.UpdateOptions{RelatedIDs: []string{ref}})
			if err != nil {
				p.logger.Warn("reference not wired",
					zap.String("doc_id", doc.ID),
					zap.String("reference", ref),
					zap.Error(err))
			}
		}
	}
}

// runStage consumes batches from in, processes them, and emits the
// results on out. The input is drained even after cancellation so the
// producer upstream never blocks; drained documents are marked
// cancelled instead of processed.
func (p *Pipeline) runStage(ctx context.Context, rs *runState, st Stage, next string, in <-chan []*types.Document, out chan<- []*types.Document) error {
	defer close(out)
	p.reporter.StageStarted(ctx, st.Name())

	var emitted, batches int
	for batch := range in {
		if ctx.Err() != nil {
			p.dropBatch(ctx, rs, st.Name(), batch)
			continue
		}
		rs.stageDocs[st.Name()].Add(int64(len(batch)))

		stageStart := time.Now()
		docs, err := st.Process(ctx, batch)
		p.metrics.observe(ctx, st.Name(), len(batch), time.Since(stageStart))

		if err != nil {
			if isCancel(err) {
				if docs == nil {
					docs = batch
				}
				p.dropBatch(ctx, rs, st.Name(), docs)
				continue
			}
			p.reporter.StageFailed(ctx, st.Name(), err)
			return &Error{Stage: st.Name(), Err: err}
		}
		if st.Name() == types.StageDeduplicate && len(docs) < len(batch) {
			rs.deduplicated.Add(int64(len(batch) - len(docs)))
		}
		if len(docs) == 0 {
			continue
		}

		batches++
		p.reporter.BatchCompleted(ctx, st.Name(), batches, len(docs))

		select {
		case out <- docs:
			emitted += len(docs)
		case <-ctx.Done():
			if next == "" {
				// Completed the whole chain; only delivery to the
				// collector was cut short.
				rs.processed.Add(int64(len(docs)))
				emitted += len(docs)
			} else {
				p.dropBatch(ctx, rs, next, docs)
			}
		}
	}
	p.reporter.StageCompleted(context.WithoutCancel(ctx), st.Name(), emitted, 0)
	return nil
}

// dropBatch records a cancelled outcome on documents the run will not
// finish. stage names the first stage that never processed them. A
// document whose step for that stage was already written before
// cancellation interrupted the batch keeps that step.
func (p *Pipeline) dropBatch(ctx context.Context, rs *runState, stage string, docs []*types.Document) {
	if len(docs) == 0 {
		return
	}
	rs.cancelled.Add(int64(len(docs)))

	// The lineage store ignores cancellation, but cache invalidation
	// and event delivery must still run during teardown.
	end := context.WithoutCancel(ctx)
	for _, doc := range docs {
		if p.hasStep(end, doc.ID, stage) {
			continue
		}
		step := types.NewStep(stage, types.StepSkipped)
		step.Details = map[string]any{"reason": "cancelled"}
		p.recordStep(end, doc.ID, step)
	}
	p.logger.Info("batch cancelled",
		zap.String("stage", stage),
		zap.Int("documents", len(docs)))
}

// hasStep reports whether the document already has a step for stage.
func (p *Pipeline) hasStep(ctx context.Context, id, stage string) bool {
	rec, err := p.ledger.Get(ctx, id)
	if err != nil || rec == nil {
		return false
	}
	for _, s := range rec.Steps {
		if s.StepName == stage {
			return true
		}
	}
	return false
}

func (p *Pipeline) recordStep(ctx context.Context, id string, step types.ProcessingStep) {
	if id == "" {
		return
	}
	if err := p.ledger.RecordStep(ctx, id, step); err != nil {
		p.logger.Warn("failed to record step",
			zap.String("doc_id", id),
			zap.String("step", step.StepName),
			zap.Error(err))
	}
}

// loadStep builds the admission step: a warning when the loader had to
// truncate the body, success otherwise.
func loadStep(doc *types.Document) types.ProcessingStep {
	if truncated, _ := doc.Metadata[types.MetaTruncated].(bool); truncated {
		step := types.NewStep(types.StageLoad, types.StepWarning)
		step.Details = map[string]any{"truncated": true}
		return step
	}
	return types.NewStep(types.StageLoad, types.StepSuccess)
}

// sourceInfo builds the lineage source from loader metadata.
func sourceInfo(doc *types.Document) *lineage.SourceInfo {
	location, _ := doc.Metadata[types.MetaPath].(string)
	return &lineage.SourceInfo{
		System:   "export",
		ID:       doc.ID,
		Location: location,
	}
}

// Package dedup drops documents whose content hash has already been seen
// in the current run. The hash covers content, metadata, and embeddings in
// sorted-key order, so two documents are duplicates only when everything
// that would reach the index is identical.
package dedup

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docpipe/docpipe/internal/types"
)

// StepRecorder appends a processing step to a document's lineage.
type StepRecorder interface {
	RecordStep(ctx context.Context, id string, step types.ProcessingStep) error
}

// Options wires the stage's collaborators.
type Options struct {
	Steps  StepRecorder
	Logger *zap.Logger
}

// Deduplicator keeps the first document per content hash and drops the
// rest. The seen set spans the whole run, not just one batch, so a loader
// that emits the same document from two overlapping formats is absorbed
// here. Process is not safe for concurrent use; the orchestrator runs each
// stage on a single goroutine.
type Deduplicator struct {
	steps  StepRecorder
	logger *zap.Logger

	seen map[string]string // content hash -> id of the kept document
}

// New creates the deduplication stage.
func New(opts Options) *Deduplicator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{
		steps:  opts.Steps,
		logger: logger,
		seen:   make(map[string]string),
	}
}

// Name implements the stage contract.
func (d *Deduplicator) Name() string { return types.StageDeduplicate }

// Process returns the batch with duplicates removed, preserving encounter
// order. Dropped documents get a Skipped step naming the survivor.
func (d *Deduplicator) Process(ctx context.Context, batch []*types.Document) ([]*types.Document, error) {
	if err := ctx.Err(); err != nil {
		return batch, err
	}

	kept := make([]*types.Document, 0, len(batch))
	for _, doc := range batch {
		if strings.TrimSpace(doc.Content.Body) == "" {
			step := types.NewStep(types.StageDeduplicate, types.StepSkipped)
			step.Details = map[string]any{"reason": "empty body"}
			d.recordStep(ctx, doc.ID, step)
			kept = append(kept, doc)
			continue
		}

		started := time.Now()
		hash := doc.ComputeContentHash()
		if keptID, dup := d.seen[hash]; dup {
			step := types.NewStep(types.StageDeduplicate, types.StepSkipped)
			step.Details = map[string]any{
				"reason":       "duplicate",
				"duplicate_of": keptID,
				"content_hash": hash,
			}
			d.recordStep(ctx, doc.ID, step)
			d.logger.Debug("dropped duplicate document",
				zap.String("doc_id", doc.ID),
				zap.String("duplicate_of", keptID))
			continue
		}

		d.seen[hash] = doc.ID
		step := types.NewStep(types.StageDeduplicate, types.StepSuccess)
		step.Details = map[string]any{"content_hash": hash}
		step.Metrics = map[string]float64{
			types.MetricDurationMS: float64(time.Since(started).Milliseconds()),
		}
		d.recordStep(ctx, doc.ID, step)
		kept = append(kept, doc)
	}
	return kept, nil
}

// Seen reports how many distinct content hashes the run has produced.
func (d *Deduplicator) Seen() int { return len(d.seen) }

func (d *Deduplicator) recordStep(ctx context.Context, id string, step types.ProcessingStep) {
	if d.steps == nil || id == "" {
		return
	}
	if err := d.steps.RecordStep(ctx, id, step); err != nil {
		d.logger.Warn("failed to record dedup step", zap.String("doc_id", id), zap.Error(err))
	}
}

package pii

import (
	"context"
	"strings"
	"sync"
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
	Redact  bool
	Workers int
	Steps   StepRecorder
	Logger  *zap.Logger
}

// Stage annotates each document with the PII found in its body and,
// when redaction is on, rewrites the body with type-tagged tokens.
// Detection failures never drop a document: the worst outcome is a
// Warning step with regex-only results.
type Stage struct {
	detector *Detector
	redact   bool
	workers  int
	steps    StepRecorder
	logger   *zap.Logger
}

// NewStage creates the PII stage.
func NewStage(detector *Detector, opts Options) *Stage {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Stage{
		detector: detector,
		redact:   opts.Redact,
		workers:  workers,
		steps:    opts.Steps,
		logger:   logger,
	}
}

// Name implements the stage contract.
func (s *Stage) Name() string { return types.StagePII }

// Process inspects every document in the batch on a bounded worker pool.
func (s *Stage) Process(ctx context.Context, batch []*types.Document) ([]*types.Document, error) {
	if len(batch) == 0 {
		return batch, nil
	}

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for _, doc := range batch {
		wg.Add(1)
		go func(doc *types.Document) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}
			s.inspectDocument(ctx, doc)
		}(doc)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return batch, err
	}
	return batch, nil
}

func (s *Stage) inspectDocument(ctx context.Context, doc *types.Document) {
	body := doc.Content.Body
	if strings.TrimSpace(body) == "" {
		step := types.NewStep(types.StagePII, types.StepSkipped)
		step.Details = map[string]any{"reason": "empty body"}
		s.recordStep(ctx, doc.ID, step)
		return
	}

	started := time.Now()
	matches, nerErr := s.detector.Detect(body)

	setMeta(doc, types.MetaPIIDetected, len(matches) > 0)
	if len(matches) > 0 {
		setMeta(doc, types.MetaPIITypes, Types(matches))
	}

	details := map[string]any{"matches": len(matches)}
	if s.redact && len(matches) > 0 {
		doc.Content.Body = Redact(body, matches)
		details["redacted"] = true
	}

	status := types.StepSuccess
	if nerErr != nil {
		status = types.StepWarning
		details["ner_error"] = nerErr.Error()
		s.logger.Warn("ner tagging failed, regex results only",
			zap.String("doc_id", doc.ID),
			zap.Error(nerErr))
	}

	step := types.NewStep(types.StagePII, status)
	step.Details = details
	step.Metrics = map[string]float64{
		types.MetricDurationMS: float64(time.Since(started).Milliseconds()),
	}
	s.recordStep(ctx, doc.ID, step)
}

func (s *Stage) recordStep(ctx context.Context, id string, step types.ProcessingStep) {
	if s.steps == nil || id == "" {
		return
	}
	if err := s.steps.RecordStep(ctx, id, step); err != nil {
		s.logger.Warn("failed to record pii step", zap.String("doc_id", id), zap.Error(err))
	}
}

func setMeta(doc *types.Document, key string, value any) {
	if doc.Metadata == nil {
		doc.Metadata = make(types.Metadata)
	}
	doc.Metadata[key] = value
}

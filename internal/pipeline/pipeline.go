// Package pipeline runs the enabled stages over an export directory as
// a chain of goroutines connected by bounded channels. The loader feeds
// document batches in; each stage consumes batches from the stage
// upstream and emits to the stage downstream; lineage records are
// created on admission and step outcomes accumulate as documents move
// down the chain. A full queue blocks the producing stage, so a slow
// consumer throttles the whole pipeline instead of buffering the corpus
// in memory.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/docpipe/docpipe/internal/events"
	"github.com/docpipe/docpipe/internal/lineage"
	"github.com/docpipe/docpipe/internal/types"
)

// Loader produces the run's documents from the export directory.
type Loader interface {
	Load(ctx context.Context) ([]*types.Document, error)
}

// Stage transforms one batch of documents. Implementations record
// exactly one terminal step per input document, never panic on bad
// input, and return an error only for failures that invalidate the
// stage itself; per-document problems are recorded on lineage and the
// document is dropped or passed through per stage policy.
type Stage interface {
	Name() string
	Process(ctx context.Context, batch []*types.Document) ([]*types.Document, error)
}

// Ledger is the slice of the lineage manager the orchestrator drives.
type Ledger interface {
	Create(ctx context.Context, id string, source *lineage.SourceInfo, parentID string) (*lineage.Record, error)
	Update(ctx context.Context, id string, kind lineage.ChangeKind, opts lineage.UpdateOptions) (*lineage.Record, error)
	RecordStep(ctx context.Context, id string, step types.ProcessingStep) error
	Get(ctx context.Context, id string) (*lineage.Record, error)
}

// Error is a stage-scoped failure: the stage itself broke, not one of
// its documents. It aborts the run.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline: stage %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Construction errors surfaced on Run.
var (
	errNoLoader = errors.New("no loader configured")
	errNoLedger = errors.New("no lineage ledger configured")
)

// queueDepth is the inter-stage channel capacity, in batches.
const queueDepth = 2

// DefaultBatchSize applies when Options leaves BatchSize unset.
const DefaultBatchSize = 100

// Options wires a pipeline.
type Options struct {
	Loader    Loader
	Stages    []Stage // enabled transform stages, in canonical order
	Ledger    Ledger
	BatchSize int
	Reporter  *events.Reporter
	LogPath   string
	Logger    *zap.Logger
}

// Pipeline executes runs over a fixed set of stages. The loader always
// runs; Stages holds only the enabled transform stages.
type Pipeline struct {
	loader    Loader
	stages    []Stage
	ledger    Ledger
	batchSize int
	reporter  *events.Reporter
	logPath   string
	logger    *zap.Logger
	metrics   *stageMetrics
}

// New assembles a pipeline from its collaborators.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	batchSize := opts.BatchSize
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Pipeline{
		loader:    opts.Loader,
		stages:    opts.Stages,
		ledger:    opts.Ledger,
		batchSize: batchSize,
		reporter:  opts.Reporter,
		logPath:   opts.LogPath,
		logger:    logger,
		metrics:   newStageMetrics(),
	}
}

// isCancel reports whether err is context cancellation rather than a
// real stage failure.
func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/docpipe/docpipe/internal/events"
	"github.com/docpipe/docpipe/internal/types"
)

// Upserter is the slice of the index client the stage consumes.
type Upserter interface {
	UpsertBatch(ctx context.Context, docs []map[string]interface{}, vectors [][]float32, ids []string) (int, []ItemError, error)
}

// StepRecorder appends a processing step to a document's lineage.
type StepRecorder interface {
	RecordStep(ctx context.Context, id string, step types.ProcessingStep) error
}

// IndexerOptions wires the stage's collaborators.
type IndexerOptions struct {
	Steps      StepRecorder
	Reporter   *events.Reporter
	MaxRetries int
	Logger     *zap.Logger
}

// Indexer upserts embedded documents into the vector index. Documents
// without a usable body vector are skipped, never failed. A batch that
// cannot be delivered after retries records an Error step on each
// eligible document; the run continues.
type Indexer struct {
	client     Upserter
	steps      StepRecorder
	reporter   *events.Reporter
	maxRetries int
	logger     *zap.Logger
	indexed    atomic.Int64
}

// NewIndexer creates the indexing stage.
func NewIndexer(client Upserter, opts IndexerOptions) *Indexer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Indexer{
		client:     client,
		steps:      opts.Steps,
		reporter:   opts.Reporter,
		maxRetries: retries,
		logger:     logger,
	}
}

// Name implements the stage contract.
func (ix *Indexer) Name() string { return types.StageIndex }

// Indexed returns the number of documents upserted so far.
func (ix *Indexer) Indexed() int64 { return ix.indexed.Load() }

// Process upserts every eligible document in the batch in one call,
// retried with exponential backoff. Per-item rejections inside an
// accepted batch are recorded per document and do not fail the batch.
func (ix *Indexer) Process(ctx context.Context, batch []*types.Document) ([]*types.Document, error) {
	if len(batch) == 0 {
		return batch, nil
	}
	started := time.Now()

	var (
		eligible []*types.Document
		ids      []string
		fields   []map[string]interface{}
		vectors  [][]float32
	)
	for _, doc := range batch {
		if reason := ineligibleReason(doc); reason != "" {
			step := types.NewStep(types.StageIndex, types.StepSkipped)
			step.Details = map[string]any{"reason": reason}
			ix.recordStep(ctx, doc.ID, step)
			continue
		}
		eligible = append(eligible, doc)
		ids = append(ids, doc.ID)
		fields = append(fields, indexFields(doc))
		vectors = append(vectors, doc.Embeddings.Body)
	}
	if len(eligible) == 0 {
		return batch, nil
	}

	var (
		okCount  int
		itemErrs []ItemError
	)
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 0 // bounded by WithMaxRetries
	err := backoff.Retry(func() error {
		var callErr error
		okCount, itemErrs, callErr = ix.client.UpsertBatch(ctx, fields, vectors, ids)
		if callErr == nil {
			return nil
		}
		if errors.Is(callErr, ErrUnavailable) {
			return callErr
		}
		return backoff.Permanent(callErr)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(ix.maxRetries)), ctx))

	if err != nil {
		// Exhausted retries: record per document, keep the run going.
		for _, doc := range eligible {
			step := types.NewStep(types.StageIndex, types.StepError)
			step.Error = err.Error()
			ix.recordStep(ctx, doc.ID, step)
			ix.reporter.DocumentFailed(ctx, types.StageIndex, doc.ID, err)
		}
		ix.logger.Warn("index batch failed after retries",
			zap.Int("documents", len(eligible)),
			zap.Int("retries", ix.maxRetries),
			zap.Error(err))
		return batch, nil
	}

	failed := make(map[string]string, len(itemErrs))
	for _, ie := range itemErrs {
		failed[ie.ID] = ie.Error
	}
	durationMS := float64(time.Since(started).Milliseconds())
	for _, doc := range eligible {
		if msg, ok := failed[doc.ID]; ok {
			step := types.NewStep(types.StageIndex, types.StepError)
			step.Error = msg
			ix.recordStep(ctx, doc.ID, step)
			ix.reporter.DocumentFailed(ctx, types.StageIndex, doc.ID, fmt.Errorf("%w: %s", ErrIndexing, msg))
			continue
		}
		step := types.NewStep(types.StageIndex, types.StepSuccess)
		step.Metrics = map[string]float64{types.MetricDurationMS: durationMS}
		ix.recordStep(ctx, doc.ID, step)
		ix.indexed.Add(1)
	}

	ix.logger.Debug("index batch upserted",
		zap.Int("ok", okCount),
		zap.Int("rejected", len(itemErrs)))
	return batch, nil
}

func (ix *Indexer) recordStep(ctx context.Context, id string, step types.ProcessingStep) {
	if ix.steps == nil || id == "" {
		return
	}
	if err := ix.steps.RecordStep(ctx, id, step); err != nil {
		ix.logger.Warn("failed to record index step", zap.String("doc_id", id), zap.Error(err))
	}
}

// ineligibleReason reports why a document cannot be indexed, or "".
func ineligibleReason(doc *types.Document) string {
	switch {
	case doc.ID == "":
		return "missing id"
	case len(doc.Embeddings.Body) == 0:
		return "no embedding"
	case doc.Embeddings.Version == types.EmbeddingVersionFailed:
		return "embedding failed"
	default:
		return ""
	}
}

// indexFields flattens the indexable portion of a document.
func indexFields(doc *types.Document) map[string]interface{} {
	fields := map[string]interface{}{
		"content": doc.Content.Body,
	}
	if doc.Content.Summary != "" {
		fields["summary"] = doc.Content.Summary
	}
	if len(doc.Metadata) > 0 {
		fields["metadata"] = doc.Metadata
	}
	return fields
}

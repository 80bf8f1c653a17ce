package embed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/docpipe/docpipe/internal/cache"
	"github.com/docpipe/docpipe/internal/events"
	"github.com/docpipe/docpipe/internal/types"
)

// StepRecorder appends a processing step to a document's lineage.
type StepRecorder interface {
	RecordStep(ctx context.Context, id string, step types.ProcessingStep) error
}

// Options wires the stage's collaborators and tuning knobs.
type Options struct {
	ChunkTokens  int
	ChunkOverlap int
	Workers      int
	Steps        StepRecorder
	Reporter     *events.Reporter
	Memo         *cache.Memoizer
	Logger       *zap.Logger
}

// Embedder fills each document's vector fields. A document whose body
// cannot be embedded is tagged v1_failed and passes through; it is never
// dropped here.
type Embedder struct {
	client       Client
	chunkTokens  int
	chunkOverlap int
	workers      int
	steps        StepRecorder
	reporter     *events.Reporter
	memo         *cache.Memoizer
	logger       *zap.Logger
}

// New creates the embedding stage.
func New(client Client, opts Options) *Embedder {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	chunkTokens := opts.ChunkTokens
	if chunkTokens <= 0 {
		chunkTokens = 256
	}
	overlap := opts.ChunkOverlap
	if overlap < 0 {
		overlap = 0
	}
	return &Embedder{
		client:       client,
		chunkTokens:  chunkTokens,
		chunkOverlap: overlap,
		workers:      workers,
		steps:        opts.Steps,
		reporter:     opts.Reporter,
		memo:         opts.Memo,
		logger:       logger,
	}
}

// Name implements the stage contract.
func (e *Embedder) Name() string { return types.StageEmbed }

// embedArgs keys the memo cache. The text list sent to the model is fully
// determined by these fields.
type embedArgs struct {
	Model        string `json:"model"`
	ChunkTokens  int    `json:"chunk_tokens"`
	ChunkOverlap int    `json:"chunk_overlap"`
	Body         string `json:"body"`
	Summary      string `json:"summary,omitempty"`
}

// Process embeds every document in the batch on a bounded worker pool.
// On cancellation unfinished documents are left untouched and ctx.Err()
// is returned after in-flight workers drain.
func (e *Embedder) Process(ctx context.Context, batch []*types.Document) ([]*types.Document, error) {
	if len(batch) == 0 {
		return batch, nil
	}

	sem := make(chan struct{}, e.workers)
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
			e.embedDocument(ctx, doc)
		}(doc)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return batch, err
	}
	return batch, nil
}

func (e *Embedder) embedDocument(ctx context.Context, doc *types.Document) {
	body := strings.TrimSpace(doc.Content.Body)
	if body == "" {
		step := types.NewStep(types.StageEmbed, types.StepSkipped)
		step.Details = map[string]any{"reason": "empty body"}
		e.recordStep(ctx, doc.ID, step)
		return
	}

	started := time.Now()
	chunks := SplitTokens(body, e.chunkTokens, e.chunkOverlap)
	texts := chunks
	summary := strings.TrimSpace(doc.Content.Summary)
	if summary != "" {
		texts = append(append([]string(nil), chunks...), summary)
	}

	args := embedArgs{
		Model:        e.client.Model(),
		ChunkTokens:  e.chunkTokens,
		ChunkOverlap: e.chunkOverlap,
		Body:         body,
		Summary:      summary,
	}
	vectors, err := cache.Memoized(ctx, e.memo, "embed", args, func(ctx context.Context) ([][]float32, error) {
		return e.client.Embed(ctx, texts)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.markFailed(ctx, doc, err)
		return
	}
	if len(vectors) != len(texts) {
		e.markFailed(ctx, doc, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbedding, len(vectors), len(texts)))
		return
	}
	if err := ValidateVectors(vectors); err != nil {
		e.markFailed(ctx, doc, err)
		return
	}

	chunkVecs := vectors[:len(chunks)]
	doc.Embeddings = types.Embeddings{
		Body:    DocumentVector(chunkVecs),
		Chunks:  chunkVecs,
		Model:   e.client.Model(),
		Version: types.EmbeddingVersion,
	}
	if summary != "" {
		doc.Embeddings.Summary = L2Normalize(vectors[len(chunks)])
	}

	step := types.NewStep(types.StageEmbed, types.StepSuccess)
	step.Metrics = map[string]float64{
		types.MetricDurationMS: float64(time.Since(started).Milliseconds()),
		"chunks":               float64(len(chunks)),
	}
	e.recordStep(ctx, doc.ID, step)
}

// markFailed tags the document v1_failed so downstream stages treat it as
// unembedded, and records the failure without stopping the run.
func (e *Embedder) markFailed(ctx context.Context, doc *types.Document, err error) {
	doc.Embeddings = types.Embeddings{
		Model:   e.client.Model(),
		Version: types.EmbeddingVersionFailed,
		Error:   err.Error(),
	}
	step := types.NewStep(types.StageEmbed, types.StepError)
	step.Error = err.Error()
	e.recordStep(ctx, doc.ID, step)
	e.reporter.DocumentFailed(ctx, types.StageEmbed, doc.ID, err)
	e.logger.Warn("embedding failed",
		zap.String("doc_id", doc.ID),
		zap.Error(err))
}

func (e *Embedder) recordStep(ctx context.Context, id string, step types.ProcessingStep) {
	if e.steps == nil || id == "" {
		return
	}
	if err := e.steps.RecordStep(ctx, id, step); err != nil {
		e.logger.Warn("failed to record embed step", zap.String("doc_id", id), zap.Error(err))
	}
}

package summarize

import (
	"context"
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
	MaxWords     int // summary length cap
	MinWords     int // bodies below this become their own summary
	ChunkWords   int
	ChunkOverlap int
	Workers      int
	Steps        StepRecorder
	Reporter     *events.Reporter
	Memo         *cache.Memoizer
	Logger       *zap.Logger
}

// Summarizer fills Content.Summary for each document. Long bodies are
// summarized chunk by chunk; the chunk summaries are concatenated and
// condensed in a final pass. A document whose every chunk fails passes
// through with summary unset and an Error step.
type Summarizer struct {
	client       Client
	maxWords     int
	minWords     int
	chunkWords   int
	chunkOverlap int
	workers      int
	steps        StepRecorder
	reporter     *events.Reporter
	memo         *cache.Memoizer
	logger       *zap.Logger
}

// New creates the summarization stage.
func New(client Client, opts Options) *Summarizer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	maxWords := opts.MaxWords
	if maxWords < 1 {
		maxWords = 150
	}
	chunkWords := opts.ChunkWords
	if chunkWords < 1 {
		chunkWords = 800
	}
	overlap := opts.ChunkOverlap
	if overlap < 0 {
		overlap = 0
	}
	minWords := opts.MinWords
	if minWords < 0 {
		minWords = 0
	}
	return &Summarizer{
		client:       client,
		maxWords:     maxWords,
		minWords:     minWords,
		chunkWords:   chunkWords,
		chunkOverlap: overlap,
		workers:      workers,
		steps:        opts.Steps,
		reporter:     opts.Reporter,
		memo:         opts.Memo,
		logger:       logger,
	}
}

// Name implements the stage contract.
func (s *Summarizer) Name() string { return types.StageSummarize }

// Process summarizes every document in the batch on a bounded worker pool.
func (s *Summarizer) Process(ctx context.Context, batch []*types.Document) ([]*types.Document, error) {
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
			s.summarizeDocument(ctx, doc)
		}(doc)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return batch, err
	}
	return batch, nil
}

func (s *Summarizer) summarizeDocument(ctx context.Context, doc *types.Document) {
	body := strings.TrimSpace(doc.Content.Body)
	wordCount := len(strings.Fields(body))
	if wordCount == 0 {
		step := types.NewStep(types.StageSummarize, types.StepSkipped)
		step.Details = map[string]any{"reason": "empty body"}
		s.recordStep(ctx, doc.ID, step)
		return
	}

	started := time.Now()

	// Short bodies are their own summary; no model call.
	if wordCount < s.minWords {
		doc.Content.Summary = body
		setMeta(doc, types.MetaWasSummarized, false)
		step := types.NewStep(types.StageSummarize, types.StepSuccess)
		step.Details = map[string]any{types.MetaWasSummarized: false}
		step.Metrics = map[string]float64{types.MetricDurationMS: float64(time.Since(started).Milliseconds())}
		s.recordStep(ctx, doc.ID, step)
		return
	}

	chunks := splitWords(body, s.chunkWords, s.chunkOverlap)
	summaries := make([]string, 0, len(chunks))
	var chunkFailures int
	var lastErr error
	for _, chunk := range chunks {
		if ctx.Err() != nil {
			return
		}
		summary, err := s.summarizeText(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			chunkFailures++
			lastErr = err
			s.logger.Warn("chunk summarization failed",
				zap.String("doc_id", doc.ID),
				zap.Error(err))
			continue
		}
		summaries = append(summaries, summary)
	}

	if len(summaries) == 0 {
		step := types.NewStep(types.StageSummarize, types.StepError)
		step.Error = lastErr.Error()
		step.Details = map[string]any{"chunks": len(chunks)}
		s.recordStep(ctx, doc.ID, step)
		s.reporter.DocumentFailed(ctx, types.StageSummarize, doc.ID, lastErr)
		return
	}

	status := types.StepSuccess
	details := map[string]any{types.MetaWasSummarized: true}
	if chunkFailures > 0 {
		status = types.StepWarning
		details["chunk_failures"] = chunkFailures
	}

	summary := summaries[0]
	if len(summaries) > 1 {
		combined := strings.Join(summaries, "\n\n")
		final, err := s.summarizeText(ctx, combined)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Keep the concatenation; truncation below still bounds it.
			summary = combined
			status = types.StepWarning
			details["final_pass_error"] = err.Error()
		} else {
			summary = final
		}
	}

	doc.Content.Summary = truncateWords(summary, s.maxWords)
	setMeta(doc, types.MetaWasSummarized, true)

	step := types.NewStep(types.StageSummarize, status)
	step.Details = details
	step.Metrics = map[string]float64{
		types.MetricDurationMS: float64(time.Since(started).Milliseconds()),
		"chunks":               float64(len(chunks)),
	}
	s.recordStep(ctx, doc.ID, step)
}

// summarizeArgs keys the memo cache.
type summarizeArgs struct {
	Model    string `json:"model"`
	MaxWords int    `json:"max_words"`
	Text     string `json:"text"`
}

func (s *Summarizer) summarizeText(ctx context.Context, text string) (string, error) {
	args := summarizeArgs{Model: s.client.Model(), MaxWords: s.maxWords, Text: text}
	return cache.Memoized(ctx, s.memo, "summarize", args, func(ctx context.Context) (string, error) {
		return s.client.Summarize(ctx, text, s.maxWords)
	})
}

func (s *Summarizer) recordStep(ctx context.Context, id string, step types.ProcessingStep) {
	if s.steps == nil || id == "" {
		return
	}
	if err := s.steps.RecordStep(ctx, id, step); err != nil {
		s.logger.Warn("failed to record summarize step", zap.String("doc_id", id), zap.Error(err))
	}
}

func setMeta(doc *types.Document, key string, value any) {
	if doc.Metadata == nil {
		doc.Metadata = make(types.Metadata)
	}
	doc.Metadata[key] = value
}

// splitWords windows text into chunks of at most size words, consecutive
// chunks sharing overlap words. Text at or under size is one chunk.
func splitWords(text string, size, overlap int) []string {
	if size <= 0 {
		return []string{text}
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}

	words := strings.Fields(text)
	if len(words) <= size {
		return []string{text}
	}

	step := size - overlap
	chunks := make([]string, 0, (len(words)+step-1)/step)
	for start := 0; start < len(words); start += step {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

// truncateWords caps s at max words.
func truncateWords(s string, max int) string {
	if max <= 0 {
		return s
	}
	words := strings.Fields(s)
	if len(words) <= max {
		return strings.TrimSpace(s)
	}
	return strings.Join(words[:max], " ")
}

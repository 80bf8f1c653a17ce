package cluster

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/docpipe/docpipe/internal/embed"
	"github.com/docpipe/docpipe/internal/types"
)

// StepRecorder appends a processing step to a document's lineage.
type StepRecorder interface {
	RecordStep(ctx context.Context, id string, step types.ProcessingStep) error
}

// Options wires the stage's collaborators.
type Options struct {
	MaxClusters    int
	MinClusterSize int
	TopKeywords    int
	Seed           int64
	Steps          StepRecorder
	Logger         *zap.Logger
}

// Clusterer annotates each embedded document in a batch with cluster
// metadata. k-means fits the whole batch at once, so the stage runs
// single-threaded; documents without a usable body vector are skipped
// and pass through unannotated.
type Clusterer struct {
	maxClusters    int
	minClusterSize int
	topKeywords    int
	seed           int64
	steps          StepRecorder
	logger         *zap.Logger
}

// New creates the clustering stage.
func New(opts Options) *Clusterer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxClusters := opts.MaxClusters
	if maxClusters < 1 {
		maxClusters = 1
	}
	minClusterSize := opts.MinClusterSize
	if minClusterSize < 1 {
		minClusterSize = 1
	}
	topKeywords := opts.TopKeywords
	if topKeywords < 1 {
		topKeywords = 5
	}
	return &Clusterer{
		maxClusters:    maxClusters,
		minClusterSize: minClusterSize,
		topKeywords:    topKeywords,
		seed:           opts.Seed,
		steps:          opts.Steps,
		logger:         logger,
	}
}

// Name implements the stage contract.
func (c *Clusterer) Name() string { return types.StageCluster }

// Process clusters the batch's body vectors and annotates every
// clustered document with cluster_id, cluster_size, cluster_keywords,
// and cluster_similarity metadata.
func (c *Clusterer) Process(ctx context.Context, batch []*types.Document) ([]*types.Document, error) {
	if err := ctx.Err(); err != nil {
		return batch, err
	}
	if len(batch) == 0 {
		return batch, nil
	}
	started := time.Now()

	var (
		eligible []*types.Document
		vectors  [][]float32
		dim      int
	)
	for _, doc := range batch {
		var reason string
		switch {
		case len(doc.Embeddings.Body) == 0:
			reason = "no embedding"
		case doc.Embeddings.Version == types.EmbeddingVersionFailed:
			reason = "embedding failed"
		case dim > 0 && len(doc.Embeddings.Body) != dim:
			reason = "dimension mismatch"
		}
		if reason != "" {
			step := types.NewStep(types.StageCluster, types.StepSkipped)
			step.Details = map[string]any{"reason": reason}
			c.recordStep(ctx, doc.ID, step)
			continue
		}
		if dim == 0 {
			dim = len(doc.Embeddings.Body)
		}
		eligible = append(eligible, doc)
		vectors = append(vectors, doc.Embeddings.Body)
	}
	if len(eligible) == 0 {
		c.logger.Debug("cluster stage skipped, batch has no embeddings")
		return batch, nil
	}

	result := chooseK(vectors, c.maxClusters, c.minClusterSize, c.seed)

	sizes := make([]int, result.k)
	for _, a := range result.assignments {
		sizes[a]++
	}

	// Per-document centroid similarity, reused as the keyword weight.
	sims := make([]float64, len(eligible))
	for i, vec := range vectors {
		sims[i] = embed.CosineSimilarity(vec, result.centroids[result.assignments[i]])
	}

	keywords := make([][]string, result.k)
	for cl := 0; cl < result.k; cl++ {
		var (
			members    []*types.Document
			memberSims []float64
		)
		for i, a := range result.assignments {
			if a == cl {
				members = append(members, eligible[i])
				memberSims = append(memberSims, sims[i])
			}
		}
		keywords[cl] = clusterKeywords(members, memberSims, c.topKeywords)
	}

	durationMS := float64(time.Since(started).Milliseconds())
	for i, doc := range eligible {
		cl := result.assignments[i]
		setMeta(doc, types.MetaClusterID, cl)
		setMeta(doc, types.MetaClusterSize, sizes[cl])
		setMeta(doc, types.MetaClusterKeywords, keywords[cl])
		setMeta(doc, types.MetaClusterSimilarity, sims[i])

		step := types.NewStep(types.StageCluster, types.StepSuccess)
		step.Details = map[string]any{"cluster_id": cl, "k": result.k}
		step.Metrics = map[string]float64{types.MetricDurationMS: durationMS}
		c.recordStep(ctx, doc.ID, step)
	}

	c.logger.Debug("clustered batch",
		zap.Int("documents", len(eligible)),
		zap.Int("k", result.k),
		zap.Float64("inertia", result.inertia))
	return batch, nil
}

func (c *Clusterer) recordStep(ctx context.Context, id string, step types.ProcessingStep) {
	if c.steps == nil || id == "" {
		return
	}
	if err := c.steps.RecordStep(ctx, id, step); err != nil {
		c.logger.Warn("failed to record cluster step", zap.String("doc_id", id), zap.Error(err))
	}
}

func setMeta(doc *types.Document, key string, value any) {
	if doc.Metadata == nil {
		doc.Metadata = make(types.Metadata)
	}
	doc.Metadata[key] = value
}

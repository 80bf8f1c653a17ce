// Package types defines core data structures for the docpipe pipeline.
package types

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Document is the unit of work flowing through the pipeline.
type Document struct {
	ID            string        `json:"id"` // UUID v4, assigned at load when the source has none
	Content       Content       `json:"content"`
	Metadata      Metadata      `json:"metadata,omitempty"`
	Embeddings    Embeddings    `json:"embeddings,omitempty"`
	Relationships Relationships `json:"relationships,omitempty"`
}

// Content holds the document body and its derived summary.
type Content struct {
	Body    string `json:"body"`
	Summary string `json:"summary,omitempty"`
}

// Metadata is an open key/value bag. The keys below are required on every
// loaded document; stages add their own keys as they run.
type Metadata map[string]any

// Required metadata keys, set by the loader.
const (
	MetaTitle     = "title"
	MetaSource    = "source"
	MetaTimestamp = "timestamp" // RFC 3339, UTC
	MetaPath      = "path"
)

// Stage-written metadata keys.
const (
	MetaTruncated         = "truncated" // loader body-length truncation marker
	MetaPIIDetected       = "pii_detected"
	MetaPIITypes          = "pii_types"
	MetaWasSummarized     = "was_summarized"
	MetaClusterID         = "cluster_id"
	MetaClusterSize       = "cluster_size"
	MetaClusterKeywords   = "cluster_keywords"
	MetaClusterSimilarity = "cluster_similarity"
)

// Embeddings carries the vector representations of a document.
// Version is EmbeddingVersion on success and EmbeddingVersionFailed when
// every chunk of the body failed to embed; downstream consumers must treat
// a failed version as "no vector".
type Embeddings struct {
	Body    []float32   `json:"body,omitempty"`
	Summary []float32   `json:"summary,omitempty"`
	Chunks  [][]float32 `json:"chunks,omitempty"`
	Model   string      `json:"model,omitempty"`
	Version string      `json:"version,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Embedding version tags.
const (
	EmbeddingVersion       = "v1"
	EmbeddingVersionFailed = "v1_failed"
)

// Relationships links a document to others in the same corpus.
type Relationships struct {
	ParentID   string   `json:"parent_id,omitempty"`
	References []string `json:"references,omitempty"`
}

// Stage names in canonical execution order. These double as the step names
// recorded on lineage and as the tokens accepted by --steps.
const (
	StageLoad        = "load"
	StageDeduplicate = "deduplicate"
	StagePII         = "pii"
	StageSummarize   = "summarize"
	StageEmbed       = "embed"
	StageCluster     = "cluster"
	StageIndex       = "index"
)

// CanonicalStages lists every stage in execution order.
var CanonicalStages = []string{
	StageLoad, StageDeduplicate, StagePII, StageSummarize,
	StageEmbed, StageCluster, StageIndex,
}

// IsStage reports whether name is a known stage token.
func IsStage(name string) bool {
	for _, s := range CanonicalStages {
		if s == name {
			return true
		}
	}
	return false
}

// StepStatus is the outcome of one processing step on one document.
type StepStatus string

// Step status constants
const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running" // transient; never persisted at a stage boundary
	StepSuccess StepStatus = "success"
	StepWarning StepStatus = "warning" // succeeded with caveats recorded in Details
	StepError   StepStatus = "error"   // this document failed; the run continues
	StepFailed  StepStatus = "failed"  // stage-scoped failure surfaced on the document
	StepSkipped StepStatus = "skipped" // stage disabled or preconditions unmet
)

// IsValid checks if the step status value is valid
func (s StepStatus) IsValid() bool {
	switch s {
	case StepPending, StepRunning, StepSuccess, StepWarning, StepError, StepFailed, StepSkipped:
		return true
	}
	return false
}

// IsTerminal reports whether the status may be persisted at a stage boundary.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepSuccess, StepWarning, StepError, StepFailed, StepSkipped:
		return true
	}
	return false
}

// ProcessingStep records one stage's outcome for one document.
type ProcessingStep struct {
	StepName  string             `json:"step_name"`
	Status    StepStatus         `json:"status"`
	Details   map[string]any     `json:"details,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Error     string             `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"` // UTC
}

// MetricDurationMS is the metric key every stage records.
const MetricDurationMS = "duration_ms"

// NewStep builds a terminal step record stamped with the current UTC time.
func NewStep(name string, status StepStatus) ProcessingStep {
	return ProcessingStep{
		StepName:  name,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

// ComputeContentHash creates a deterministic hash of the document's content.
// Uses content, metadata, and embeddings (excluding ID and relationships) so
// that identical documents arriving under different IDs or paths collide.
// Metadata keys are visited in sorted order; values are canonicalized through
// encoding/json, which sorts nested map keys.
func (d *Document) ComputeContentHash() string {
	h := sha256.New()

	h.Write([]byte(d.Content.Body))
	h.Write([]byte{0}) // separator
	h.Write([]byte(d.Content.Summary))
	h.Write([]byte{0})

	keys := make([]string, 0, len(d.Metadata))
	for k := range d.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		if b, err := json.Marshal(d.Metadata[k]); err == nil {
			h.Write(b)
		}
		h.Write([]byte{0})
	}

	hashVector := func(v []float32) {
		for _, f := range v {
			h.Write([]byte(fmt.Sprintf("%g", f)))
			h.Write([]byte{0})
		}
	}
	hashVector(d.Embeddings.Body)
	hashVector(d.Embeddings.Summary)
	h.Write([]byte(d.Embeddings.Model))
	h.Write([]byte{0})
	h.Write([]byte(d.Embeddings.Version))
	h.Write([]byte{0})

	return fmt.Sprintf("%x", h.Sum(nil))
}

// Validate checks the structural invariants a document must satisfy after
// loading: non-empty ID, required metadata keys, parseable UTC timestamp,
// and finite embedding values.
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("document has no id")
	}
	for _, key := range []string{MetaTitle, MetaSource, MetaTimestamp, MetaPath} {
		if _, ok := d.Metadata[key]; !ok {
			return fmt.Errorf("document %s: missing required metadata key %q", d.ID, key)
		}
	}
	if ts, ok := d.Metadata[MetaTimestamp].(string); ok {
		if _, err := time.Parse(time.RFC3339, ts); err != nil {
			return fmt.Errorf("document %s: invalid timestamp %q: %w", d.ID, ts, err)
		}
	} else {
		return fmt.Errorf("document %s: metadata %q must be an RFC 3339 string", d.ID, MetaTimestamp)
	}
	for _, v := range d.Embeddings.Body {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("document %s: non-finite body embedding value", d.ID)
		}
	}
	return nil
}

// Clone returns a deep copy. Stages that mutate documents on worker
// goroutines operate on clones so a failed document never leaves a
// half-written original behind.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Metadata = make(Metadata, len(d.Metadata))
	for k, v := range d.Metadata {
		out.Metadata[k] = v
	}
	out.Embeddings.Body = append([]float32(nil), d.Embeddings.Body...)
	out.Embeddings.Summary = append([]float32(nil), d.Embeddings.Summary...)
	if d.Embeddings.Chunks != nil {
		out.Embeddings.Chunks = make([][]float32, len(d.Embeddings.Chunks))
		for i, c := range d.Embeddings.Chunks {
			out.Embeddings.Chunks[i] = append([]float32(nil), c...)
		}
	}
	out.Relationships.References = append([]string(nil), d.Relationships.References...)
	return &out
}

// Title returns the title metadata value, or "" when absent.
func (d *Document) Title() string {
	if t, ok := d.Metadata[MetaTitle].(string); ok {
		return t
	}
	return ""
}

// Package docpipe provides a minimal public API for embedding the document
// pipeline in other programs.
//
// Most integrations should run the docpipe CLI and read its log and lineage
// output. This package exports only the essential types and functions for
// Go programs that want to drive a run programmatically against an export
// directory.
package docpipe

import (
	"context"

	"github.com/docpipe/docpipe/internal/dedup"
	"github.com/docpipe/docpipe/internal/lineage"
	"github.com/docpipe/docpipe/internal/loader"
	"github.com/docpipe/docpipe/internal/pipeline"
	"github.com/docpipe/docpipe/internal/types"
)

// Core types for working with documents and run results
type (
	Document       = types.Document
	ProcessingStep = types.ProcessingStep
	Record         = lineage.Record
	Result         = pipeline.Result
	Stage          = pipeline.Stage
)

// Stage name constants, in canonical execution order
const (
	StageLoad        = types.StageLoad
	StageDeduplicate = types.StageDeduplicate
	StagePII         = types.StagePII
	StageSummarize   = types.StageSummarize
	StageEmbed       = types.StageEmbed
	StageCluster     = types.StageCluster
	StageIndex       = types.StageIndex
)

// Ledger records what every stage did to every document.
type Ledger = pipeline.Ledger

// NewLedger returns an in-memory lineage ledger scoped to one run.
func NewLedger() Ledger {
	return lineage.NewManager(lineage.NewMemoryStore(), nil, 0, nil)
}

// Dedup returns the content-hash deduplication stage. It needs no
// external services, which makes it the usual companion for embedded runs.
func Dedup(ledger Ledger) Stage {
	return dedup.New(dedup.Options{Steps: ledger})
}

// Run loads every supported file under exportDir and processes the
// documents through the given stages with default batching. A nil ledger
// gets a fresh in-memory one.
func Run(ctx context.Context, exportDir string, ledger Ledger, stages ...Stage) (*Result, error) {
	if ledger == nil {
		ledger = NewLedger()
	}
	p := pipeline.New(pipeline.Options{
		Loader: loader.New(loader.Options{Dir: exportDir}),
		Stages: stages,
		Ledger: ledger,
	})
	return p.Run(ctx)
}

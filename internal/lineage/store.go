package lineage

import (
	"context"

	"github.com/docpipe/docpipe/internal/types"
)

// UpdateOptions carries the optional parts of an Update call.
type UpdateOptions struct {
	Source     *SourceInfo
	Metadata   map[string]any
	RelatedIDs []string
}

// Stats summarizes the store for status output.
type Stats struct {
	Records      int `json:"records"`
	TotalChanges int `json:"total_changes"`
	TotalSteps   int `json:"total_steps"`
	Edges        int `json:"edges"` // reference edges, counted once each
}

// Store is the persistence contract for lineage records. All mutations are
// serialised; every method honors its context for cancellation.
//
// Get returns (nil, nil) when the id has no record. Mutations on an unknown
// id return ErrNotFound, duplicate Create returns ErrConflict, and a
// Referenced update that would close a loop returns a *CycleError before any
// state changes.
type Store interface {
	Create(ctx context.Context, id string, source *SourceInfo, parentID string) (*Record, error)
	Update(ctx context.Context, id string, kind ChangeKind, opts UpdateOptions) (*Record, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Record, error)
	History(ctx context.Context, id string, sinceVersion int) ([]Change, error)
	AppendStep(ctx context.Context, id string, step types.ProcessingStep) (*Record, error)
	List(ctx context.Context) ([]*Record, error)
	Stats(ctx context.Context) (Stats, error)
}

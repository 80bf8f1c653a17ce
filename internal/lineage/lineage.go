// Package lineage tracks every document's processing history as a versioned,
// append-only record plus a relationship graph (parent/children and
// references) whose integrity is enforced across concurrent writers.
package lineage

import (
	"sort"
	"time"

	"github.com/docpipe/docpipe/internal/types"
)

// Record is the full lineage of one document. CurrentVersion always equals
// len(History); relationship sets are kept sorted and deduplicated, and the
// references/referencedBy pairing is symmetric across records.
type Record struct {
	DocumentID      string                 `json:"document_id"`
	CurrentVersion  int                    `json:"current_version"`
	Source          *SourceInfo            `json:"source_info,omitempty"`
	ParentID        string                 `json:"parent_id,omitempty"`
	ChildrenIDs     []string               `json:"children_ids,omitempty"`
	ReferenceIDs    []string               `json:"reference_ids,omitempty"`
	ReferencedByIDs []string               `json:"referenced_by_ids,omitempty"`
	History         []Change               `json:"history"`
	Steps           []types.ProcessingStep `json:"steps,omitempty"`
}

// SourceInfo identifies where a document came from.
type SourceInfo struct {
	System   string         `json:"system,omitempty"`
	ID       string         `json:"id,omitempty"`
	Location string         `json:"location,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Change is one entry in a record's append-only history.
type Change struct {
	Timestamp  time.Time      `json:"timestamp"` // UTC
	Kind       ChangeKind     `json:"kind"`
	Version    int            `json:"version"` // 1-based position in history
	Source     *SourceInfo    `json:"source_info,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	RelatedIDs []string       `json:"related_ids,omitempty"`
}

// ChangeKind categorizes a history entry.
type ChangeKind string

// Change kind constants
const (
	KindCreated      ChangeKind = "created"
	KindUpdated      ChangeKind = "updated"
	KindDeleted      ChangeKind = "deleted"
	KindProcessed    ChangeKind = "processed"
	KindReferenced   ChangeKind = "referenced"
	KindDereferenced ChangeKind = "dereferenced"
)

// IsValid checks if the change kind value is valid
func (k ChangeKind) IsValid() bool {
	switch k {
	case KindCreated, KindUpdated, KindDeleted, KindProcessed, KindReferenced, KindDereferenced:
		return true
	}
	return false
}

// Metadata keys written by relationship side effects.
const (
	metaChildDocument  = "child_document"
	metaRemovedChild   = "removed_child"
	metaReferencedBy   = "referenced_by"
	metaDereferencedBy = "dereferenced_by"
)

// Clone returns a deep copy safe to hand outside the store lock.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Source = r.Source.clone()
	out.ChildrenIDs = append([]string(nil), r.ChildrenIDs...)
	out.ReferenceIDs = append([]string(nil), r.ReferenceIDs...)
	out.ReferencedByIDs = append([]string(nil), r.ReferencedByIDs...)
	out.History = make([]Change, len(r.History))
	for i, c := range r.History {
		out.History[i] = c.clone()
	}
	if r.Steps != nil {
		out.Steps = append([]types.ProcessingStep(nil), r.Steps...)
	}
	return &out
}

func (s *SourceInfo) clone() *SourceInfo {
	if s == nil {
		return nil
	}
	out := *s
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func (c Change) clone() Change {
	out := c
	out.Source = c.Source.clone()
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	out.RelatedIDs = append([]string(nil), c.RelatedIDs...)
	return out
}

// appendChange stamps and appends a change, keeping CurrentVersion in sync.
func (r *Record) appendChange(kind ChangeKind, source *SourceInfo, metadata map[string]any, relatedIDs []string) {
	r.History = append(r.History, Change{
		Timestamp:  time.Now().UTC(),
		Kind:       kind,
		Version:    len(r.History) + 1,
		Source:     source,
		Metadata:   metadata,
		RelatedIDs: append([]string(nil), relatedIDs...),
	})
	r.CurrentVersion = len(r.History)
}

// insertSorted adds v to a sorted string set, returning the new set and
// whether it changed.
func insertSorted(set []string, v string) ([]string, bool) {
	i := sort.SearchStrings(set, v)
	if i < len(set) && set[i] == v {
		return set, false
	}
	set = append(set, "")
	copy(set[i+1:], set[i:])
	set[i] = v
	return set, true
}

// removeString drops v from a sorted string set, returning the new set and
// whether it changed.
func removeString(set []string, v string) ([]string, bool) {
	i := sort.SearchStrings(set, v)
	if i >= len(set) || set[i] != v {
		return set, false
	}
	return append(set[:i], set[i+1:]...), true
}

func containsString(set []string, v string) bool {
	i := sort.SearchStrings(set, v)
	return i < len(set) && set[i] == v
}

// Package events is the in-process bus for pipeline lifecycle
// notifications. Run, stage, and batch progress plus per-document
// failures flow through it to the logger and the health aggregator.
package events

import (
	"time"
)

// Type identifies an event flowing through the bus.
type Type string

const (
	TypeRunStarted     Type = "RunStarted"
	TypeStageStarted   Type = "StageStarted"
	TypeStageCompleted Type = "StageCompleted"
	TypeBatchCompleted Type = "BatchCompleted"
	TypeDocumentFailed Type = "DocumentFailed"
	TypeRunCompleted   Type = "RunCompleted"
)

// AllTypes lists every event type, for handlers that subscribe to the
// whole lifecycle.
func AllTypes() []Type {
	return []Type{
		TypeRunStarted,
		TypeStageStarted,
		TypeStageCompleted,
		TypeBatchCompleted,
		TypeDocumentFailed,
		TypeRunCompleted,
	}
}

// Event is a single lifecycle notification. Fields beyond Type, RunID,
// and At are populated per type: Stage for stage and document events,
// Batch/Count for batch events, DocumentID/Error for failures.
type Event struct {
	Type       Type      `json:"type"`
	RunID      string    `json:"run_id"`
	Stage      string    `json:"stage,omitempty"`
	Batch      int       `json:"batch,omitempty"`
	Count      int       `json:"count,omitempty"`
	Failed     int       `json:"failed,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// New builds an event stamped with the current UTC time.
func New(t Type, runID string) *Event {
	return &Event{Type: t, RunID: runID, At: time.Now().UTC()}
}

// WithStage sets the stage name and returns the event for chaining.
func (e *Event) WithStage(stage string) *Event {
	e.Stage = stage
	return e
}

// WithBatch sets the batch ordinal and document count.
func (e *Event) WithBatch(batch, count int) *Event {
	e.Batch = batch
	e.Count = count
	return e
}

// WithDocument sets the failing document and cause.
func (e *Event) WithDocument(id string, err error) *Event {
	e.DocumentID = id
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithCounts sets aggregate counts for run-level events.
func (e *Event) WithCounts(count, failed int) *Event {
	e.Count = count
	e.Failed = failed
	return e
}

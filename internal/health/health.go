// Package health aggregates per-stage pipeline status from lifecycle
// events. The aggregator subscribes to the event bus and produces the
// snapshot behind the final report and --status-json output.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/docpipe/docpipe/internal/events"
	"github.com/docpipe/docpipe/internal/types"
)

// Status of a single stage over the run.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// DefaultMaxErrors bounds the retained error log.
const DefaultMaxErrors = 50

// StageHealth carries counters for one stage.
type StageHealth struct {
	Stage     string `json:"stage"`
	Status    Status `json:"status"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	LastError string `json:"last_error,omitempty"`
}

// ErrorEntry is one recorded document failure.
type ErrorEntry struct {
	Stage      string    `json:"stage"`
	DocumentID string    `json:"document_id"`
	Error      string    `json:"error"`
	At         time.Time `json:"at"`
}

// Snapshot is a point-in-time view of the run's health.
type Snapshot struct {
	RunID       string        `json:"run_id"`
	Healthy     bool          `json:"healthy"`
	Stages      []StageHealth `json:"stages"`
	Errors      []ErrorEntry  `json:"errors,omitempty"`
	StartedAt   time.Time     `json:"started_at,omitempty"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
}

// Aggregator consumes lifecycle events and keeps per-stage counters
// plus a bounded log of recent document failures.
type Aggregator struct {
	mu          sync.Mutex
	runID       string
	stages      map[string]*StageHealth
	errors      []ErrorEntry
	maxErrors   int
	startedAt   time.Time
	completedAt time.Time
}

// NewAggregator creates an aggregator retaining at most maxErrors
// failure entries; maxErrors <= 0 uses DefaultMaxErrors.
func NewAggregator(maxErrors int) *Aggregator {
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	return &Aggregator{
		stages:    make(map[string]*StageHealth),
		maxErrors: maxErrors,
	}
}

func (a *Aggregator) ID() string            { return "health" }
func (a *Aggregator) Handles() []events.Type { return events.AllTypes() }
func (a *Aggregator) Priority() int          { return 20 }

// Handle updates counters from one event.
func (a *Aggregator) Handle(_ context.Context, e *events.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch e.Type {
	case events.TypeRunStarted:
		a.runID = e.RunID
		a.startedAt = e.At
	case events.TypeRunCompleted:
		a.completedAt = e.At
	case events.TypeStageStarted:
		a.stageLocked(e.Stage).Status = StatusRunning
	case events.TypeStageCompleted:
		sh := a.stageLocked(e.Stage)
		sh.Processed += e.Count
		switch {
		case e.Error != "":
			sh.Status = StatusFailed
			sh.LastError = e.Error
		case sh.Failed > 0:
			sh.Status = StatusDegraded
		default:
			sh.Status = StatusOK
		}
	case events.TypeDocumentFailed:
		sh := a.stageLocked(e.Stage)
		sh.Failed++
		sh.LastError = e.Error
		a.errors = append(a.errors, ErrorEntry{
			Stage:      e.Stage,
			DocumentID: e.DocumentID,
			Error:      e.Error,
			At:         e.At,
		})
		if len(a.errors) > a.maxErrors {
			a.errors = a.errors[len(a.errors)-a.maxErrors:]
		}
	}
	return nil
}

func (a *Aggregator) stageLocked(name string) *StageHealth {
	sh, ok := a.stages[name]
	if !ok {
		sh = &StageHealth{Stage: name, Status: StatusIdle}
		a.stages[name] = sh
	}
	return sh
}

// Snapshot returns the current health view. Stages follow canonical
// pipeline order; stages never started are omitted.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		RunID:       a.runID,
		Healthy:     true,
		StartedAt:   a.startedAt,
		CompletedAt: a.completedAt,
	}
	for _, name := range types.CanonicalStages {
		sh, ok := a.stages[name]
		if !ok {
			continue
		}
		snap.Stages = append(snap.Stages, *sh)
		if sh.Status == StatusFailed || sh.Status == StatusDegraded {
			snap.Healthy = false
		}
	}
	snap.Errors = append(snap.Errors, a.errors...)
	return snap
}

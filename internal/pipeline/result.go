package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docpipe/docpipe/internal/events"
	"github.com/docpipe/docpipe/internal/types"
)

// Result summarises one pipeline run. Processed counts documents that
// reached the end of the enabled chain, including documents that
// recorded per-stage errors along the way; Failed counts distinct
// documents that raised a failure anywhere.
type Result struct {
	RunID          string         `json:"run_id"`
	Loaded         int            `json:"loaded"`
	Processed      int            `json:"processed"`
	Deduplicated   int            `json:"deduplicated"`
	Failed         int            `json:"failed"`
	Cancelled      int            `json:"cancelled"`
	Indexed        int            `json:"indexed"`
	StageDocuments map[string]int `json:"stage_documents"` // documents entering each stage
	Duration       time.Duration  `json:"duration"`
	LogPath        string         `json:"log_path,omitempty"`
}

// runState carries the counters one run accumulates. Each stage worker
// owns its slot in stageDocs; the map itself is never mutated after
// construction.
type runState struct {
	runID        string
	loaded       atomic.Int64
	processed    atomic.Int64
	deduplicated atomic.Int64
	cancelled    atomic.Int64
	stageDocs    map[string]*atomic.Int64
	failures     *failureTally
}

func newRunState(runID string, stages []Stage) *runState {
	sd := map[string]*atomic.Int64{types.StageLoad: new(atomic.Int64)}
	for _, st := range stages {
		sd[st.Name()] = new(atomic.Int64)
	}
	return &runState{
		runID:     runID,
		stageDocs: sd,
		failures:  newFailureTally(runID),
	}
}

func (rs *runState) result(stages []Stage, duration time.Duration, logPath string) *Result {
	perStage := make(map[string]int, len(rs.stageDocs))
	for name, n := range rs.stageDocs {
		perStage[name] = int(n.Load())
	}
	res := &Result{
		RunID:          rs.runID,
		Loaded:         int(rs.loaded.Load()),
		Processed:      int(rs.processed.Load()),
		Deduplicated:   int(rs.deduplicated.Load()),
		Failed:         rs.failures.count(),
		Cancelled:      int(rs.cancelled.Load()),
		StageDocuments: perStage,
		Duration:       duration,
		LogPath:        logPath,
	}
	for _, st := range stages {
		if ic, ok := st.(interface{ Indexed() int64 }); ok {
			res.Indexed += int(ic.Indexed())
		}
	}
	return res
}

// failureTally tracks distinct failed documents for the run result. It
// subscribes to the event bus so failures recorded inside stage worker
// pools are visible to the orchestrator; admission failures are added
// directly since they may be raised before the bus delivers.
type failureTally struct {
	runID string
	mu    sync.Mutex
	ids   map[string]struct{}
}

func newFailureTally(runID string) *failureTally {
	return &failureTally{runID: runID, ids: make(map[string]struct{})}
}

func (f *failureTally) add(id string) {
	if id == "" {
		return
	}
	f.mu.Lock()
	f.ids[id] = struct{}{}
	f.mu.Unlock()
}

func (f *failureTally) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

func (f *failureTally) ID() string             { return "pipeline-failures" }
func (f *failureTally) Handles() []events.Type { return []events.Type{events.TypeDocumentFailed} }
func (f *failureTally) Priority() int          { return 5 }

func (f *failureTally) Handle(_ context.Context, e *events.Event) error {
	if e.RunID != f.runID {
		return nil
	}
	f.add(e.DocumentID)
	return nil
}

package health

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/docpipe/docpipe/internal/events"
	"github.com/docpipe/docpipe/internal/types"
)

func publish(t *testing.T, a *Aggregator, e *events.Event) {
	t.Helper()
	if err := a.Handle(context.Background(), e); err != nil {
		t.Fatalf("Failed to handle event: %v", err)
	}
}

func TestAggregatorStageLifecycle(t *testing.T) {
	agg := NewAggregator(0)

	publish(t, agg, events.New(events.TypeRunStarted, "r-1"))
	publish(t, agg, events.New(events.TypeStageStarted, "r-1").WithStage(types.StageEmbed))
	publish(t, agg, events.New(events.TypeStageCompleted, "r-1").WithStage(types.StageEmbed).WithCounts(12, 0))
	publish(t, agg, events.New(events.TypeRunCompleted, "r-1").WithCounts(12, 0))

	snap := agg.Snapshot()
	if snap.RunID != "r-1" {
		t.Errorf("Expected run id r-1, got %s", snap.RunID)
	}
	if !snap.Healthy {
		t.Error("Expected healthy snapshot")
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("Expected 1 stage, got %d", len(snap.Stages))
	}
	st := snap.Stages[0]
	if st.Stage != types.StageEmbed || st.Status != StatusOK || st.Processed != 12 {
		t.Errorf("Unexpected stage health: %+v", st)
	}
}

func TestAggregatorDocumentFailuresDegrade(t *testing.T) {
	agg := NewAggregator(0)

	publish(t, agg, events.New(events.TypeStageStarted, "r-1").WithStage(types.StagePII))
	publish(t, agg, events.New(events.TypeDocumentFailed, "r-1").
		WithStage(types.StagePII).
		WithDocument("d-1", errors.New("tagger unavailable")))
	publish(t, agg, events.New(events.TypeStageCompleted, "r-1").WithStage(types.StagePII).WithCounts(9, 1))

	snap := agg.Snapshot()
	if snap.Healthy {
		t.Error("Expected unhealthy snapshot after document failure")
	}
	st := snap.Stages[0]
	if st.Status != StatusDegraded {
		t.Errorf("Expected degraded status, got %s", st.Status)
	}
	if st.Failed != 1 {
		t.Errorf("Expected 1 failure, got %d", st.Failed)
	}
	if len(snap.Errors) != 1 || snap.Errors[0].DocumentID != "d-1" {
		t.Errorf("Expected one error entry for d-1, got %+v", snap.Errors)
	}
}

func TestAggregatorStageFailure(t *testing.T) {
	agg := NewAggregator(0)

	e := events.New(events.TypeStageCompleted, "r-1").WithStage(types.StageLoad)
	e.Error = "export dir unreadable"
	publish(t, agg, e)

	snap := agg.Snapshot()
	if snap.Healthy {
		t.Error("Expected unhealthy snapshot after stage failure")
	}
	if snap.Stages[0].Status != StatusFailed {
		t.Errorf("Expected failed status, got %s", snap.Stages[0].Status)
	}
}

func TestAggregatorErrorLogBounded(t *testing.T) {
	agg := NewAggregator(5)

	for i := 0; i < 12; i++ {
		publish(t, agg, events.New(events.TypeDocumentFailed, "r-1").
			WithStage(types.StageIndex).
			WithDocument(fmt.Sprintf("d-%d", i), errors.New("upsert rejected")))
	}

	snap := agg.Snapshot()
	if len(snap.Errors) != 5 {
		t.Fatalf("Expected error log bounded to 5, got %d", len(snap.Errors))
	}
	if snap.Errors[0].DocumentID != "d-7" {
		t.Errorf("Expected oldest retained entry d-7, got %s", snap.Errors[0].DocumentID)
	}
	if snap.Errors[4].DocumentID != "d-11" {
		t.Errorf("Expected newest entry d-11, got %s", snap.Errors[4].DocumentID)
	}
}

func TestAggregatorCanonicalStageOrder(t *testing.T) {
	agg := NewAggregator(0)

	publish(t, agg, events.New(events.TypeStageStarted, "r-1").WithStage(types.StageIndex))
	publish(t, agg, events.New(events.TypeStageStarted, "r-1").WithStage(types.StageLoad))
	publish(t, agg, events.New(events.TypeStageStarted, "r-1").WithStage(types.StageEmbed))

	snap := agg.Snapshot()
	want := []string{types.StageLoad, types.StageEmbed, types.StageIndex}
	if len(snap.Stages) != len(want) {
		t.Fatalf("Expected %d stages, got %d", len(want), len(snap.Stages))
	}
	for i, name := range want {
		if snap.Stages[i].Stage != name {
			t.Errorf("Stage %d: expected %s, got %s", i, name, snap.Stages[i].Stage)
		}
	}
}

package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ShayCichocki/ensemble/internal/clarify"
	"github.com/ShayCichocki/ensemble/internal/metrics"
	"github.com/ShayCichocki/ensemble/internal/orchestrator"
	"github.com/ShayCichocki/ensemble/internal/planner"
	"github.com/ShayCichocki/ensemble/internal/registry"
	"github.com/ShayCichocki/ensemble/internal/scheduler"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

func TestLoadSession_Missing(t *testing.T) {
	db := setupTestDB(t)

	rec, err := db.LoadSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if rec != nil {
		t.Errorf("LoadSession = %+v, want nil", rec)
	}
}

func TestSaveSession_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	rec := &orchestrator.SessionRecord{
		SessionID: "sess-1",
		TurnIndex: 2,
		CostUSD:   0.125,
		Events: []models.GraphEvent{
			{ID: "e1", Seq: 1, Type: models.EventAskUser, Content: "which repo?", Timestamp: at},
			{ID: "e2", Seq: 2, Type: models.EventTaskDone, TaskID: "t1", AgentID: "writer",
				Metadata: map[string]any{"status": "completed"}, Timestamp: at},
		},
		History:   []clarify.Turn{{UserMessage: "do it", Summary: "which repo?"}},
		UpdatedAt: at,
	}
	if err := db.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := db.LoadSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if got.TurnIndex != 2 || got.CostUSD != 0.125 {
		t.Errorf("got turn=%d cost=%v", got.TurnIndex, got.CostUSD)
	}
	if len(got.Events) != 2 || got.Events[1].Seq != 2 || got.Events[1].Type != models.EventTaskDone {
		t.Errorf("events = %+v", got.Events)
	}
	if got.Events[1].Metadata["status"] != "completed" {
		t.Errorf("metadata = %v", got.Events[1].Metadata)
	}
	if len(got.History) != 1 || got.History[0].Summary != "which repo?" {
		t.Errorf("history = %+v", got.History)
	}
	if !got.UpdatedAt.Equal(at) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, at)
	}
}

func TestSaveSession_Upserts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for turn := 1; turn <= 3; turn++ {
		if err := db.SaveSession(ctx, &orchestrator.SessionRecord{SessionID: "s", TurnIndex: turn}); err != nil {
			t.Fatalf("SaveSession turn %d failed: %v", turn, err)
		}
	}

	got, err := db.LoadSession(ctx, "s")
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if got.TurnIndex != 3 {
		t.Errorf("TurnIndex = %d, want 3", got.TurnIndex)
	}
	if len(got.Events) != 0 {
		t.Errorf("events = %v", got.Events)
	}

	ids, err := db.ListSessionIDs(ctx, 10)
	if err != nil {
		t.Fatalf("ListSessionIDs failed: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("ListSessionIDs = %v, want one session", ids)
	}
}

func TestSaveSession_RequiresID(t *testing.T) {
	db := setupTestDB(t)
	err := db.SaveSession(context.Background(), &orchestrator.SessionRecord{})
	if !errors.Is(err, orchestrator.ErrMissingSessionID) {
		t.Errorf("SaveSession error = %v, want ErrMissingSessionID", err)
	}
}

func TestPurgeOldSessions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	old := &orchestrator.SessionRecord{SessionID: "old", UpdatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &orchestrator.SessionRecord{SessionID: "fresh", UpdatedAt: time.Now()}
	for _, rec := range []*orchestrator.SessionRecord{old, fresh} {
		if err := db.SaveSession(ctx, rec); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}

	n, err := db.PurgeOldSessions(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeOldSessions failed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d sessions, want 1", n)
	}
	if rec, _ := db.LoadSession(ctx, "old"); rec != nil {
		t.Error("old session should be gone")
	}
	if rec, _ := db.LoadSession(ctx, "fresh"); rec == nil {
		t.Error("fresh session should remain")
	}
}

func TestSessionStore_BacksOrchestrator(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// A second orchestrator on the same database sees the first one's turns.
	first := newStoreBackedOrchestrator(t, db)
	res, err := first.Dispatch(ctx, orchestrator.DispatchRequest{SessionID: "shared", Message: "research persistence layers"})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	second := newStoreBackedOrchestrator(t, db)
	st, err := second.State(ctx, "shared")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	ids, err := db.AgentIDs(ctx)
	if err != nil || len(ids) == 0 {
		t.Errorf("scheduler metrics not recorded: %v, %v", ids, err)
	}
	if st.TurnIndex != res.TurnIndex || len(st.Events) != len(res.Events) {
		t.Errorf("rehydrated turn=%d events=%d, want turn=%d events=%d",
			st.TurnIndex, len(st.Events), res.TurnIndex, len(res.Events))
	}
}

func newStoreBackedOrchestrator(t *testing.T, db *DB) *orchestrator.Orchestrator {
	t.Helper()
	reg := registry.NewWithDefaults()
	inv := scheduler.InvokerFunc(func(_ context.Context, _ string, task *models.Task, _ string) (scheduler.InvocationResult, error) {
		return scheduler.InvocationResult{Content: "done: " + task.Title, CostUSD: 0.01, Success: true}, nil
	})
	return orchestrator.New(orchestrator.RequiredConfig{
		Planner:   planner.New(reg, nil),
		Scheduler: scheduler.New(inv, scheduler.WithRecorder(metrics.NewTracker(db))),
	}, orchestrator.WithLimits(reg), orchestrator.WithSessionStore(db))
}

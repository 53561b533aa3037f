package tui

import (
	"errors"
	"testing"

	"github.com/ShayCichocki/ensemble/internal/orchestrator"
	"github.com/ShayCichocki/ensemble/internal/scheduler"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

func turnEvents() []models.GraphEvent {
	return []models.GraphEvent{
		{Seq: 1, Type: models.EventTasksCreated, Content: "split then join",
			Metadata: map[string]any{"task_ids": []string{"t1", "t2"}, "mode": "parallel"}},
		{Seq: 2, Type: models.EventTaskStart, TaskID: "t1", AgentID: "researcher", Content: "gather"},
		{Seq: 3, Type: models.EventTaskDone, TaskID: "t1", AgentID: "researcher", Content: "found it",
			Metadata: map[string]any{scheduler.MetaStatus: "completed", scheduler.MetaCostUSD: 0.01}},
		{Seq: 4, Type: models.EventTaskDone, TaskID: "t2", AgentID: "writer",
			Metadata: map[string]any{scheduler.MetaStatus: "failed", scheduler.MetaFailureKind: "dependency_skipped"}},
		{Seq: 5, Type: models.EventSummary, Content: "all done"},
	}
}

func TestTurnState_Apply(t *testing.T) {
	var s TurnState
	s.Begin()
	for _, e := range turnEvents() {
		s.Apply(e)
	}

	if s.Mode != "parallel" {
		t.Errorf("Mode = %q, want parallel", s.Mode)
	}
	if len(s.Tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(s.Tasks))
	}
	if s.Tasks[0].Title != "gather" || s.Tasks[0].Status != models.TaskStatusCompleted {
		t.Errorf("task 0 = %+v", s.Tasks[0])
	}
	if !s.Tasks[1].Skipped() {
		t.Errorf("task 1 should be skipped: %+v", s.Tasks[1])
	}
	if s.CostUSD != 0.01 {
		t.Errorf("CostUSD = %v, want 0.01", s.CostUSD)
	}
	if s.Summary != "all done" {
		t.Errorf("Summary = %q", s.Summary)
	}
	if done, total := s.Counts(); done != 2 || total != 2 {
		t.Errorf("Counts() = %d/%d, want 2/2", done, total)
	}
	if len(s.Activity) != 5 {
		t.Errorf("got %d activity entries, want 5", len(s.Activity))
	}
}

func TestTurnState_DecodedMetadata(t *testing.T) {
	var s TurnState
	s.Apply(models.GraphEvent{Type: models.EventTasksCreated,
		Metadata: map[string]any{"task_ids": []any{"a", "b", 3}}})
	if len(s.Tasks) != 2 {
		t.Errorf("got %d tasks, want 2", len(s.Tasks))
	}
}

func TestTurnState_Finish(t *testing.T) {
	var s TurnState
	s.Begin()
	s.Apply(models.GraphEvent{Type: models.EventTaskStart, TaskID: "t1", Content: "partial"})

	s.Finish(&orchestrator.TurnResult{
		TurnIndex:      2,
		CostUSD:        0.05,
		SessionCostUSD: 0.07,
		Tasks: []*models.Task{
			{ID: "t1", Title: "first", AssignedTo: "a", Status: models.TaskStatusFailed, Error: "boom", FailureKind: models.FailureExecution},
		},
	}, nil)

	if s.Running {
		t.Error("Running should be false after Finish")
	}
	if s.TurnIndex != 2 || s.SessionCostUSD != 0.07 {
		t.Errorf("state = %+v", s)
	}
	if len(s.Tasks) != 1 || s.Tasks[0].Detail != "boom" {
		t.Errorf("tasks = %+v", s.Tasks)
	}

	s.Finish(nil, errors.New("turn in progress"))
	if s.Err != "turn in progress" {
		t.Errorf("Err = %q", s.Err)
	}
}

func TestTurnState_ActivityBounded(t *testing.T) {
	var s TurnState
	for i := 0; i < maxActivity+25; i++ {
		s.Apply(models.GraphEvent{Type: models.EventSystem, Content: "note"})
	}
	if len(s.Activity) != maxActivity {
		t.Errorf("got %d entries, want %d", len(s.Activity), maxActivity)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"a much longer line", 10, "a much ..."},
		{"line\nbreak", 20, "line break"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

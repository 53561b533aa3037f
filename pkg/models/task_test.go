package models

import (
	"testing"
	"time"
)

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskStatusPending, true},
		{"in_progress is valid", TaskStatusInProgress, true},
		{"completed is valid", TaskStatusCompleted, true},
		{"failed is valid", TaskStatusFailed, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"blocked is not a task status", TaskStatus("blocked"), false},
		{"done is not a task status", TaskStatus("done"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusPending, false},
		{TaskStatusInProgress, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTaskType_Valid(t *testing.T) {
	for _, tt := range AllTaskTypes {
		if !tt.Valid() {
			t.Errorf("TaskType(%q) should be valid", tt)
		}
	}
	for _, bad := range []TaskType{"", "deploy", "Research"} {
		if bad.Valid() {
			t.Errorf("TaskType(%q) should be invalid", bad)
		}
	}
}

func TestPriority_Rank(t *testing.T) {
	if PriorityHigh.Rank() >= PriorityMedium.Rank() {
		t.Error("high should rank before medium")
	}
	if PriorityMedium.Rank() >= PriorityLow.Rank() {
		t.Error("medium should rank before low")
	}
	if Priority("").Rank() != PriorityMedium.Rank() {
		t.Error("empty priority should rank as medium")
	}
}

func TestParseExecutionMode(t *testing.T) {
	tests := []struct {
		in     string
		want   ExecutionMode
		wantOK bool
	}{
		{"", ModeDynamic, true},
		{"sequential", ModeSequential, true},
		{"parallel", ModeParallel, true},
		{"dynamic", ModeDynamic, true},
		{"random", ExecutionMode("random"), false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseExecutionMode(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseExecutionMode(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestTask_Clone(t *testing.T) {
	now := time.Now()
	orig := &Task{
		ID:        "task-1",
		DependsOn: []string{"task-0"},
		StartedAt: &now,
	}

	c := orig.Clone()
	c.DependsOn[0] = "changed"
	*c.StartedAt = now.Add(time.Hour)

	if orig.DependsOn[0] != "task-0" {
		t.Errorf("clone shares DependsOn with original")
	}
	if !orig.StartedAt.Equal(now) {
		t.Errorf("clone shares StartedAt with original")
	}

	var nilTask *Task
	if nilTask.Clone() != nil {
		t.Error("Clone of nil task should be nil")
	}
}

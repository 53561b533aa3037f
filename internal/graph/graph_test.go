package graph

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

func pending(id string, deps ...string) *models.Task {
	return &models.Task{ID: id, Title: id, Status: models.TaskStatusPending, DependsOn: deps}
}

func TestNew(t *testing.T) {
	g := New()
	if g == nil {
		t.Fatal("expected non-nil graph")
	}
	if len(g.Roots()) != 0 {
		t.Errorf("expected empty graph, got roots %v", g.Roots())
	}
}

func TestBuildWithDependencies(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		pending("task-1"),
		pending("task-2", "task-1"),
		pending("task-3", "task-1", "task-2"),
	}

	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if deps := g.GetDependencies("task-3"); len(deps) != 2 {
		t.Errorf("expected 2 dependencies for task-3, got %d", len(deps))
	}
	if got := g.TransitiveDependents("task-1"); !reflect.DeepEqual(got, []string{"task-2", "task-3"}) {
		t.Errorf("TransitiveDependents(task-1) = %v", got)
	}
	if got := g.Roots(); !reflect.DeepEqual(got, []string{"task-1"}) {
		t.Errorf("Roots() = %v", got)
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*models.Task
		want  error
	}{
		{"unknown dependency", []*models.Task{pending("a", "ghost")}, ErrDanglingDependency},
		{"duplicate id", []*models.Task{pending("a"), pending("a")}, ErrDuplicateTask},
		{"empty id", []*models.Task{pending("")}, ErrEmptyTaskID},
		{"self cycle", []*models.Task{pending("a", "a")}, ErrCycleDetected},
		{"two node cycle", []*models.Task{pending("a", "b"), pending("b", "a")}, ErrCycleDetected},
		{"three node cycle", []*models.Task{pending("a", "c"), pending("b", "a"), pending("c", "b")}, ErrCycleDetected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New().Build(tt.tasks)
			if !errors.Is(err, tt.want) {
				t.Errorf("Build() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReady(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		pending("a"),
		pending("b"),
		pending("c", "a", "b"),
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("Build: %v", err)
	}

	ids := func(ts []*models.Task) []string {
		var out []string
		for _, t := range ts {
			out = append(out, t.ID)
		}
		return out
	}

	if got := ids(g.Ready()); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("initial Ready() = %v", got)
	}

	tasks[0].Status = models.TaskStatusCompleted
	if got := ids(g.Ready()); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("Ready() after a = %v", got)
	}

	tasks[1].Status = models.TaskStatusInProgress
	if got := g.Ready(); len(got) != 0 {
		t.Fatalf("Ready() with b in progress = %v", ids(got))
	}

	tasks[1].Status = models.TaskStatusCompleted
	if got := ids(g.Ready()); !reflect.DeepEqual(got, []string{"c"}) {
		t.Fatalf("Ready() after a,b = %v", got)
	}
}

func TestReadyFailedDependencyBlocks(t *testing.T) {
	g := New()
	tasks := []*models.Task{pending("a"), pending("b", "a")}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("Build: %v", err)
	}

	tasks[0].Status = models.TaskStatusFailed
	if got := g.Ready(); len(got) != 0 {
		t.Errorf("expected no ready tasks after dependency failure, got %d", len(got))
	}
}

func TestTransitiveDependents(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		pending("a"),
		pending("b", "a"),
		pending("c", "b"),
		pending("d"),
		pending("e", "c", "d"),
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got := g.TransitiveDependents("a"); !reflect.DeepEqual(got, []string{"b", "c", "e"}) {
		t.Errorf("TransitiveDependents(a) = %v", got)
	}
	if got := g.TransitiveDependents("e"); len(got) != 0 {
		t.Errorf("TransitiveDependents(e) = %v, want none", got)
	}
}

func TestGetDependenciesReturnsCopy(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Task{pending("z"), pending("y", "z"), pending("x", "z", "y")}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	deps := g.GetDependencies("x")
	if !reflect.DeepEqual(deps, []string{"z", "y"}) {
		t.Fatalf("GetDependencies(x) = %v", deps)
	}
	deps[0] = "mutated"
	if got := g.GetDependencies("x"); got[0] != "z" {
		t.Errorf("GetDependencies leaked internal slice: %v", got)
	}
	if got := g.GetDependencies("missing"); len(got) != 0 {
		t.Errorf("GetDependencies(missing) = %v", got)
	}
}

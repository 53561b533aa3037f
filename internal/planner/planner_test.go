package planner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ShayCichocki/ensemble/internal/graph"
	"github.com/ShayCichocki/ensemble/internal/registry"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

type fakeScores map[string]float64

func (f fakeScores) Score(_ context.Context, agentID string, _ int) (float64, bool, error) {
	s, ok := f[agentID]
	if !ok {
		return neutralScore, false, nil
	}
	return s, true, nil
}

type failingScores struct{}

func (failingScores) Score(context.Context, string, int) (float64, bool, error) {
	return 0, false, errors.New("store offline")
}

func newRegistry(t *testing.T, caps ...models.AgentCapability) *registry.Registry {
	t.Helper()
	r := registry.New()
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			t.Fatalf("Register(%s) error = %v", c.ID, err)
		}
	}
	return r
}

func agent(id string, types ...models.TaskType) models.AgentCapability {
	return models.AgentCapability{ID: id, Name: id, TaskTypes: types, MaxConcurrentTasks: 1}
}

func staticDrafter(tasks ...DraftTask) Drafter {
	return DrafterFunc(func(context.Context, string, PlanContext) (*Draft, error) {
		return &Draft{Tasks: tasks, Rationale: "static"}, nil
	})
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("t%d", n)
	}
}

func TestPlan_ResolvesDependenciesByKeyAndTitle(t *testing.T) {
	reg := newRegistry(t, agent("r", models.TaskTypeResearch, models.TaskTypeSummarize))
	p := New(reg, staticDrafter(
		DraftTask{Key: "a", Type: models.TaskTypeResearch, Title: "Find sources"},
		DraftTask{Type: models.TaskTypeResearch, Title: "Find more"},
		DraftTask{Key: "c", Type: models.TaskTypeSummarize, Title: "Sum", DependsOn: []string{"a", "Find more"}},
	), WithIDGenerator(sequentialIDs()))

	plan, err := p.Plan(context.Background(), "anything", PlanContext{})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.Rationale != "static" {
		t.Errorf("Rationale = %q", plan.Rationale)
	}
	if len(plan.Tasks) != 3 {
		t.Fatalf("got %d tasks, want 3", len(plan.Tasks))
	}

	c := plan.Tasks[2]
	if len(c.DependsOn) != 2 || c.DependsOn[0] != "t1" || c.DependsOn[1] != "t2" {
		t.Errorf("DependsOn = %v, want [t1 t2]", c.DependsOn)
	}
	for _, task := range plan.Tasks {
		if task.Status != models.TaskStatusPending {
			t.Errorf("task %s status = %s, want pending", task.ID, task.Status)
		}
		if task.Priority != models.PriorityMedium {
			t.Errorf("task %s priority = %s, want medium default", task.ID, task.Priority)
		}
		if task.AssignedTo != "r" {
			t.Errorf("task %s assigned to %q, want r", task.ID, task.AssignedTo)
		}
	}
}

func TestPlan_Errors(t *testing.T) {
	reg := newRegistry(t,
		agent("researcher", models.TaskTypeResearch),
		agent("writer", models.TaskTypeSummarize),
	)

	tests := []struct {
		name    string
		tasks   []DraftTask
		wantErr error
	}{
		{
			name:    "empty",
			tasks:   nil,
			wantErr: ErrEmptyPlan,
		},
		{
			name:    "unknown agent",
			tasks:   []DraftTask{{Key: "a", Type: models.TaskTypeResearch, AssignedTo: "ghost"}},
			wantErr: ErrUnknownAgent,
		},
		{
			name:    "agent cannot handle type",
			tasks:   []DraftTask{{Key: "a", Type: models.TaskTypeResearch, AssignedTo: "writer"}},
			wantErr: ErrUnsupportedTaskType,
		},
		{
			name:    "no capable agent",
			tasks:   []DraftTask{{Key: "a", Type: models.TaskTypeDevelop}},
			wantErr: ErrUnsupportedTaskType,
		},
		{
			name:    "unknown type",
			tasks:   []DraftTask{{Key: "a", Type: "sing"}},
			wantErr: ErrUnsupportedTaskType,
		},
		{
			name: "cycle",
			tasks: []DraftTask{
				{Key: "a", Type: models.TaskTypeResearch, DependsOn: []string{"b"}},
				{Key: "b", Type: models.TaskTypeResearch, DependsOn: []string{"a"}},
				{Key: "c", Type: models.TaskTypeResearch},
			},
			wantErr: ErrCyclicPlan,
		},
		{
			name: "dangling",
			tasks: []DraftTask{
				{Key: "a", Type: models.TaskTypeResearch, DependsOn: []string{"missing"}},
			},
			wantErr: graph.ErrDanglingDependency,
		},
		{
			name: "duplicate key",
			tasks: []DraftTask{
				{Key: "a", Type: models.TaskTypeResearch},
				{Key: "a", Type: models.TaskTypeResearch},
			},
			wantErr: graph.ErrDuplicateTask,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(reg, staticDrafter(tt.tasks...))
			_, err := p.Plan(context.Background(), "intent", PlanContext{})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Plan() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPlan_CycleAlsoMatchesGraphError(t *testing.T) {
	reg := newRegistry(t, agent("r", models.TaskTypeResearch))
	p := New(reg, staticDrafter(
		DraftTask{Key: "a", Type: models.TaskTypeResearch, DependsOn: []string{"a"}},
	))
	_, err := p.Plan(context.Background(), "intent", PlanContext{})
	if !errors.Is(err, ErrCyclicPlan) || !errors.Is(err, graph.ErrCycleDetected) {
		t.Errorf("Plan() error = %v, want both ErrCyclicPlan and graph.ErrCycleDetected", err)
	}
}

func TestPlan_DrafterError(t *testing.T) {
	reg := newRegistry(t, agent("r", models.TaskTypeResearch))
	boom := errors.New("model unavailable")
	p := New(reg, DrafterFunc(func(context.Context, string, PlanContext) (*Draft, error) {
		return nil, boom
	}))
	if _, err := p.Plan(context.Background(), "intent", PlanContext{}); !errors.Is(err, boom) {
		t.Errorf("Plan() error = %v, want %v", err, boom)
	}
}

func TestPlan_PassesCapabilitiesToDrafter(t *testing.T) {
	reg := newRegistry(t, agent("r", models.TaskTypeResearch), agent("w", models.TaskTypeSummarize))
	var seen []models.AgentCapability
	p := New(reg, DrafterFunc(func(_ context.Context, _ string, pc PlanContext) (*Draft, error) {
		seen = pc.Capabilities
		return &Draft{Tasks: []DraftTask{{Key: "a", Type: models.TaskTypeResearch}}}, nil
	}))
	if _, err := p.Plan(context.Background(), "intent", PlanContext{}); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 {
		t.Errorf("drafter saw %d capabilities, want 2", len(seen))
	}
}

func TestAssignment(t *testing.T) {
	caps := []models.AgentCapability{
		agent("first", models.TaskTypeAnalyze),
		agent("second", models.TaskTypeAnalyze),
		agent("third", models.TaskTypeAnalyze),
	}

	tests := []struct {
		name   string
		scores ScoreSource
		want   string
	}{
		{"no score source keeps registry order", nil, "first"},
		{"highest score wins", fakeScores{"first": 0.2, "second": 0.9, "third": 0.6}, "second"},
		{"new agent is neutral, not zero", fakeScores{"first": 0.3, "second": 0.4}, "third"},
		{"ties keep registry order", fakeScores{"first": 0.5, "second": 0.5, "third": 0.5}, "first"},
		{"score errors count as neutral", failingScores{}, "first"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newRegistry(t, caps...)
			var opts []Option
			if tt.scores != nil {
				opts = append(opts, WithScoreSource(tt.scores))
			}
			p := New(reg, staticDrafter(DraftTask{Key: "a", Type: models.TaskTypeAnalyze}), opts...)

			plan, err := p.Plan(context.Background(), "intent", PlanContext{})
			if err != nil {
				t.Fatalf("Plan() error = %v", err)
			}
			if got := plan.Tasks[0].AssignedTo; got != tt.want {
				t.Errorf("AssignedTo = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAssignment_ExplicitAgentIsKept(t *testing.T) {
	reg := newRegistry(t, agent("first", models.TaskTypeAnalyze), agent("second", models.TaskTypeAnalyze))
	p := New(reg,
		staticDrafter(DraftTask{Key: "a", Type: models.TaskTypeAnalyze, AssignedTo: "second"}),
		WithScoreSource(fakeScores{"first": 1.0}),
	)
	plan, err := p.Plan(context.Background(), "intent", PlanContext{})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Tasks[0].AssignedTo != "second" {
		t.Errorf("AssignedTo = %q, want second", plan.Tasks[0].AssignedTo)
	}
}

func TestValidate_RejectsCyclesAndEmpty(t *testing.T) {
	reg := newRegistry(t, agent("r", models.TaskTypeResearch))
	p := New(reg, nil)
	tasks := []*models.Task{
		{ID: "a", Type: models.TaskTypeResearch, AssignedTo: "r", DependsOn: []string{"b"}},
		{ID: "b", Type: models.TaskTypeResearch, AssignedTo: "r", DependsOn: []string{"a"}},
	}
	if err := p.Validate(tasks); !errors.Is(err, ErrCyclicPlan) {
		t.Errorf("Validate() error = %v, want ErrCyclicPlan", err)
	}
	if err := p.Validate(nil); !errors.Is(err, ErrEmptyPlan) {
		t.Errorf("Validate(nil) error = %v, want ErrEmptyPlan", err)
	}
}

func TestPlan_KeywordDrafterAgainstDefaults(t *testing.T) {
	p := New(registry.NewWithDefaults(), nil)
	plan, err := p.Plan(context.Background(), "Research Go web frameworks and write a summary report", PlanContext{})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(plan.Tasks) < 2 {
		t.Fatalf("got %d tasks, want at least 2", len(plan.Tasks))
	}
	if len(plan.Tasks[0].DependsOn) != 0 {
		t.Errorf("first task should be a root, depends on %v", plan.Tasks[0].DependsOn)
	}
}

package scheduler

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ShayCichocki/ensemble/internal/graph"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// eventLog collects emitted events. Emission happens on the coordinator
// goroutine only, so no locking is needed while Run is active.
type eventLog struct {
	events []models.GraphEvent
}

func (l *eventLog) emit(e models.GraphEvent) { l.events = append(l.events, e) }

func (l *eventLog) index(typ models.EventType, taskID string) int {
	for i, e := range l.events {
		if e.Type == typ && e.TaskID == taskID {
			return i
		}
	}
	return -1
}

func (l *eventLog) count(typ models.EventType) int {
	n := 0
	for _, e := range l.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type memRecorder struct {
	mu      sync.Mutex
	metrics []models.AgentMetric
}

func (r *memRecorder) Record(_ context.Context, m models.AgentMetric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, m)
	return nil
}

func task(id, agent string, deps ...string) *models.Task {
	return &models.Task{
		ID:         id,
		Type:       models.TaskTypeResearch,
		Title:      "task " + id,
		AssignedTo: agent,
		Status:     models.TaskStatusPending,
		Priority:   models.PriorityMedium,
		DependsOn:  deps,
	}
}

func succeed(cost float64) Invoker {
	return InvokerFunc(func(_ context.Context, agentID string, t *models.Task, _ string) (InvocationResult, error) {
		return InvocationResult{Content: "done " + t.ID, TokenCount: 10, CostUSD: cost, Success: true}, nil
	})
}

func byID(tasks []*models.Task) map[string]*models.Task {
	m := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		m[t.ID] = t
	}
	return m
}

func TestRun_ParallelBranchesThenJoin(t *testing.T) {
	for _, mode := range []models.ExecutionMode{models.ModeParallel, models.ModeDynamic} {
		t.Run(string(mode), func(t *testing.T) {
			var started sync.WaitGroup
			started.Add(2)
			bothStarted := make(chan struct{})
			go func() { started.Wait(); close(bothStarted) }()

			inv := InvokerFunc(func(ctx context.Context, _ string, tk *models.Task, _ string) (InvocationResult, error) {
				if tk.ID == "A" || tk.ID == "B" {
					started.Done()
					select {
					case <-bothStarted:
					case <-time.After(5 * time.Second):
						return InvocationResult{}, errors.New("branches did not run concurrently")
					}
				}
				return InvocationResult{Content: tk.ID, CostUSD: 0.01, Success: true}, nil
			})

			tasks := []*models.Task{task("A", "x"), task("B", "y"), task("C", "z", "A", "B")}
			log := &eventLog{}
			out, err := New(inv).Run(context.Background(), tasks, Options{Mode: mode, Emit: log.emit})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			startA := log.index(models.EventTaskStart, "A")
			startB := log.index(models.EventTaskStart, "B")
			doneA := log.index(models.EventTaskDone, "A")
			doneB := log.index(models.EventTaskDone, "B")
			startC := log.index(models.EventTaskStart, "C")

			if startA < 0 || startB < 0 {
				t.Fatal("A and B must both start")
			}
			if startA > doneA || startB > doneA || startA > doneB || startB > doneB {
				t.Errorf("A and B should both start before either finishes: %v", log.events)
			}
			if startC < doneA || startC < doneB {
				t.Errorf("C started before its dependencies finished")
			}
			if out.Completed != 3 {
				t.Errorf("Completed = %d, want 3", out.Completed)
			}
			for _, tk := range out.Tasks {
				if tk.Status != models.TaskStatusCompleted {
					t.Errorf("task %s status = %s", tk.ID, tk.Status)
				}
			}
		})
	}
}

func TestRun_FailureSkipsDependents(t *testing.T) {
	inv := InvokerFunc(func(_ context.Context, _ string, tk *models.Task, _ string) (InvocationResult, error) {
		if tk.ID == "A" {
			return InvocationResult{Success: false, ErrorType: "bad_output", CostUSD: 0.02}, nil
		}
		return InvocationResult{Content: "ok", CostUSD: 0.01, Success: true}, nil
	})

	tasks := []*models.Task{task("A", "x"), task("B", "y"), task("C", "z", "A", "B")}
	log := &eventLog{}
	rec := &memRecorder{}
	out, err := New(inv, WithRecorder(rec)).Run(context.Background(), tasks, Options{Emit: log.emit})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := byID(out.Tasks)
	if got["A"].Status != models.TaskStatusFailed || got["A"].FailureKind != models.FailureExecution {
		t.Errorf("A = %s/%s, want failed/execution", got["A"].Status, got["A"].FailureKind)
	}
	if got["B"].Status != models.TaskStatusCompleted {
		t.Errorf("B status = %s, want completed", got["B"].Status)
	}
	c := got["C"]
	if c.Status != models.TaskStatusFailed || c.FailureKind != models.FailureDependencySkipped {
		t.Errorf("C = %s/%s, want failed/dependency_skipped", c.Status, c.FailureKind)
	}
	if c.Error != "dependency A failed" {
		t.Errorf("C error = %q", c.Error)
	}
	if c.StartedAt != nil {
		t.Error("skipped task must never start")
	}
	if log.index(models.EventTaskStart, "C") != -1 {
		t.Error("skipped task must not emit task_start")
	}
	doneC := log.index(models.EventTaskDone, "C")
	if doneC < 0 {
		t.Fatal("skipped task must emit task_done")
	}
	if kind := log.events[doneC].Metadata[MetaFailureKind]; kind != string(models.FailureDependencySkipped) {
		t.Errorf("task_done failure_kind = %v", kind)
	}

	if out.Failed != 1 || out.Skipped != 1 || out.Completed != 1 {
		t.Errorf("outcome counts = %d completed, %d failed, %d skipped", out.Completed, out.Failed, out.Skipped)
	}
	if len(out.Results) != 1 || out.Results[0].TaskID != "B" {
		t.Errorf("Results = %+v, want only B", out.Results)
	}
	if len(rec.metrics) != 2 {
		t.Errorf("recorded %d metrics, want 2 (skips are not invocations)", len(rec.metrics))
	}
	for _, m := range rec.metrics {
		if m.AgentID == "x" && (m.Success || m.ErrorType != "bad_output") {
			t.Errorf("metric for failed call = %+v", m)
		}
	}
}

func TestRun_TransitiveSkip(t *testing.T) {
	inv := InvokerFunc(func(_ context.Context, _ string, tk *models.Task, _ string) (InvocationResult, error) {
		return InvocationResult{Success: tk.ID != "A"}, nil
	})
	tasks := []*models.Task{task("C", "z", "B"), task("B", "y", "A"), task("A", "x")}
	out, err := New(inv).Run(context.Background(), tasks, Options{})
	if err != nil {
		t.Fatal(err)
	}
	got := byID(out.Tasks)
	if got["B"].Error != "dependency A failed" {
		t.Errorf("B error = %q", got["B"].Error)
	}
	if got["C"].Error != "dependency B failed" {
		t.Errorf("C error = %q", got["C"].Error)
	}
	if out.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", out.Skipped)
	}
}

func TestRun_SequentialCancel(t *testing.T) {
	var cancelled atomic.Bool
	inv := InvokerFunc(func(_ context.Context, _ string, tk *models.Task, _ string) (InvocationResult, error) {
		if tk.ID == "A" {
			cancelled.Store(true)
		}
		return InvocationResult{Content: tk.ID, CostUSD: 0.5, Success: true}, nil
	})

	tasks := []*models.Task{task("A", "x"), task("B", "x"), task("C", "y")}
	log := &eventLog{}
	out, err := New(inv).Run(context.Background(), tasks, Options{
		Mode:      models.ModeSequential,
		Emit:      log.emit,
		Cancelled: cancelled.Load,
	})
	if err != nil {
		t.Fatal(err)
	}

	if !out.Cancelled {
		t.Error("outcome should report cancellation")
	}
	got := byID(out.Tasks)
	if got["A"].Status != models.TaskStatusCompleted {
		t.Errorf("in-flight task should finish, A = %s", got["A"].Status)
	}
	for _, id := range []string{"B", "C"} {
		if got[id].Status != models.TaskStatusPending {
			t.Errorf("%s status = %s, want pending", id, got[id].Status)
		}
	}
	if n := log.count(models.EventTaskStart); n != 1 {
		t.Errorf("task_start count = %d, want 1", n)
	}
	if out.CostUSD != 0.5 {
		t.Errorf("CostUSD = %v, want 0.5", out.CostUSD)
	}
}

func TestRun_ContextCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []*models.Task{task("A", "x")}
	log := &eventLog{}
	out, err := New(succeed(1)).Run(ctx, tasks, Options{Emit: log.emit})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Cancelled || len(log.events) != 0 {
		t.Errorf("Cancelled = %v, events = %d", out.Cancelled, len(log.events))
	}
}

func TestRun_SequentialPriorityOrder(t *testing.T) {
	low := task("low", "x")
	low.Priority = models.PriorityLow
	high := task("high", "x")
	high.Priority = models.PriorityHigh
	med1 := task("med1", "y")
	med2 := task("med2", "z")

	log := &eventLog{}
	_, err := New(succeed(0)).Run(context.Background(), []*models.Task{low, med1, high, med2}, Options{
		Mode: models.ModeSequential,
		Emit: log.emit,
	})
	if err != nil {
		t.Fatal(err)
	}

	var order []string
	for _, e := range log.events {
		if e.Type == models.EventTaskStart {
			order = append(order, e.TaskID)
		}
	}
	want := []string{"high", "med1", "med2", "low"}
	if len(order) != len(want) {
		t.Fatalf("start order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("start order = %v, want %v", order, want)
			break
		}
	}

	// At most one task in flight: every start follows the previous done.
	for i, e := range log.events {
		if e.Type != models.EventTaskStart || i == 0 {
			continue
		}
		if prev := log.events[i-1]; prev.Type != models.EventTaskDone {
			t.Errorf("event %d: task_start follows %s, want task_done", i, prev.Type)
		}
	}
}

func TestRun_DependencyOrder(t *testing.T) {
	// Diamond with a tail: A -> {B, C} -> D -> E, plus an independent F.
	tasks := []*models.Task{
		task("E", "e", "D"),
		task("D", "d", "B", "C"),
		task("B", "b", "A"),
		task("C", "c", "A"),
		task("A", "a"),
		task("F", "f"),
	}
	deps := map[string][]string{}
	for _, tk := range tasks {
		deps[tk.ID] = append([]string(nil), tk.DependsOn...)
	}

	for _, mode := range []models.ExecutionMode{models.ModeSequential, models.ModeParallel, models.ModeDynamic} {
		t.Run(string(mode), func(t *testing.T) {
			fresh := make([]*models.Task, len(tasks))
			for i, tk := range tasks {
				fresh[i] = task(tk.ID, tk.AssignedTo, deps[tk.ID]...)
			}
			log := &eventLog{}
			if _, err := New(succeed(0.1)).Run(context.Background(), fresh, Options{Mode: mode, Emit: log.emit}); err != nil {
				t.Fatal(err)
			}
			for id, ds := range deps {
				start := log.index(models.EventTaskStart, id)
				if start < 0 {
					t.Fatalf("%s never started", id)
				}
				for _, d := range ds {
					if done := log.index(models.EventTaskDone, d); done < 0 || done > start {
						t.Errorf("%s started at %d before dependency %s finished at %d", id, start, d, done)
					}
				}
			}
		})
	}
}

func TestRun_CostAccounting(t *testing.T) {
	inv := InvokerFunc(func(_ context.Context, _ string, tk *models.Task, _ string) (InvocationResult, error) {
		switch tk.ID {
		case "A":
			return InvocationResult{Content: "a", CostUSD: 0.25, TokenCount: 5, Success: true}, nil
		case "B":
			// Failed with partial cost.
			return InvocationResult{CostUSD: 0.125, TokenCount: 3, Success: false}, nil
		default:
			return InvocationResult{Content: "c", CostUSD: 0.5, TokenCount: 7, Success: true}, nil
		}
	})
	tasks := []*models.Task{task("A", "x"), task("B", "y"), task("C", "z", "A"), task("D", "w", "B")}
	log := &eventLog{}
	out, err := New(inv).Run(context.Background(), tasks, Options{Emit: log.emit})
	if err != nil {
		t.Fatal(err)
	}

	var taskSum, eventSum float64
	for _, tk := range out.Tasks {
		taskSum += tk.CostUSD
	}
	for _, e := range log.events {
		if e.Type == models.EventTaskDone {
			eventSum += e.Metadata[MetaCostUSD].(float64)
		}
	}
	if math.Abs(out.CostUSD-0.875) > 1e-9 {
		t.Errorf("CostUSD = %v, want 0.875", out.CostUSD)
	}
	if math.Abs(taskSum-out.CostUSD) > 1e-9 || math.Abs(eventSum-out.CostUSD) > 1e-9 {
		t.Errorf("cost mismatch: outcome %v, tasks %v, events %v", out.CostUSD, taskSum, eventSum)
	}
	if out.TokenCount != 15 {
		t.Errorf("TokenCount = %d, want 15", out.TokenCount)
	}
}

func TestRun_ReplayDeterminism(t *testing.T) {
	build := func() []*models.Task {
		return []*models.Task{task("A", "x"), task("B", "y", "A"), task("C", "y", "A"), task("D", "z", "B", "C")}
	}
	inv := InvokerFunc(func(_ context.Context, _ string, tk *models.Task, _ string) (InvocationResult, error) {
		return InvocationResult{Content: "out-" + tk.ID, CostUSD: 0.01, Success: tk.ID != "C"}, nil
	})

	type step struct {
		typ     models.EventType
		taskID  string
		content string
	}
	runOnce := func() []step {
		log := &eventLog{}
		if _, err := New(inv).Run(context.Background(), build(), Options{Mode: models.ModeSequential, Emit: log.emit}); err != nil {
			t.Fatal(err)
		}
		steps := make([]step, len(log.events))
		for i, e := range log.events {
			steps[i] = step{e.Type, e.TaskID, e.Content}
		}
		return steps
	}

	first, second := runOnce(), runOnce()
	if len(first) != len(second) {
		t.Fatalf("event counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("event %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestRun_PerAgentLimit(t *testing.T) {
	var current, peak atomic.Int32
	inv := InvokerFunc(func(_ context.Context, _ string, _ *models.Task, _ string) (InvocationResult, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return InvocationResult{Success: true}, nil
	})

	tasks := []*models.Task{task("A", "x"), task("B", "x"), task("C", "x"), task("D", "x"), task("E", "x")}
	out, err := New(inv).Run(context.Background(), tasks, Options{
		Mode:   models.ModeDynamic,
		Limits: map[string]int{"x": 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Completed != 5 {
		t.Errorf("Completed = %d, want 5 (waiting must not fail tasks)", out.Completed)
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestRun_TaskTimeout(t *testing.T) {
	inv := InvokerFunc(func(ctx context.Context, _ string, _ *models.Task, _ string) (InvocationResult, error) {
		<-ctx.Done()
		return InvocationResult{}, ctx.Err()
	})
	rec := &memRecorder{}
	out, err := New(inv, WithRecorder(rec)).Run(context.Background(), []*models.Task{task("A", "x")}, Options{
		TaskTimeout: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	a := out.Tasks[0]
	if a.Status != models.TaskStatusFailed || a.FailureKind != models.FailureExecution {
		t.Errorf("A = %s/%s", a.Status, a.FailureKind)
	}
	if len(rec.metrics) != 1 || rec.metrics[0].ErrorType != ErrorTypeTimeout {
		t.Errorf("metrics = %+v, want one timeout", rec.metrics)
	}
}

func TestRun_PassesDependencyContext(t *testing.T) {
	var seen string
	inv := InvokerFunc(func(_ context.Context, _ string, tk *models.Task, taskContext string) (InvocationResult, error) {
		if tk.ID == "B" {
			seen = taskContext
		}
		return InvocationResult{Content: "result of " + tk.ID, Success: true}, nil
	})
	tasks := []*models.Task{task("A", "x"), task("B", "y", "A")}
	if _, err := New(inv).Run(context.Background(), tasks, Options{}); err != nil {
		t.Fatal(err)
	}
	if seen == "" || !strings.Contains(seen, "result of A") {
		t.Errorf("dependency context = %q", seen)
	}
}

func TestRun_StructuralErrors(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*models.Task
		want  error
	}{
		{"dangling", []*models.Task{task("A", "x", "ghost")}, graph.ErrDanglingDependency},
		{"duplicate", []*models.Task{task("A", "x"), task("A", "y")}, graph.ErrDuplicateTask},
		{"cycle", []*models.Task{task("A", "x", "B"), task("B", "y", "A")}, graph.ErrCycleDetected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			inv := InvokerFunc(func(context.Context, string, *models.Task, string) (InvocationResult, error) {
				called = true
				return InvocationResult{Success: true}, nil
			})
			log := &eventLog{}
			_, err := New(inv).Run(context.Background(), tt.tasks, Options{Emit: log.emit})
			if !errors.Is(err, tt.want) {
				t.Errorf("Run() error = %v, want %v", err, tt.want)
			}
			if called || len(log.events) != 0 {
				t.Error("nothing may be dispatched for a structurally invalid graph")
			}
		})
	}
}

func TestRun_UnknownMode(t *testing.T) {
	if _, err := New(succeed(0)).Run(context.Background(), []*models.Task{task("A", "x")}, Options{Mode: "chaotic"}); err == nil {
		t.Error("Run() should reject an unknown mode")
	}
}

func TestRun_NegativeCostCountsZero(t *testing.T) {
	inv := InvokerFunc(func(_ context.Context, _ string, tk *models.Task, _ string) (InvocationResult, error) {
		cost := 0.25
		if tk.ID == "B" {
			cost = -0.5
		}
		return InvocationResult{Content: tk.ID, CostUSD: cost, Success: true}, nil
	})
	tasks := []*models.Task{task("A", "x"), task("B", "y", "A")}
	log := &eventLog{}
	rec := &memRecorder{}
	out, err := New(inv, WithRecorder(rec)).Run(context.Background(), tasks, Options{
		Mode: models.ModeSequential,
		Emit: log.emit,
	})
	if err != nil {
		t.Fatal(err)
	}

	running, last := 0.0, 0.0
	for _, e := range log.events {
		if e.Type != models.EventTaskDone {
			continue
		}
		running += e.Metadata[MetaCostUSD].(float64)
		if running < last {
			t.Errorf("running cost decreased to %v after %s", running, e.TaskID)
		}
		last = running
	}
	if out.CostUSD != 0.25 {
		t.Errorf("CostUSD = %v, want 0.25", out.CostUSD)
	}
	if b := byID(out.Tasks)["B"]; b.CostUSD != 0 || b.Status != models.TaskStatusCompleted {
		t.Errorf("B = %s, $%v", b.Status, b.CostUSD)
	}
	if i := log.index(models.EventSystem, "B"); i < 0 || !strings.Contains(log.events[i].Content, "negative cost") {
		t.Error("negative cost should be reported with a system event")
	}
	for _, m := range rec.metrics {
		if m.CostUSD < 0 {
			t.Errorf("metric for %s recorded negative cost %v", m.AgentID, m.CostUSD)
		}
	}
}

func TestRun_DynamicStartsDependentWhileSiblingRuns(t *testing.T) {
	tests := []struct {
		mode models.ExecutionMode
		// overlap is whether C starts while B is still in flight.
		overlap bool
	}{
		{models.ModeDynamic, true},
		{models.ModeParallel, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			release := make(chan struct{})
			var once sync.Once
			inv := InvokerFunc(func(_ context.Context, _ string, tk *models.Task, _ string) (InvocationResult, error) {
				switch tk.ID {
				case "B":
					select {
					case <-release:
					case <-time.After(300 * time.Millisecond):
					}
				case "C":
					once.Do(func() { close(release) })
				}
				return InvocationResult{Content: tk.ID, Success: true}, nil
			})

			tasks := []*models.Task{task("A", "x"), task("B", "y"), task("C", "z", "A")}
			log := &eventLog{}
			out, err := New(inv).Run(context.Background(), tasks, Options{Mode: tt.mode, Emit: log.emit})
			if err != nil {
				t.Fatal(err)
			}
			if out.Completed != 3 {
				t.Fatalf("Completed = %d, want 3", out.Completed)
			}

			startC := log.index(models.EventTaskStart, "C")
			doneB := log.index(models.EventTaskDone, "B")
			if got := startC < doneB; got != tt.overlap {
				t.Errorf("C started before B finished = %v, want %v (events %v)", got, tt.overlap, log.events)
			}
		})
	}
}

func TestRun_ParallelHonoursAgentLimit(t *testing.T) {
	var current, peak atomic.Int32
	inv := InvokerFunc(func(_ context.Context, _ string, _ *models.Task, _ string) (InvocationResult, error) {
		n := current.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return InvocationResult{Success: true}, nil
	})

	tasks := []*models.Task{task("A", "x"), task("B", "x")}
	log := &eventLog{}
	out, err := New(inv).Run(context.Background(), tasks, Options{
		Mode:   models.ModeParallel,
		Limits: map[string]int{"x": 1},
		Emit:   log.emit,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Completed != 2 || out.Failed != 0 {
		t.Errorf("outcome = %d completed, %d failed", out.Completed, out.Failed)
	}
	if p := peak.Load(); p != 1 {
		t.Errorf("peak concurrency = %d, want 1", p)
	}
	if log.index(models.EventTaskStart, "B") < log.index(models.EventTaskDone, "A") {
		t.Error("B started while A held the agent's only slot")
	}
}

type agentTable map[string]models.AgentCapability

func (a agentTable) Get(id string) (models.AgentCapability, bool) {
	c, ok := a[id]
	return c, ok
}

func TestRun_MetricCarriesAgentNameAndModel(t *testing.T) {
	inv := InvokerFunc(func(context.Context, string, *models.Task, string) (InvocationResult, error) {
		return InvocationResult{Content: "ok", Success: true, Model: "claude-test"}, nil
	})
	rec := &memRecorder{}
	agents := agentTable{"x": {ID: "x", Name: "Researcher"}}
	if _, err := New(inv, WithRecorder(rec), WithAgents(agents)).Run(context.Background(),
		[]*models.Task{task("A", "x"), task("B", "ghost")}, Options{}); err != nil {
		t.Fatal(err)
	}
	if len(rec.metrics) != 2 {
		t.Fatalf("recorded %d metrics, want 2", len(rec.metrics))
	}
	for _, m := range rec.metrics {
		wantName := ""
		if m.AgentID == "x" {
			wantName = "Researcher"
		}
		if m.AgentName != wantName || m.Model != "claude-test" {
			t.Errorf("metric for %s = name %q model %q", m.AgentID, m.AgentName, m.Model)
		}
	}
}

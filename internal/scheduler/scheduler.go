// Package scheduler walks a task graph and dispatches ready tasks to agents.
//
// A single coordinating goroutine owns every task status write, every
// readiness scan, event emission and cost accounting. Agent invocations run
// on their own goroutines and report back through a completion channel, so
// two completions can never race to start the same dependent.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ShayCichocki/ensemble/internal/graph"
	"github.com/ShayCichocki/ensemble/internal/logging"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// InvocationResult is what an agent call returns.
type InvocationResult struct {
	Content    string
	TokenCount int64
	CostUSD    float64
	Success    bool
	ErrorType  string
	// Model names the model that answered, when the invoker knows it.
	Model string
}

// Invoker performs one agent call. taskContext carries the results of the
// task's dependencies.
type Invoker interface {
	Invoke(ctx context.Context, agentID string, task *models.Task, taskContext string) (InvocationResult, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, agentID string, task *models.Task, taskContext string) (InvocationResult, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, agentID string, task *models.Task, taskContext string) (InvocationResult, error) {
	return f(ctx, agentID, task, taskContext)
}

// AgentLookup resolves agent ids to their capabilities.
type AgentLookup interface {
	Get(agentID string) (models.AgentCapability, bool)
}

// Recorder receives one metric per agent invocation.
type Recorder interface {
	Record(ctx context.Context, m models.AgentMetric) error
}

// Emitter receives events in coordinator order. ID and Seq are left for the
// receiver to assign.
type Emitter func(models.GraphEvent)

// Metadata keys set on task_done events.
const (
	MetaStatus      = "status"
	MetaCostUSD     = "cost_usd"
	MetaTokenCount  = "token_count"
	MetaFailureKind = "failure_kind"
	MetaError       = "error"
	MetaMode        = "mode"
	MetaType        = "task_type"
	MetaPriority    = "priority"
	MetaDurationMs  = "duration_ms"
)

// Options configures one Run.
type Options struct {
	// Mode selects the dispatch policy. Empty means dynamic.
	Mode models.ExecutionMode
	// Limits maps agent IDs to their concurrency limit. Missing or
	// non-positive entries allow one task at a time.
	Limits map[string]int
	// TaskTimeout bounds each invocation. Zero means only ctx bounds it.
	TaskTimeout time.Duration
	// Emit receives events. May be nil.
	Emit Emitter
	// Cancelled is polled at every readiness scan. May be nil.
	Cancelled func() bool
	// SessionID and MessageID tag metric records.
	SessionID string
	MessageID string
}

// Outcome summarises a Run.
type Outcome struct {
	Tasks      []*models.Task
	Results    []models.Result
	CostUSD    float64
	TokenCount int64
	Completed  int
	Failed     int
	Skipped    int
	// Cancelled is true when cancellation stopped dispatch early.
	Cancelled bool
}

// Scheduler dispatches task graphs.
type Scheduler struct {
	invoker  Invoker
	recorder Recorder
	agents   AgentLookup
	now      func() time.Time
	debugLog *logging.DebugLogger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRecorder sets where invocation metrics are sent.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithAgents sets where agent names for metric records are looked up.
func WithAgents(a AgentLookup) Option {
	return func(s *Scheduler) { s.agents = a }
}

// WithClock sets the time source for task timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDebugLog attaches a debug logger.
func WithDebugLog(l *logging.DebugLogger) Option {
	return func(s *Scheduler) { s.debugLog = l }
}

// New creates a Scheduler around an Invoker.
func New(invoker Invoker, opts ...Option) *Scheduler {
	s := &Scheduler{
		invoker: invoker,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run dispatches tasks until every task is terminal or cancellation is
// observed. Tasks are mutated in place. Structural problems (dangling or
// duplicate ids, cycles) are returned before anything is dispatched.
func (s *Scheduler) Run(ctx context.Context, tasks []*models.Task, opts Options) (*Outcome, error) {
	mode := opts.Mode
	if mode == "" {
		mode = models.DefaultExecutionMode
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown execution mode %q", mode)
	}

	g := graph.New()
	g.SetDebugLog(s.debugLog.Log)
	if err := g.Build(tasks); err != nil {
		return nil, fmt.Errorf("invalid task graph: %w", err)
	}

	r := &run{
		s:           s,
		opts:        opts,
		mode:        mode,
		graph:       g,
		inFlight:    make(map[string]*models.Task),
		running:     make(map[string]int),
		completions: make(chan completion, len(tasks)),
		outcome:     &Outcome{Tasks: tasks},
	}
	r.loop(ctx)
	return r.outcome, nil
}

// completion is sent by an invocation goroutine when its call returns.
type completion struct {
	taskID  string
	result  InvocationResult
	err     error
	elapsed time.Duration
}

// run is the state of one Run. Every field is owned by the coordinator.
type run struct {
	s     *Scheduler
	opts  Options
	mode  models.ExecutionMode
	graph *graph.DependencyGraph

	inFlight    map[string]*models.Task
	running     map[string]int
	completions chan completion
	cancelled   bool

	outcome *Outcome
}

func (r *run) loop(ctx context.Context) {
	for {
		if !r.cancelled && r.cancellationRequested(ctx) {
			r.cancelled = true
			r.outcome.Cancelled = true
			r.s.debugLog.Log("cancellation observed with %d task(s) in flight", len(r.inFlight))
		}
		if !r.cancelled {
			r.dispatch(ctx)
		}
		if len(r.inFlight) == 0 {
			return
		}
		r.finish(ctx, <-r.completions)
	}
}

func (r *run) cancellationRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return r.opts.Cancelled != nil && r.opts.Cancelled()
}

// dispatch starts whatever the mode allows from the current ready set.
func (r *run) dispatch(ctx context.Context) {
	switch r.mode {
	case models.ModeSequential, models.ModeParallel:
		// Sequential runs one task at a time; parallel starts a new wave
		// only once the previous wave has drained.
		if len(r.inFlight) > 0 {
			return
		}
	}

	for _, t := range r.readyByPriority() {
		if r.running[t.AssignedTo] >= r.limit(t.AssignedTo) {
			continue
		}
		r.start(ctx, t)
		if r.mode == models.ModeSequential {
			return
		}
	}
}

// readyByPriority orders ready tasks by priority, then insertion order.
func (r *run) readyByPriority() []*models.Task {
	ready := r.graph.Ready()
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].Priority.Rank() < ready[j].Priority.Rank()
	})
	return ready
}

func (r *run) limit(agentID string) int {
	if n := r.opts.Limits[agentID]; n > 0 {
		return n
	}
	return 1
}

func (r *run) start(ctx context.Context, t *models.Task) {
	now := r.s.now()
	t.Status = models.TaskStatusInProgress
	t.StartedAt = &now
	r.inFlight[t.ID] = t
	r.running[t.AssignedTo]++

	r.emit(models.GraphEvent{
		Type:      models.EventTaskStart,
		Timestamp: now,
		AgentID:   t.AssignedTo,
		TaskID:    t.ID,
		Content:   t.Title,
		Metadata: map[string]any{
			MetaType:     string(t.Type),
			MetaPriority: string(t.Priority),
			MetaMode:     string(r.mode),
		},
	})
	r.s.debugLog.Log("start %s on %s (%s, %d/%d)", t.ID, t.AssignedTo, r.mode, r.running[t.AssignedTo], r.limit(t.AssignedTo))

	snapshot := t.Clone()
	taskContext := r.dependencyContext(t)
	go func() {
		callCtx := ctx
		if r.opts.TaskTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.opts.TaskTimeout)
			defer cancel()
		}
		began := time.Now()
		res, err := r.s.invoker.Invoke(callCtx, snapshot.AssignedTo, snapshot, taskContext)
		r.completions <- completion{
			taskID:  snapshot.ID,
			result:  res,
			err:     err,
			elapsed: time.Since(began),
		}
	}()
}

// dependencyContext joins the results of a task's dependencies.
func (r *run) dependencyContext(t *models.Task) string {
	var sb strings.Builder
	for _, depID := range r.graph.GetDependencies(t.ID) {
		dep := r.graph.GetTask(depID)
		if dep == nil || dep.Result == "" {
			continue
		}
		fmt.Fprintf(&sb, "## %s (%s)\n%s\n\n", dep.Title, dep.AssignedTo, dep.Result)
	}
	return sb.String()
}

func (r *run) finish(ctx context.Context, c completion) {
	t := r.inFlight[c.taskID]
	if t == nil {
		return
	}
	delete(r.inFlight, c.taskID)
	r.running[t.AssignedTo]--

	now := r.s.now()
	t.CompletedAt = &now
	t.TokenCount = max(c.result.TokenCount, 0)
	t.CostUSD = c.result.CostUSD
	if t.CostUSD < 0 {
		r.s.debugLog.Log("%s on %s reported negative cost %.6f, counting 0", t.ID, t.AssignedTo, t.CostUSD)
		r.emit(models.GraphEvent{
			Type:      models.EventSystem,
			Timestamp: now,
			AgentID:   t.AssignedTo,
			TaskID:    t.ID,
			Content:   fmt.Sprintf("agent %s reported a negative cost (%.6f); counted as 0", t.AssignedTo, t.CostUSD),
		})
		t.CostUSD = 0
	}

	success := c.err == nil && c.result.Success
	errorType := ""
	if success {
		t.Status = models.TaskStatusCompleted
		t.Result = c.result.Content
		r.outcome.Completed++
		if c.result.Content != "" {
			r.emit(models.GraphEvent{
				Type:      models.EventAgentReply,
				Timestamp: now,
				AgentID:   t.AssignedTo,
				TaskID:    t.ID,
				Content:   c.result.Content,
			})
		}
		r.outcome.Results = append(r.outcome.Results, models.Result{
			TaskID:    t.ID,
			AgentID:   t.AssignedTo,
			Content:   c.result.Content,
			Timestamp: now,
		})
	} else {
		errorType = classify(c)
		t.Status = models.TaskStatusFailed
		t.FailureKind = models.FailureExecution
		t.Error = failureMessage(c, errorType)
		r.outcome.Failed++
	}

	// Cost is accounted exactly once, here, alongside task_done.
	r.outcome.CostUSD += t.CostUSD
	r.outcome.TokenCount += t.TokenCount
	r.emitDone(t, now, c.elapsed)
	r.record(ctx, t, c, success, errorType, now)

	if !success {
		r.skipBlocked(t.ID)
	}
}

// skipBlocked fails every pending task that transitively depends on
// failedID. Tasks are skipped dependencies first, so each names the failed
// task that blocked it. Skipped tasks never enter in_progress.
func (r *run) skipBlocked(failedID string) {
	blocked := make(map[string]bool)
	var queue []*models.Task
	for _, id := range r.graph.TransitiveDependents(failedID) {
		if t := r.graph.GetTask(id); t != nil && t.Status == models.TaskStatusPending {
			blocked[id] = true
			queue = append(queue, t)
		}
	}

	for len(queue) > 0 {
		var waiting []*models.Task
		for _, t := range queue {
			cause, ready := "", true
			for _, depID := range r.graph.GetDependencies(t.ID) {
				if blocked[depID] {
					ready = false
					break
				}
				if dep := r.graph.GetTask(depID); cause == "" && dep != nil && dep.Status == models.TaskStatusFailed {
					cause = depID
				}
			}
			if !ready {
				waiting = append(waiting, t)
				continue
			}
			r.skip(t, cause)
			delete(blocked, t.ID)
		}
		queue = waiting
	}
}

func (r *run) skip(t *models.Task, cause string) {
	now := r.s.now()
	t.Status = models.TaskStatusFailed
	t.FailureKind = models.FailureDependencySkipped
	t.Error = fmt.Sprintf("dependency %s failed", cause)
	t.CompletedAt = &now
	r.outcome.Skipped++
	r.s.debugLog.Log("skip %s: %s", t.ID, t.Error)
	r.emitDone(t, now, 0)
}

func (r *run) emitDone(t *models.Task, at time.Time, elapsed time.Duration) {
	meta := map[string]any{
		MetaStatus:     string(t.Status),
		MetaCostUSD:    t.CostUSD,
		MetaTokenCount: t.TokenCount,
	}
	if t.FailureKind != models.FailureNone {
		meta[MetaFailureKind] = string(t.FailureKind)
		meta[MetaError] = t.Error
	}
	if elapsed > 0 {
		meta[MetaDurationMs] = elapsed.Milliseconds()
	}
	content := t.Result
	if t.Status == models.TaskStatusFailed {
		content = t.Error
	}
	r.emit(models.GraphEvent{
		Type:      models.EventTaskDone,
		Timestamp: at,
		AgentID:   t.AssignedTo,
		TaskID:    t.ID,
		Content:   content,
		Metadata:  meta,
	})
}

func (r *run) emit(e models.GraphEvent) {
	if r.opts.Emit != nil {
		r.opts.Emit(e)
	}
}

func (r *run) record(ctx context.Context, t *models.Task, c completion, success bool, errorType string, at time.Time) {
	if r.s.recorder == nil {
		return
	}
	m := models.AgentMetric{
		AgentID:           t.AssignedTo,
		AgentName:         r.s.agentName(t.AssignedTo),
		SessionID:         r.opts.SessionID,
		MessageID:         r.opts.MessageID,
		ResponseTimeMs:    c.elapsed.Milliseconds(),
		TokenCount:        t.TokenCount,
		CostUSD:           t.CostUSD,
		Success:           success,
		ErrorType:         errorType,
		Timestamp:         at,
		OrchestrationMode: r.mode,
		Model:             c.result.Model,
	}
	// The turn may be cancelled, but the invocation still happened.
	if err := r.s.recorder.Record(context.WithoutCancel(ctx), m); err != nil {
		r.s.debugLog.Log("record metric for %s failed: %v", t.AssignedTo, err)
	}
}

func (s *Scheduler) agentName(agentID string) string {
	if s.agents == nil {
		return ""
	}
	if c, ok := s.agents.Get(agentID); ok {
		return c.Name
	}
	return ""
}

// Error types reported for failed invocations.
const (
	ErrorTypeTimeout   = "timeout"
	ErrorTypeCancelled = "cancelled"
	ErrorTypeInvoke    = "invocation_error"
	ErrorTypeAgent     = "agent_error"
)

func classify(c completion) string {
	switch {
	case c.err == nil && c.result.ErrorType != "":
		return c.result.ErrorType
	case c.err == nil:
		return ErrorTypeAgent
	case errors.Is(c.err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(c.err, context.Canceled):
		return ErrorTypeCancelled
	case c.result.ErrorType != "":
		return c.result.ErrorType
	default:
		return ErrorTypeInvoke
	}
}

func failureMessage(c completion, errorType string) string {
	if c.err != nil {
		return fmt.Sprintf("%s: %v", errorType, c.err)
	}
	if c.result.Content != "" {
		return fmt.Sprintf("%s: %s", errorType, c.result.Content)
	}
	return errorType
}

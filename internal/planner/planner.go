// Package planner turns a confirmed intent into a validated task graph with
// every task assigned to a capable agent.
//
// Drafting (what tasks exist) is delegated to a Drafter. The Planner owns the
// rules a plan must satisfy before dispatch: known agents, supported task
// types, no dangling or duplicate ids, acyclic dependencies, at least one root.
// When a draft leaves a task unassigned, the Planner picks among the capable
// agents by composite score, treating agents without history as neutral.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/ensemble/internal/clarify"
	"github.com/ShayCichocki/ensemble/internal/graph"
	"github.com/ShayCichocki/ensemble/internal/logging"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

var (
	// ErrUnknownAgent indicates a task assigned to an unregistered agent.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrUnsupportedTaskType indicates a task type no chosen agent can handle.
	ErrUnsupportedTaskType = errors.New("unsupported task type")
	// ErrCyclicPlan indicates the plan's dependencies contain a cycle.
	ErrCyclicPlan = errors.New("plan dependencies are cyclic")
	// ErrNoRoot indicates that every task has at least one dependency.
	ErrNoRoot = errors.New("plan has no task without dependencies")
	// ErrEmptyPlan indicates a draft with no tasks.
	ErrEmptyPlan = errors.New("plan contains no tasks")
)

// neutralScore is assumed for agents without metrics in the window.
const neutralScore = 0.5

// DefaultWindowDays is the trailing metrics window consulted for assignment.
const DefaultWindowDays = 7

// Registry is the view of the agent registry the planner needs.
type Registry interface {
	Get(agentID string) (models.AgentCapability, bool)
	CapableOf(t models.TaskType) []models.AgentCapability
	ListCapabilities() []models.AgentCapability
}

// ScoreSource supplies composite scores for assignment.
// ok is false when the agent has no metrics in the window.
type ScoreSource interface {
	Score(ctx context.Context, agentID string, windowDays int) (score float64, ok bool, err error)
}

// PlanContext carries what a drafter may use beyond the intent itself.
type PlanContext struct {
	SessionID    string
	TurnIndex    int
	History      []clarify.Turn
	Capabilities []models.AgentCapability
}

// TaskPlan is an ordered, validated task list plus the drafter's rationale.
type TaskPlan struct {
	Tasks     []*models.Task `json:"tasks"`
	Rationale string         `json:"rationale,omitempty"`
}

// Planner validates drafts and assigns agents.
type Planner struct {
	registry   Registry
	drafter    Drafter
	scores     ScoreSource
	windowDays int
	now        func() time.Time
	newID      func() string
	debugLog   *logging.DebugLogger
}

// Option configures a Planner.
type Option func(*Planner)

// WithScoreSource enables metric-driven assignment.
func WithScoreSource(s ScoreSource) Option {
	return func(p *Planner) { p.scores = s }
}

// WithWindowDays sets the metrics window used for assignment.
func WithWindowDays(days int) Option {
	return func(p *Planner) {
		if days > 0 {
			p.windowDays = days
		}
	}
}

// WithClock sets the time source for task creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) {
		if now != nil {
			p.now = now
		}
	}
}

// WithIDGenerator overrides task id generation.
func WithIDGenerator(fn func() string) Option {
	return func(p *Planner) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// WithDebugLog attaches a debug logger.
func WithDebugLog(l *logging.DebugLogger) Option {
	return func(p *Planner) { p.debugLog = l }
}

// New creates a Planner. A nil drafter uses KeywordDrafter.
func New(reg Registry, drafter Drafter, opts ...Option) *Planner {
	if drafter == nil {
		drafter = NewKeywordDrafter()
	}
	p := &Planner{
		registry:   reg,
		drafter:    drafter,
		windowDays: DefaultWindowDays,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan drafts, materialises, assigns and validates a task graph for intent.
func (p *Planner) Plan(ctx context.Context, intent string, pc PlanContext) (*TaskPlan, error) {
	if pc.Capabilities == nil {
		pc.Capabilities = p.registry.ListCapabilities()
	}

	draft, err := p.drafter.Draft(ctx, intent, pc)
	if err != nil {
		return nil, fmt.Errorf("draft plan: %w", err)
	}
	if draft == nil || len(draft.Tasks) == 0 {
		return nil, ErrEmptyPlan
	}

	tasks, err := p.materialise(draft.Tasks)
	if err != nil {
		return nil, err
	}

	for _, t := range tasks {
		if t.AssignedTo != "" {
			continue
		}
		agentID, err := p.choose(ctx, t.Type)
		if err != nil {
			return nil, fmt.Errorf("assign %q: %w", t.Title, err)
		}
		t.AssignedTo = agentID
		p.debugLog.Log("assigned %s (%s) to %s", t.ID, t.Type, agentID)
	}

	if err := p.Validate(tasks); err != nil {
		return nil, err
	}

	return &TaskPlan{Tasks: tasks, Rationale: draft.Rationale}, nil
}

// Validate checks an assigned task list against the registry and the graph
// rules. It does not modify the tasks.
func (p *Planner) Validate(tasks []*models.Task) error {
	if len(tasks) == 0 {
		return ErrEmptyPlan
	}

	for _, t := range tasks {
		if !t.Type.Valid() {
			return fmt.Errorf("%w: task %s has type %q", ErrUnsupportedTaskType, t.ID, t.Type)
		}
		c, ok := p.registry.Get(t.AssignedTo)
		if !ok {
			return fmt.Errorf("%w: task %s assigned to %q", ErrUnknownAgent, t.ID, t.AssignedTo)
		}
		if !c.Supports(t.Type) {
			return fmt.Errorf("%w: agent %s cannot handle %s (task %s)", ErrUnsupportedTaskType, c.ID, t.Type, t.ID)
		}
	}

	g := graph.New()
	if err := g.Build(tasks); err != nil {
		if errors.Is(err, graph.ErrCycleDetected) {
			return fmt.Errorf("%w: %w", ErrCyclicPlan, err)
		}
		return fmt.Errorf("invalid plan: %w", err)
	}
	if len(g.Roots()) == 0 {
		return ErrNoRoot
	}
	return nil
}

// materialise converts draft tasks into pending tasks with fresh ids,
// resolving dependency references given by key or title.
func (p *Planner) materialise(drafts []DraftTask) ([]*models.Task, error) {
	refToID := make(map[string]string, len(drafts)*2)
	tasks := make([]*models.Task, len(drafts))
	now := p.now()

	for i, d := range drafts {
		key := d.ref()
		if key == "" {
			return nil, fmt.Errorf("%w: draft task %d has neither key nor title", graph.ErrEmptyTaskID, i)
		}
		if _, dup := refToID[key]; dup {
			return nil, fmt.Errorf("%w: %q", graph.ErrDuplicateTask, key)
		}

		id := p.newID()
		refToID[key] = id
		if d.Title != "" && d.Title != key {
			if _, taken := refToID[d.Title]; !taken {
				refToID[d.Title] = id
			}
		}

		priority := d.Priority
		if priority == "" {
			priority = models.PriorityMedium
		}
		if !priority.Valid() {
			priority = models.PriorityMedium
		}

		tasks[i] = &models.Task{
			ID:          id,
			Type:        d.Type,
			Title:       d.Title,
			Description: d.Description,
			AssignedTo:  d.AssignedTo,
			Status:      models.TaskStatusPending,
			Priority:    priority,
			CreatedAt:   now,
		}
	}

	for i, d := range drafts {
		for _, ref := range d.DependsOn {
			depID, ok := refToID[ref]
			if !ok {
				return nil, fmt.Errorf("%w: %q for task %q", graph.ErrDanglingDependency, ref, d.ref())
			}
			tasks[i].DependsOn = append(tasks[i].DependsOn, depID)
		}
	}

	return tasks, nil
}

// choose picks the highest-scoring capable agent. Agents without metrics
// score neutral and ties keep registry order.
func (p *Planner) choose(ctx context.Context, t models.TaskType) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedTaskType, t)
	}
	candidates := p.registry.CapableOf(t)
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no registered agent handles %s", ErrUnsupportedTaskType, t)
	}
	if len(candidates) == 1 || p.scores == nil {
		return candidates[0].ID, nil
	}

	best := candidates[0].ID
	bestScore := -1.0
	for _, c := range candidates {
		score, ok, err := p.scores.Score(ctx, c.ID, p.windowDays)
		if err != nil {
			p.debugLog.Log("score lookup for %s failed, using neutral: %v", c.ID, err)
			score, ok = neutralScore, false
		}
		if !ok {
			score = neutralScore
		}
		if score > bestScore {
			best, bestScore = c.ID, score
		}
	}
	return best, nil
}

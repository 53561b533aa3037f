package models

import "time"

// TaskType is the kind of work a task asks an agent to perform.
type TaskType string

const (
	// TaskTypeResearch gathers information.
	TaskTypeResearch TaskType = "research"
	// TaskTypeAnalyze examines gathered material.
	TaskTypeAnalyze TaskType = "analyze"
	// TaskTypeSummarize condenses results.
	TaskTypeSummarize TaskType = "summarize"
	// TaskTypeDevelop produces an artifact such as code or a document.
	TaskTypeDevelop TaskType = "develop"
	// TaskTypeReview critiques another task's output.
	TaskTypeReview TaskType = "review"
)

// AllTaskTypes lists every known task type in declaration order.
var AllTaskTypes = []TaskType{
	TaskTypeResearch,
	TaskTypeAnalyze,
	TaskTypeSummarize,
	TaskTypeDevelop,
	TaskTypeReview,
}

// Valid returns true if the type is a known value.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeResearch, TaskTypeAnalyze, TaskTypeSummarize, TaskTypeDevelop, TaskTypeReview:
		return true
	default:
		return false
	}
}

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates an agent is working on the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed or was skipped.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Priority orders ready tasks. It never overrides dependency order.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Rank returns the sort key for the priority, lower runs first.
// Unknown or empty priorities rank as medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// FailureKind distinguishes why a task ended in TaskStatusFailed.
type FailureKind string

const (
	// FailureNone is set on tasks that did not fail.
	FailureNone FailureKind = ""
	// FailureExecution means the agent invocation reported failure.
	FailureExecution FailureKind = "execution"
	// FailureDependencySkipped means the task never ran because a dependency failed.
	FailureDependencySkipped FailureKind = "dependency_skipped"
)

// Task represents a unit of work in one turn's task graph.
type Task struct {
	// ID is the unique identifier for this task within its graph.
	ID string `json:"id"`
	// Type is the kind of work requested.
	Type TaskType `json:"type"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed instructions for the agent.
	Description string `json:"description,omitempty"`
	// AssignedTo is the ID of the agent that will perform the task.
	AssignedTo string `json:"assigned_to"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Priority breaks ties between ready tasks.
	Priority Priority `json:"priority,omitempty"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// CreatedAt is when the planner created the task.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the task entered in_progress, if it did.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Result holds the agent output for completed tasks.
	Result string `json:"result,omitempty"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty"`
	// FailureKind explains a failed status.
	FailureKind FailureKind `json:"failure_kind,omitempty"`
	// TokenCount is the tokens consumed by the invocation.
	TokenCount int64 `json:"token_count,omitempty"`
	// CostUSD is the cost charged for the invocation.
	CostUSD float64 `json:"cost_usd,omitempty"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.DependsOn != nil {
		c.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.CompletedAt != nil {
		d := *t.CompletedAt
		c.CompletedAt = &d
	}
	return &c
}

// Result is the output of one completed task.
type Result struct {
	TaskID     string         `json:"task_id"`
	AgentID    string         `json:"agent_id"`
	Content    string         `json:"content"`
	Confidence *float64       `json:"confidence,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// ExecutionMode selects how the scheduler dispatches ready tasks.
type ExecutionMode string

const (
	// ModeSequential runs at most one task at a time.
	ModeSequential ExecutionMode = "sequential"
	// ModeParallel dispatches every ready task, bounded by per-agent limits.
	ModeParallel ExecutionMode = "parallel"
	// ModeDynamic re-evaluates readiness after every completion.
	ModeDynamic ExecutionMode = "dynamic"
)

// DefaultExecutionMode is used when no mode is requested.
const DefaultExecutionMode = ModeDynamic

// Valid returns true if the mode is a known value.
func (m ExecutionMode) Valid() bool {
	switch m {
	case ModeSequential, ModeParallel, ModeDynamic:
		return true
	default:
		return false
	}
}

// ParseExecutionMode converts a string into an ExecutionMode.
// An empty string yields DefaultExecutionMode.
func ParseExecutionMode(s string) (ExecutionMode, bool) {
	if s == "" {
		return DefaultExecutionMode, true
	}
	m := ExecutionMode(s)
	return m, m.Valid()
}

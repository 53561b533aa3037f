package orchestrator

import (
	"context"
	"errors"

	"github.com/ShayCichocki/ensemble/internal/clarify"
	"github.com/ShayCichocki/ensemble/internal/planner"
	"github.com/ShayCichocki/ensemble/internal/scheduler"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

var (
	// ErrTurnInProgress rejects a message for a session that is not idle.
	ErrTurnInProgress = errors.New("turn in progress")
	// ErrUnknownAction rejects an unsupported control action.
	ErrUnknownAction = errors.New("unknown control action")
	// ErrMissingSessionID rejects a request without a session id.
	ErrMissingSessionID = errors.New("session id is required")
	// ErrUnknownMode rejects a request naming an unknown execution mode.
	ErrUnknownMode = errors.New("unknown execution mode")
)

// Phase is where a session is within its current turn.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseClarifying  Phase = "clarifying"
	PhasePlanning    Phase = "planning"
	PhaseDispatching Phase = "dispatching"
	PhaseSummarizing Phase = "summarizing"
)

// ActionCancel is the only supported control action.
const ActionCancel = "cancel"

// Planner produces a validated task plan.
type Planner interface {
	Plan(ctx context.Context, intent string, pc planner.PlanContext) (*planner.TaskPlan, error)
}

// Scheduler runs a task graph.
type Scheduler interface {
	Run(ctx context.Context, tasks []*models.Task, opts scheduler.Options) (*scheduler.Outcome, error)
}

// LimitSource supplies per-agent concurrency limits.
type LimitSource interface {
	Limits() map[string]int
}

// Summarizer condenses a turn's results. It is best-effort.
type Summarizer interface {
	Summarize(ctx context.Context, intent string, results []models.Result) (string, error)
}

// DispatchRequest is one user turn.
type DispatchRequest struct {
	SessionID       string               `json:"session_id"`
	UserID          string               `json:"user_id"`
	MessageID       string               `json:"message_id,omitempty"`
	Message         string               `json:"message"`
	ConfirmedIntent string               `json:"confirmed_intent,omitempty"`
	Mode            models.ExecutionMode `json:"mode,omitempty"`
}

// TurnResult reports how far a turn progressed.
type TurnResult struct {
	Success               bool                `json:"success"`
	SessionID             string              `json:"session_id"`
	TurnIndex             int                 `json:"turn_index"`
	ShouldClarify         bool                `json:"should_clarify,omitempty"`
	ClarificationQuestion string              `json:"clarification_question,omitempty"`
	Summary               string              `json:"summary,omitempty"`
	Rationale             string              `json:"rationale,omitempty"`
	Events                []models.GraphEvent `json:"events"`
	Tasks                 []*models.Task      `json:"tasks"`
	Results               []models.Result     `json:"results"`
	CostUSD               float64             `json:"cost_usd"`
	SessionCostUSD        float64             `json:"session_cost_usd"`
	Cancelled             bool                `json:"cancelled,omitempty"`
	Error                 string              `json:"error,omitempty"`
}

// Ack acknowledges a control action.
type Ack struct {
	SessionID string `json:"session_id"`
	Action    string `json:"action"`
	Accepted  bool   `json:"accepted"`
	Message   string `json:"message,omitempty"`
}

// OrchestratorState is the per-session state. Tasks and InFlight hold
// copies owned by the orchestrator, never the scheduler's live tasks.
type OrchestratorState struct {
	SessionID             string                  `json:"session_id"`
	Phase                 Phase                   `json:"phase"`
	TurnIndex             int                     `json:"turn_index"`
	UserMessage           string                  `json:"user_message"`
	ConfirmedIntent       string                  `json:"confirmed_intent,omitempty"`
	Tasks                 []*models.Task          `json:"tasks"`
	InFlight              map[string]*models.Task `json:"in_flight"`
	Results               []models.Result         `json:"results"`
	Summary               string                  `json:"summary,omitempty"`
	Events                []models.GraphEvent     `json:"events"`
	CostUSD               float64                 `json:"cost_usd"`
	SessionCostUSD        float64                 `json:"session_cost_usd"`
	ShouldClarify         bool                    `json:"should_clarify"`
	ClarificationQuestion string                  `json:"clarification_question,omitempty"`
	IsCancelled           bool                    `json:"is_cancelled"`
	History               []clarify.Turn          `json:"history,omitempty"`
}

// snapshot returns a deep copy safe to hand to callers.
func (s *OrchestratorState) snapshot() *OrchestratorState {
	cp := *s
	cp.Tasks = make([]*models.Task, len(s.Tasks))
	index := make(map[string]*models.Task, len(s.Tasks))
	for i, t := range s.Tasks {
		cp.Tasks[i] = t.Clone()
		index[t.ID] = cp.Tasks[i]
	}
	cp.InFlight = make(map[string]*models.Task, len(s.InFlight))
	for id := range s.InFlight {
		cp.InFlight[id] = index[id]
	}
	cp.Results = append([]models.Result(nil), s.Results...)
	cp.Events = append([]models.GraphEvent(nil), s.Events...)
	cp.History = append([]clarify.Turn(nil), s.History...)
	return &cp
}

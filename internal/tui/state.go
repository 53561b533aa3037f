package tui

import (
	"time"

	"github.com/ShayCichocki/ensemble/internal/orchestrator"
	"github.com/ShayCichocki/ensemble/internal/scheduler"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// TaskLine is one task as displayed.
type TaskLine struct {
	ID      string
	Title   string
	AgentID string
	Status  models.TaskStatus
	Failure models.FailureKind
	CostUSD float64
	Detail  string
}

// Skipped reports whether the task never ran because a dependency failed.
func (t TaskLine) Skipped() bool {
	return t.Failure == models.FailureDependencySkipped
}

// ActivityEntry is one line of the activity log.
type ActivityEntry struct {
	Timestamp time.Time
	Kind      models.EventType
	AgentID   string
	Message   string
}

// TurnState is what the view knows about the current turn, built up from
// graph events and replaced by the final result when the turn ends.
type TurnState struct {
	SessionID      string
	TurnIndex      int
	Running        bool
	Mode           string
	Rationale      string
	Tasks          []TaskLine
	Question       string
	Summary        string
	CostUSD        float64
	SessionCostUSD float64
	Cancelled      bool
	Err            string
	Activity       []ActivityEntry
}

// maxActivity bounds the activity log.
const maxActivity = 200

// Begin resets per-turn fields for a new turn.
func (s *TurnState) Begin() {
	s.Running = true
	s.Mode = ""
	s.Rationale = ""
	s.Tasks = nil
	s.Question = ""
	s.Summary = ""
	s.CostUSD = 0
	s.Cancelled = false
	s.Err = ""
}

// Apply folds one event into the state.
func (s *TurnState) Apply(e models.GraphEvent) {
	switch e.Type {
	case models.EventTasksCreated:
		s.Rationale = e.Content
		if mode, ok := e.Metadata["mode"].(string); ok {
			s.Mode = mode
		}
		for _, id := range stringList(e.Metadata["task_ids"]) {
			s.task(id)
		}
	case models.EventTaskStart:
		t := s.task(e.TaskID)
		t.Title = e.Content
		t.AgentID = e.AgentID
		t.Status = models.TaskStatusInProgress
	case models.EventTaskDone:
		t := s.task(e.TaskID)
		t.AgentID = e.AgentID
		if status, ok := e.Metadata[scheduler.MetaStatus].(string); ok {
			t.Status = models.TaskStatus(status)
		}
		if kind, ok := e.Metadata[scheduler.MetaFailureKind].(string); ok {
			t.Failure = models.FailureKind(kind)
		}
		t.CostUSD = floatValue(e.Metadata[scheduler.MetaCostUSD])
		t.Detail = e.Content
		s.CostUSD += t.CostUSD
	case models.EventAskUser:
		s.Question = e.Content
	case models.EventSummary:
		s.Summary = e.Content
	case models.EventFlowCancelled:
		s.Cancelled = true
	}
	s.log(e)
}

// Finish replaces the event-derived view with the turn result.
func (s *TurnState) Finish(r *orchestrator.TurnResult, err error) {
	s.Running = false
	if err != nil {
		s.Err = err.Error()
	}
	if r == nil {
		return
	}
	s.TurnIndex = r.TurnIndex
	s.Rationale = r.Rationale
	s.Summary = r.Summary
	s.CostUSD = r.CostUSD
	s.SessionCostUSD = r.SessionCostUSD
	s.Cancelled = r.Cancelled
	if r.ShouldClarify {
		s.Question = r.ClarificationQuestion
	}
	if r.Error != "" {
		s.Err = r.Error
	}
	if len(r.Tasks) > 0 {
		lines := make([]TaskLine, len(r.Tasks))
		for i, t := range r.Tasks {
			detail := t.Result
			if t.Status == models.TaskStatusFailed {
				detail = t.Error
			}
			lines[i] = TaskLine{
				ID:      t.ID,
				Title:   t.Title,
				AgentID: t.AssignedTo,
				Status:  t.Status,
				Failure: t.FailureKind,
				CostUSD: t.CostUSD,
				Detail:  detail,
			}
		}
		s.Tasks = lines
	}
}

// Counts returns terminal and total task counts.
func (s *TurnState) Counts() (done, total int) {
	for _, t := range s.Tasks {
		if t.Status.IsTerminal() {
			done++
		}
	}
	return done, len(s.Tasks)
}

func (s *TurnState) task(id string) *TaskLine {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i]
		}
	}
	s.Tasks = append(s.Tasks, TaskLine{ID: id, Status: models.TaskStatusPending})
	return &s.Tasks[len(s.Tasks)-1]
}

func (s *TurnState) log(e models.GraphEvent) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := e.Content
	if e.Type == models.EventTaskStart {
		msg = "started " + e.Content
	}
	s.Activity = append(s.Activity, ActivityEntry{Timestamp: ts, Kind: e.Type, AgentID: e.AgentID, Message: msg})
	if len(s.Activity) > maxActivity {
		s.Activity = s.Activity[len(s.Activity)-maxActivity:]
	}
}

// stringList accepts both in-process and JSON-decoded id lists.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func floatValue(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

package models

import "time"

// EventType is the kind of graph event.
type EventType string

const (
	// EventAskUser asks the user a clarifying question.
	EventAskUser EventType = "ask_user"
	// EventTasksCreated announces the planned task graph.
	EventTasksCreated EventType = "tasks_created"
	// EventTaskStart marks a task entering in_progress.
	EventTaskStart EventType = "task_start"
	// EventAgentReply carries an agent's response content.
	EventAgentReply EventType = "agent_reply"
	// EventTaskDone marks a task reaching a terminal status.
	EventTaskDone EventType = "task_done"
	// EventSummary carries the turn summary.
	EventSummary EventType = "summary"
	// EventFlowCancelled marks a cancelled turn.
	EventFlowCancelled EventType = "flow_cancelled"
	// EventSystem reports degradations and errors.
	EventSystem EventType = "system"
)

// Valid returns true if the event type is a known value.
func (t EventType) Valid() bool {
	switch t {
	case EventAskUser, EventTasksCreated, EventTaskStart, EventAgentReply,
		EventTaskDone, EventSummary, EventFlowCancelled, EventSystem:
		return true
	default:
		return false
	}
}

// GraphEvent is one entry of a turn's append-only event log.
type GraphEvent struct {
	ID        string         `json:"id"`
	Seq       int64          `json:"seq"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	AgentID   string         `json:"agent_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

package server

import (
	"time"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// APIResponse is the envelope for every JSON response.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TurnRequest is the body of POST /api/sessions/:id/turns.
type TurnRequest struct {
	UserID          string               `json:"user_id"`
	MessageID       string               `json:"message_id,omitempty"`
	Message         string               `json:"message"`
	ConfirmedIntent string               `json:"confirmed_intent,omitempty"`
	Mode            models.ExecutionMode `json:"mode,omitempty"`
}

// ControlRequest is the body of POST /api/sessions/:id/control.
type ControlRequest struct {
	UserID string `json:"user_id"`
	Action string `json:"action" binding:"required"`
}

// MetricRequest is the body of POST /api/metrics.
type MetricRequest struct {
	AgentID           string               `json:"agent_id" binding:"required"`
	AgentName         string               `json:"agent_name,omitempty"`
	SessionID         string               `json:"session_id,omitempty"`
	MessageID         string               `json:"message_id,omitempty"`
	ResponseTimeMs    int64                `json:"response_time_ms"`
	TokenCount        int64                `json:"token_count"`
	CostUSD           float64              `json:"cost_usd"`
	Success           bool                 `json:"success"`
	ErrorType         string               `json:"error_type,omitempty"`
	UserRating        *int                 `json:"user_rating,omitempty"`
	Timestamp         *time.Time           `json:"timestamp,omitempty"`
	OrchestrationMode models.ExecutionMode `json:"orchestration_mode,omitempty"`
	Model             string               `json:"model,omitempty"`
}

func (r MetricRequest) metric() models.AgentMetric {
	m := models.AgentMetric{
		AgentID:           r.AgentID,
		AgentName:         r.AgentName,
		SessionID:         r.SessionID,
		MessageID:         r.MessageID,
		ResponseTimeMs:    r.ResponseTimeMs,
		TokenCount:        r.TokenCount,
		CostUSD:           r.CostUSD,
		Success:           r.Success,
		ErrorType:         r.ErrorType,
		UserRating:        r.UserRating,
		OrchestrationMode: r.OrchestrationMode,
		Model:             r.Model,
	}
	if r.Timestamp != nil {
		m.Timestamp = *r.Timestamp
	}
	return m
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Agents    int       `json:"agents"`
}

// StreamMessage is one frame on the session websocket.
type StreamMessage struct {
	Type      string             `json:"type"`
	SessionID string             `json:"session_id"`
	Event     *models.GraphEvent `json:"event,omitempty"`
	Error     string             `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Stream frame types.
const (
	StreamEvent = "event"
	StreamReady = "ready"
	StreamError = "error"
)

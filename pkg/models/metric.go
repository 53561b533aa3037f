package models

import "time"

// AgentMetric records the outcome of one agent invocation.
// Records are immutable once stored.
type AgentMetric struct {
	AgentID           string        `json:"agent_id"`
	AgentName         string        `json:"agent_name,omitempty"`
	SessionID         string        `json:"session_id,omitempty"`
	MessageID         string        `json:"message_id,omitempty"`
	ResponseTimeMs    int64         `json:"response_time_ms"`
	TokenCount        int64         `json:"token_count"`
	CostUSD           float64       `json:"cost_usd"`
	Success           bool          `json:"success"`
	ErrorType         string        `json:"error_type,omitempty"`
	UserRating        *int          `json:"user_rating,omitempty"`
	Timestamp         time.Time     `json:"timestamp"`
	OrchestrationMode ExecutionMode `json:"orchestration_mode,omitempty"`
	Model             string        `json:"model,omitempty"`
}

// AgentStats aggregates an agent's metrics over a time window.
type AgentStats struct {
	AgentID            string    `json:"agent_id"`
	TotalRequests      int       `json:"total_requests"`
	SuccessfulRequests int       `json:"successful_requests"`
	FailedRequests     int       `json:"failed_requests"`
	MinResponseTime    int64     `json:"min_response_time"`
	MaxResponseTime    int64     `json:"max_response_time"`
	AvgResponseTime    float64   `json:"avg_response_time"`
	P50ResponseTime    int64     `json:"p50_response_time"`
	P95ResponseTime    int64     `json:"p95_response_time"`
	P99ResponseTime    int64     `json:"p99_response_time"`
	TotalTokens        int64     `json:"total_tokens"`
	AvgTokens          float64   `json:"avg_tokens"`
	TotalCostUSD       float64   `json:"total_cost_usd"`
	AvgCostUSD         float64   `json:"avg_cost_usd"`
	SuccessRate        float64   `json:"success_rate"`
	AvgRating          *float64  `json:"avg_rating,omitempty"`
	RatingCount        int       `json:"rating_count"`
	WindowStart        time.Time `json:"window_start"`
	WindowEnd          time.Time `json:"window_end"`
}

// AgentRanking pairs an agent with its composite score.
type AgentRanking struct {
	AgentID string      `json:"agent_id"`
	Score   float64     `json:"score"`
	Stats   *AgentStats `json:"stats"`
}

// Trend is the direction of an agent's score.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// AgentTrend compares an agent's short and long window scores.
type AgentTrend struct {
	AgentID  string  `json:"agent_id"`
	Score7d  float64 `json:"score_7d"`
	Score14d float64 `json:"score_14d"`
	Delta    float64 `json:"delta"`
	Trend    Trend   `json:"trend"`
}

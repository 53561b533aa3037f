package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// Append stores one metric record. Records are never updated.
func (db *DB) Append(ctx context.Context, m models.AgentMetric) error {
	var rating sql.NullInt64
	if m.UserRating != nil {
		rating = sql.NullInt64{Int64: int64(*m.UserRating), Valid: true}
	}

	_, err := db.exec(ctx, `
		INSERT INTO agent_metrics (
			agent_id, agent_name, session_id, message_id, response_time_ms,
			token_count, cost_usd, success, error_type, user_rating,
			timestamp_ms, orchestration_mode, model
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.AgentID, m.AgentName, m.SessionID, m.MessageID, m.ResponseTimeMs,
		m.TokenCount, m.CostUSD, boolToInt(m.Success), m.ErrorType, rating,
		m.Timestamp.UnixMilli(), string(m.OrchestrationMode), m.Model)
	if err != nil {
		return fmt.Errorf("append metric for %s: %w", m.AgentID, err)
	}
	return nil
}

// Query returns an agent's records with Timestamp >= since, oldest first.
func (db *DB) Query(ctx context.Context, agentID string, since time.Time) ([]models.AgentMetric, error) {
	rows, err := db.query(ctx, `
		SELECT agent_id, agent_name, session_id, message_id, response_time_ms,
			token_count, cost_usd, success, error_type, user_rating,
			timestamp_ms, orchestration_mode, model
		FROM agent_metrics
		WHERE agent_id = ? AND timestamp_ms >= ?
		ORDER BY timestamp_ms, id
	`, agentID, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query metrics for %s: %w", agentID, err)
	}
	defer rows.Close()

	var out []models.AgentMetric
	for rows.Next() {
		var m models.AgentMetric
		var name, session, message, errType, mode, model sql.NullString
		var rating sql.NullInt64
		var success int
		var ts int64
		if err := rows.Scan(&m.AgentID, &name, &session, &message, &m.ResponseTimeMs,
			&m.TokenCount, &m.CostUSD, &success, &errType, &rating,
			&ts, &mode, &model); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.AgentName = name.String
		m.SessionID = session.String
		m.MessageID = message.String
		m.ErrorType = errType.String
		m.OrchestrationMode = models.ExecutionMode(mode.String)
		m.Model = model.String
		m.Success = success != 0
		m.Timestamp = time.UnixMilli(ts).UTC()
		if rating.Valid {
			r := int(rating.Int64)
			m.UserRating = &r
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AgentIDs returns every agent with at least one record, sorted.
func (db *DB) AgentIDs(ctx context.Context) ([]string, error) {
	rows, err := db.query(ctx, `SELECT DISTINCT agent_id FROM agent_metrics ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list metric agents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan agent id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PurgeMetrics deletes metric records older than the given duration.
func (db *DB) PurgeMetrics(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	result, err := db.exec(ctx, `DELETE FROM agent_metrics WHERE timestamp_ms < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge metrics: %w", err)
	}
	return result.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/ensemble/internal/orchestrator"
)

// LoadSession retrieves a session by ID. It returns nil, nil when the
// session has never been saved.
func (db *DB) LoadSession(ctx context.Context, sessionID string) (*orchestrator.SessionRecord, error) {
	row := db.queryRow(ctx, `
		SELECT id, turn_index, cost_usd, events_json, history_json, updated_at
		FROM sessions WHERE id = ?
	`, sessionID)

	var rec orchestrator.SessionRecord
	var eventsJSON, historyJSON, updatedAt string
	err := row.Scan(&rec.SessionID, &rec.TurnIndex, &rec.CostUSD, &eventsJSON, &historyJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if err := json.Unmarshal([]byte(eventsJSON), &rec.Events); err != nil {
		return nil, fmt.Errorf("decode events for session %s: %w", sessionID, err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &rec.History); err != nil {
		return nil, fmt.Errorf("decode history for session %s: %w", sessionID, err)
	}
	rec.UpdatedAt, _ = parseTime(updatedAt)
	return &rec, nil
}

// SaveSession inserts or replaces a session.
func (db *DB) SaveSession(ctx context.Context, rec *orchestrator.SessionRecord) error {
	if rec == nil || rec.SessionID == "" {
		return fmt.Errorf("save session: %w", orchestrator.ErrMissingSessionID)
	}

	eventsJSON, err := marshalList(rec.Events)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	historyJSON, err := marshalList(rec.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = db.exec(ctx, `
		INSERT INTO sessions (id, turn_index, cost_usd, events_json, history_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			turn_index = excluded.turn_index,
			cost_usd = excluded.cost_usd,
			events_json = excluded.events_json,
			history_json = excluded.history_json,
			updated_at = excluded.updated_at
	`, rec.SessionID, rec.TurnIndex, rec.CostUSD, eventsJSON, historyJSON, formatTime(updatedAt))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// ListSessionIDs returns saved session IDs, most recently updated first.
func (db *DB) ListSessionIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.query(ctx, `SELECT id FROM sessions ORDER BY updated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PurgeOldSessions deletes sessions not updated within the given duration.
// Returns the number of sessions deleted.
func (db *DB) PurgeOldSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	result, err := db.exec(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old sessions: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

// marshalList encodes a slice, storing nil as an empty JSON array.
func marshalList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/ensemble/internal/clarify"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// DefaultSessionCacheSize is how many sessions stay in memory by default.
const DefaultSessionCacheSize = 512

// SessionRecord is the persisted form of a session, written at turn
// boundaries.
type SessionRecord struct {
	SessionID string              `json:"session_id"`
	TurnIndex int                 `json:"turn_index"`
	CostUSD   float64             `json:"cost_usd"`
	Events    []models.GraphEvent `json:"events"`
	History   []clarify.Turn      `json:"history,omitempty"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// SessionStore persists sessions.
type SessionStore interface {
	// LoadSession returns nil, nil when the session does not exist.
	LoadSession(ctx context.Context, sessionID string) (*SessionRecord, error)
	SaveSession(ctx context.Context, rec *SessionRecord) error
}

// MemorySessionStore keeps session records in memory.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]SessionRecord
}

// NewMemorySessionStore creates an empty MemorySessionStore.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]SessionRecord)}
}

// LoadSession implements SessionStore.
func (m *MemorySessionStore) LoadSession(_ context.Context, sessionID string) (*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	rec.Events = append([]models.GraphEvent(nil), rec.Events...)
	rec.History = append([]clarify.Turn(nil), rec.History...)
	return &rec, nil
}

// SaveSession implements SessionStore.
func (m *MemorySessionStore) SaveSession(_ context.Context, rec *SessionRecord) error {
	if rec == nil || rec.SessionID == "" {
		return fmt.Errorf("save session: %w", ErrMissingSessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	cp.Events = append([]models.GraphEvent(nil), rec.Events...)
	cp.History = append([]clarify.Turn(nil), rec.History...)
	m.sessions[rec.SessionID] = cp
	return nil
}

// Compile-time verification that MemorySessionStore implements SessionStore.
var _ SessionStore = (*MemorySessionStore)(nil)

// session pairs state with the lock that serialises its mutation.
type session struct {
	mu    sync.Mutex
	state OrchestratorState
	// turnStart is the index in state.Events where the current turn began.
	turnStart int
	// live maps task ids to the scheduler-owned tasks of the current turn.
	// Only read on the scheduler's coordinator goroutine.
	live map[string]*models.Task
	// taskIndex maps task ids to their position in state.Tasks.
	taskIndex map[string]int
}

func newSession(id string, rec *SessionRecord) *session {
	s := &session{
		state: OrchestratorState{
			SessionID: id,
			Phase:     PhaseIdle,
			InFlight:  make(map[string]*models.Task),
		},
	}
	if rec != nil {
		s.state.TurnIndex = rec.TurnIndex
		s.state.SessionCostUSD = rec.CostUSD
		s.state.Events = append([]models.GraphEvent(nil), rec.Events...)
		s.state.History = append([]clarify.Turn(nil), rec.History...)
	}
	return s
}

// record builds the persisted form. Caller holds s.mu.
func (s *session) record(now time.Time) *SessionRecord {
	return &SessionRecord{
		SessionID: s.state.SessionID,
		TurnIndex: s.state.TurnIndex,
		CostUSD:   s.state.SessionCostUSD,
		Events:    append([]models.GraphEvent(nil), s.state.Events...),
		History:   append([]clarify.Turn(nil), s.state.History...),
		UpdatedAt: now,
	}
}

// nextSeq returns the sequence number for the next event. Caller holds s.mu.
func (s *session) nextSeq() int64 {
	if n := len(s.state.Events); n > 0 {
		return s.state.Events[n-1].Seq + 1
	}
	return 1
}

// turnEvents copies the current turn's events. Caller holds s.mu.
func (s *session) turnEvents() []models.GraphEvent {
	return append([]models.GraphEvent(nil), s.state.Events[s.turnStart:]...)
}

package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// Store is the append-only metric log backing a Tracker.
type Store interface {
	// Append stores one metric record.
	Append(ctx context.Context, m models.AgentMetric) error
	// Query returns an agent's records with Timestamp >= since, oldest first.
	Query(ctx context.Context, agentID string, since time.Time) ([]models.AgentMetric, error)
	// AgentIDs returns every agent with at least one record, sorted.
	AgentIDs(ctx context.Context) ([]string, error)
}

// MemoryStore keeps metric logs in memory, one bucket per agent.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string][]models.AgentMetric
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string][]models.AgentMetric)}
}

// Append stores one metric record.
func (s *MemoryStore) Append(_ context.Context, m models.AgentMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[m.AgentID] = append(s.buckets[m.AgentID], m)
	return nil
}

// Query returns an agent's records with Timestamp >= since.
func (s *MemoryStore) Query(_ context.Context, agentID string, since time.Time) ([]models.AgentMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.AgentMetric
	for _, m := range s.buckets[agentID] {
		if !m.Timestamp.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

// AgentIDs returns every agent with at least one record, sorted.
func (s *MemoryStore) AgentIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.buckets))
	for id := range s.buckets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Compile-time verification that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

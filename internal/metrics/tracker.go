// Package metrics tracks agent invocation outcomes and derives per-agent
// statistics, composite scores, rankings and trends.
//
// Every query recomputes its aggregates from the stored log; nothing is cached.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// DefaultWindowDays is the trailing window used when a caller passes <= 0.
const DefaultWindowDays = 7

// Trend thresholds compare the 7-day and 14-day composite scores.
const (
	trendShortDays = 7
	trendLongDays  = 14
	trendThreshold = 0.05
)

var (
	// ErrMissingAgentID indicates a metric record without an agent.
	ErrMissingAgentID = errors.New("metric agent id is required")
	// ErrInvalidRating indicates a rating outside 1..5.
	ErrInvalidRating = errors.New("user rating must be between 1 and 5")
)

// Roster lists the agents known outside the metric log.
type Roster interface {
	ListCapabilities() []models.AgentCapability
}

// Tracker records agent metrics and answers aggregate queries.
type Tracker struct {
	store   Store
	roster  Roster
	now     func() time.Time
	weights Weights
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock injects the time source used for windows and default timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithWeights overrides the composite score weights.
func WithWeights(w Weights) Option {
	return func(t *Tracker) { t.weights = w }
}

// WithRoster adds the roster's agents to rankings, scored neutral until
// they have metrics in the window.
func WithRoster(r Roster) Option {
	return func(t *Tracker) { t.roster = r }
}

// NewTracker creates a Tracker over the given store.
// A nil store uses a fresh MemoryStore.
func NewTracker(store Store, opts ...Option) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	t := &Tracker{
		store:   store,
		now:     time.Now,
		weights: DefaultWeights(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Weights returns the composite score weights in use.
func (t *Tracker) Weights() Weights {
	return t.weights
}

// Record appends a metric. A zero Timestamp is set to the tracker's clock.
func (t *Tracker) Record(ctx context.Context, m models.AgentMetric) error {
	if m.AgentID == "" {
		return ErrMissingAgentID
	}
	if m.UserRating != nil && (*m.UserRating < 1 || *m.UserRating > 5) {
		return fmt.Errorf("%w: got %d", ErrInvalidRating, *m.UserRating)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = t.now()
	}
	if err := t.store.Append(ctx, m); err != nil {
		return fmt.Errorf("append metric: %w", err)
	}
	return nil
}

// GetStats aggregates an agent's metrics over the trailing window.
// Returns nil when no metrics fall inside the window.
func (t *Tracker) GetStats(ctx context.Context, agentID string, windowDays int) (*models.AgentStats, error) {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	end := t.now()
	start := end.AddDate(0, 0, -windowDays)

	records, err := t.store.Query(ctx, agentID, start)
	if err != nil {
		return nil, fmt.Errorf("query metrics for %s: %w", agentID, err)
	}
	return aggregate(agentID, records, start, end), nil
}

// Score returns an agent's composite score over the window.
// ok is false when the agent has no metrics in the window.
func (t *Tracker) Score(ctx context.Context, agentID string, windowDays int) (float64, bool, error) {
	stats, err := t.GetStats(ctx, agentID, windowDays)
	if err != nil {
		return 0, false, err
	}
	if stats == nil {
		return NeutralScore, false, nil
	}
	return Score(stats, t.weights), true, nil
}

// GetTopPerformers ranks every known agent by descending score. Known agents
// are those with metrics in the window plus the roster, if one is set.
// Roster agents without metrics in the window rank at NeutralScore with nil
// Stats.
// A limit <= 0 returns every ranked agent.
func (t *Tracker) GetTopPerformers(ctx context.Context, limit, windowDays int) ([]models.AgentRanking, error) {
	ids, err := t.store.AgentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	var rankings []models.AgentRanking
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		stats, err := t.GetStats(ctx, id, windowDays)
		if err != nil {
			return nil, err
		}
		if stats == nil {
			continue
		}
		seen[id] = true
		rankings = append(rankings, models.AgentRanking{
			AgentID: id,
			Score:   Score(stats, t.weights),
			Stats:   stats,
		})
	}
	if t.roster != nil {
		for _, c := range t.roster.ListCapabilities() {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			rankings = append(rankings, models.AgentRanking{AgentID: c.ID, Score: NeutralScore})
		}
	}

	sort.SliceStable(rankings, func(i, j int) bool {
		if rankings[i].Score != rankings[j].Score {
			return rankings[i].Score > rankings[j].Score
		}
		return rankings[i].AgentID < rankings[j].AgentID
	})

	if limit > 0 && len(rankings) > limit {
		rankings = rankings[:limit]
	}
	return rankings, nil
}

// GetTrendingAgents compares each agent's 7-day and 14-day scores.
// Agents missing either window are left out. Results are ordered by
// descending delta. A limit <= 0 returns every agent.
func (t *Tracker) GetTrendingAgents(ctx context.Context, limit int) ([]models.AgentTrend, error) {
	ids, err := t.store.AgentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	var trends []models.AgentTrend
	for _, id := range ids {
		short, err := t.GetStats(ctx, id, trendShortDays)
		if err != nil {
			return nil, err
		}
		long, err := t.GetStats(ctx, id, trendLongDays)
		if err != nil {
			return nil, err
		}
		if short == nil || long == nil {
			continue
		}

		s7 := Score(short, t.weights)
		s14 := Score(long, t.weights)
		delta := s7 - s14

		trend := models.TrendStable
		switch {
		case delta > trendThreshold:
			trend = models.TrendUp
		case delta < -trendThreshold:
			trend = models.TrendDown
		}

		trends = append(trends, models.AgentTrend{
			AgentID:  id,
			Score7d:  s7,
			Score14d: s14,
			Delta:    delta,
			Trend:    trend,
		})
	}

	sort.SliceStable(trends, func(i, j int) bool {
		if trends[i].Delta != trends[j].Delta {
			return trends[i].Delta > trends[j].Delta
		}
		return trends[i].AgentID < trends[j].AgentID
	})

	if limit > 0 && len(trends) > limit {
		trends = trends[:limit]
	}
	return trends, nil
}

func aggregate(agentID string, records []models.AgentMetric, start, end time.Time) *models.AgentStats {
	n := len(records)
	if n == 0 {
		return nil
	}

	stats := &models.AgentStats{
		AgentID:       agentID,
		TotalRequests: n,
		WindowStart:   start,
		WindowEnd:     end,
	}

	times := make([]int64, 0, n)
	var sumTime int64
	var ratingSum int
	for _, m := range records {
		if m.Success {
			stats.SuccessfulRequests++
		} else {
			stats.FailedRequests++
		}
		times = append(times, m.ResponseTimeMs)
		sumTime += m.ResponseTimeMs
		stats.TotalTokens += m.TokenCount
		stats.TotalCostUSD += m.CostUSD
		if m.UserRating != nil {
			ratingSum += *m.UserRating
			stats.RatingCount++
		}
	}

	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	stats.MinResponseTime = times[0]
	stats.MaxResponseTime = times[n-1]
	stats.AvgResponseTime = float64(sumTime) / float64(n)
	stats.P50ResponseTime = Percentile(times, 50)
	stats.P95ResponseTime = Percentile(times, 95)
	stats.P99ResponseTime = Percentile(times, 99)
	stats.AvgTokens = float64(stats.TotalTokens) / float64(n)
	stats.AvgCostUSD = stats.TotalCostUSD / float64(n)
	stats.SuccessRate = float64(stats.SuccessfulRequests) / float64(n) * 100

	if stats.RatingCount > 0 {
		avg := float64(ratingSum) / float64(stats.RatingCount)
		stats.AvgRating = &avg
	}

	return stats
}

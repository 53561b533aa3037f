package metrics

import (
	"math"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// Weights parameterises the composite score.
type Weights struct {
	// Success weights the success rate component.
	Success float64 `mapstructure:"success"`
	// Speed weights the response time component.
	Speed float64 `mapstructure:"speed"`
	// Rating weights the user rating component.
	Rating float64 `mapstructure:"rating"`
	// SpeedCapMs is the response time at which the speed component reaches zero.
	SpeedCapMs float64 `mapstructure:"speed_cap_ms"`
	// NeutralRating is the rating component used when no ratings exist.
	NeutralRating float64 `mapstructure:"neutral_rating"`
}

// DefaultWeights returns the standard 0.4/0.3/0.3 blend with a 10s speed cap.
func DefaultWeights() Weights {
	return Weights{
		Success:       0.4,
		Speed:         0.3,
		Rating:        0.3,
		SpeedCapMs:    10000,
		NeutralRating: 0.5,
	}
}

// NeutralScore is the score assumed for agents without metrics.
const NeutralScore = 0.5

// Percentile returns the nearest-rank percentile of an ascending slice:
// index ceil(p/100*n)-1 clamped to [0, n-1]. Returns 0 for an empty slice.
func Percentile(sorted []int64, p float64) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// Score computes the composite score for a stats snapshot.
func Score(stats *models.AgentStats, w Weights) float64 {
	if stats == nil {
		return NeutralScore
	}

	speed := 0.0
	if w.SpeedCapMs > 0 {
		speed = math.Max(0, 1-stats.AvgResponseTime/w.SpeedCapMs)
	}

	rating := w.NeutralRating
	if stats.AvgRating != nil {
		rating = (*stats.AvgRating - 1) / 4
	}

	return w.Success*stats.SuccessRate/100 + w.Speed*speed + w.Rating*rating
}

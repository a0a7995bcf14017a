package scoring

import (
	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/features"
)

// Scorer computes the weighted anomaly score of an account.
type Scorer struct {
	weights domain.Weights
}

// NewScorer validates the weights and creates a scorer.
func NewScorer(weights domain.Weights) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: weights}, nil
}

// Weights returns the scorer's weight profile.
func (s *Scorer) Weights() domain.Weights { return s.weights }

// ScoreValues scores one account from its normalised features. Missing
// features read as 0. The community term is inverted so small communities
// score higher.
func (s *Scorer) ScoreValues(get func(domain.Feature) float64) float64 {
	var score float64
	for _, f := range domain.AllFeatures {
		w := s.weights.Get(f)
		if w == 0 {
			continue
		}
		v := Clamp01(get(f))
		if f == domain.FeatureNormCommunitySize {
			v = 1 - v
		}
		score += w * v
	}
	return score
}

// Score computes every account's anomaly score from a normalised table.
func (s *Scorer) Score(t *features.Table) []float64 {
	scores := make([]float64, t.Len())
	cols := make(map[domain.Feature][]float64, len(domain.AllFeatures))
	for _, f := range domain.AllFeatures {
		cols[f] = t.Column(f)
	}
	for i := range scores {
		scores[i] = s.ScoreValues(func(f domain.Feature) float64 {
			return cols[f][i]
		})
	}
	return scores
}

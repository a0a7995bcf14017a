// Package scoring turns account features into anomaly scores and applies the
// percentile cutoff.
package scoring

import (
	"math"

	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/features"
)

// MinMax rescales values to [0,1]. Non-finite values count as 0. When every
// value is equal the result is all zeros.
func MinMax(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		v = finite(v)
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi <= lo {
		return out
	}

	span := hi - lo
	for i, v := range values {
		out[i] = Clamp01((finite(v) - lo) / span)
	}
	return out
}

// Normalize rescales every normalised feature of the table, keeping the
// pre-scaling values as raw columns. normCommunitySize is only clamped since
// it is already scaled across communities.
func Normalize(t *features.Table) {
	for _, f := range domain.NormalizedFeatures {
		t.KeepRaw(f)
		t.SetColumn(f, MinMax(t.Column(f)))
	}
	col := t.Column(domain.FeatureNormCommunitySize)
	for i, v := range col {
		col[i] = Clamp01(finite(v))
	}
}

// Clamp01 caps a value to [0,1].
func Clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

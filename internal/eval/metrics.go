// Package eval compares pipeline flags with ground truth. It is the only
// package that reads fraud labels.
package eval

import (
	"cmp"
	"math"
	"slices"

	"github.com/opensource-finance/fraudgraph/internal/domain"
)

// Confusion counts outcomes over every labelled transfer. A transfer missing
// from flagged counts as not flagged.
func Confusion(labels, flagged map[int64]bool) domain.Metrics {
	var m domain.Metrics
	for id, fraud := range labels {
		predicted := flagged[id]
		switch {
		case predicted && fraud:
			m.TruePositives++
		case predicted && !fraud:
			m.FalsePositives++
		case !predicted && fraud:
			m.FalseNegatives++
		default:
			m.TrueNegatives++
		}
	}
	m.Total = int64(len(labels))
	return Rates(m)
}

// Rates fills the derived ratios. Every ratio is 0 when its denominator is 0.
func Rates(m domain.Metrics) domain.Metrics {
	m.Precision = ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
	m.Recall = ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	} else {
		m.F1 = 0
	}
	m.Accuracy = ratio(m.TruePositives+m.TrueNegatives, m.Total)
	return m
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Breakdown groups flagged transfers by name and reports each group's
// precision. Transfers with an empty group are skipped. Groups listed in
// order come first in that order, the rest follow alphabetically.
func Breakdown(labels, flagged map[int64]bool, group map[int64]string, order []string) []domain.Breakdown {
	byName := make(map[string]*domain.Breakdown)
	for id, name := range group {
		if name == "" || !flagged[id] {
			continue
		}
		b, ok := byName[name]
		if !ok {
			b = &domain.Breakdown{Name: name}
			byName[name] = b
		}
		b.Flagged++
		if labels[id] {
			b.TruePositives++
		} else {
			b.FalsePositives++
		}
	}

	rank := make(map[string]int, len(order))
	for i, name := range order {
		rank[name] = i
	}

	out := make([]domain.Breakdown, 0, len(byName))
	for _, b := range byName {
		b.Precision = ratio(b.TruePositives, b.Flagged)
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b domain.Breakdown) int {
		ra, aok := rank[a.Name]
		rb, bok := rank[b.Name]
		switch {
		case aok && bok:
			return cmp.Compare(ra, rb)
		case aok:
			return -1
		case bok:
			return 1
		default:
			return cmp.Compare(a.Name, b.Name)
		}
	})
	return out
}

// Pearson returns the correlation of x and y. Mismatched lengths, fewer than
// two samples and zero-variance columns all yield 0.
func Pearson(x, y []float64) float64 {
	n := len(x)
	if n != len(y) || n < 2 {
		return 0
	}

	var sx, sy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
	}
	mx, my := sx/float64(n), sy/float64(n)

	var cov, vx, vy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	r := cov / math.Sqrt(vx*vy)
	if math.IsNaN(r) {
		return 0
	}
	return r
}

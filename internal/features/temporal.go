package features

import (
	"math"
	"sort"

	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/graph"
)

// TemporalStats summarises one sender's outgoing transfers.
type TemporalStats struct {
	Count            int
	TxVelocity       float64
	AmountVolatility float64
	MaxAmountRatio   float64
	TempBurst        float64
	StdTimeBetweenTx float64
}

// Outgoing is a single outgoing transfer as seen by temporal analysis.
type Outgoing struct {
	Amount float64
	Step   int
}

// ComputeTemporal derives temporal statistics from a sender's outgoing
// transfers. burstGap is the largest step gap that counts toward tempBurst.
func ComputeTemporal(transfers []Outgoing, burstGap int) TemporalStats {
	stats := TemporalStats{Count: len(transfers)}
	if len(transfers) == 0 {
		return stats
	}

	sorted := make([]Outgoing, len(transfers))
	copy(sorted, transfers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Step < sorted[j].Step })

	var sum float64
	minAmount, maxAmount := math.Inf(1), math.Inf(-1)
	for _, t := range sorted {
		sum += t.Amount
		minAmount = math.Min(minAmount, t.Amount)
		maxAmount = math.Max(maxAmount, t.Amount)
	}
	mean := sum / float64(len(sorted))
	if mean > 0 {
		stats.AmountVolatility = (maxAmount - minAmount) / mean
		stats.MaxAmountRatio = maxAmount / mean
	}

	if len(sorted) <= 1 {
		return stats
	}

	span := sorted[len(sorted)-1].Step - sorted[0].Step
	stats.TxVelocity = float64(len(sorted)) / float64(span+1)

	gaps := make([]float64, len(sorted)-1)
	short := 0
	var gapSum float64
	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Step - sorted[i-1].Step
		gaps[i-1] = float64(gap)
		gapSum += float64(gap)
		if gap <= burstGap {
			short++
		}
	}
	stats.TempBurst = float64(short) / float64(len(gaps))

	gapMean := gapSum / float64(len(gaps))
	if gapMean > 0 {
		var ss float64
		for _, g := range gaps {
			ss += (g - gapMean) * (g - gapMean)
		}
		stats.StdTimeBetweenTx = math.Sqrt(ss/float64(len(gaps))) / gapMean
	}
	return stats
}

type temporalColumns struct {
	velocity, volatility, ratio, burst, stdGap []float64
	outCount                                   []int
}

// computeTemporalColumns derives temporal features for every sender in the
// natural projection. Accounts without outgoing transfers stay at zero.
func computeTemporalColumns(g *graph.Graph, burstGap int) *temporalColumns {
	n := g.NodeCount()
	c := &temporalColumns{
		velocity:   make([]float64, n),
		volatility: make([]float64, n),
		ratio:      make([]float64, n),
		burst:      make([]float64, n),
		stdGap:     make([]float64, n),
		outCount:   make([]int, n),
	}
	for i := 0; i < n; i++ {
		out := g.Out(i)
		if len(out) == 0 {
			continue
		}
		transfers := make([]Outgoing, len(out))
		for k, e := range out {
			edge := g.Edge(e)
			transfers[k] = Outgoing{Amount: edge.Weight, Step: edge.Step}
		}
		s := ComputeTemporal(transfers, burstGap)
		c.velocity[i] = s.TxVelocity
		c.volatility[i] = s.AmountVolatility
		c.ratio[i] = s.MaxAmountRatio
		c.burst[i] = s.TempBurst
		c.stdGap[i] = s.StdTimeBetweenTx
		c.outCount[i] = s.Count
	}
	return c
}

func (c *temporalColumns) apply(t *Table) {
	t.SetColumn(domain.FeatureTxVelocity, c.velocity)
	t.SetColumn(domain.FeatureAmountVolatility, c.volatility)
	t.SetColumn(domain.FeatureMaxAmountRatio, c.ratio)
	t.SetColumn(domain.FeatureTempBurst, c.burst)
	t.SetColumn(domain.FeatureStdTimeBetweenTx, c.stdGap)
	t.OutCount = c.outCount
}

package features

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/graph"
)

// Extractor computes the account feature table.
type Extractor struct {
	cfg    domain.FeatureConfig
	logger *slog.Logger
}

// NewExtractor creates a feature extractor.
func NewExtractor(cfg domain.FeatureConfig, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{cfg: cfg, logger: logger}
}

// Extract runs every graph algorithm and the temporal analysis. natural must
// be the sender-to-receiver projection and undirected the symmetric one over
// the same account order. The algorithms are independent and run
// concurrently.
func (e *Extractor) Extract(ctx context.Context, natural, undirected *graph.Graph) (*Table, error) {
	if natural.NodeCount() != undirected.NodeCount() {
		return nil, fmt.Errorf("%w: projections disagree on account count (%d vs %d)",
			domain.ErrInvalidInput, natural.NodeCount(), undirected.NodeCount())
	}

	t := NewTable(natural.Nodes())
	n := t.Len()
	if n == 0 {
		return t, nil
	}

	var (
		degree, pagerank, betweenness []float64
		hubs, authorities             []float64
		core, triangles, cycles, sim  []float64
		temporal                      *temporalColumns
		communities                   *graph.LouvainResult
	)

	g, gctx := errgroup.WithContext(ctx)
	run := func(name string, fn func()) {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			fn()
			e.logger.Debug("feature computed", "feature", name, "accounts", n, "duration_ms", time.Since(start).Milliseconds())
			return nil
		})
	}

	run("degree", func() {
		degree = graph.WeightedDegree(natural)
	})
	run("pagerank", func() {
		pagerank = graph.PageRank(natural, graph.PageRankOptions{
			DampingFactor: e.cfg.PageRankDamping,
			MaxIterations: e.cfg.PageRankIterations,
			Tolerance:     1e-7,
			Weighted:      true,
		}).Scores
	})
	run("betweenness", func() {
		betweenness = graph.Betweenness(natural, graph.BetweennessOptions{
			SampleSize: e.cfg.BetweennessSampleSize,
			Seed:       42,
		})
	})
	run("hits", func() {
		res := graph.HITS(natural, e.cfg.HITSIterations)
		hubs, authorities = res.Hubs, res.Authorities
	})
	run("kcore", func() {
		core = intsToFloats(graph.CoreNumbers(undirected))
	})
	run("triangles", func() {
		triangles = intsToFloats(graph.CountTriangles(undirected).PerNode)
	})
	run("cycles", func() {
		res := graph.CountShortCycles(natural, graph.CycleOptions{
			StepWindow: e.cfg.CycleStepWindow,
			MaxCycles:  e.cfg.MaxCycles,
		})
		if res.Truncated {
			e.logger.Warn("cycle enumeration truncated", "max_cycles", e.cfg.MaxCycles)
		}
		cycles = intsToFloats(res.PerNode)
	})
	run("similarity", func() {
		sim = graph.MaxSimilarity(natural, graph.SimilarityOptions{
			TopK:     e.cfg.SimilarityTopK,
			Cutoff:   e.cfg.SimilarityCutoff,
			MaxPairs: e.cfg.SimilarityMaxPairs,
		})
	})
	run("louvain", func() {
		communities = graph.Louvain(undirected, graph.LouvainOptions{
			Tolerance:     e.cfg.LouvainTolerance,
			MaxIterations: e.cfg.LouvainIterations,
			MaxLevels:     10,
			Weighted:      true,
		})
	})
	run("temporal", func() {
		temporal = computeTemporalColumns(natural, e.cfg.BurstGap)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	t.SetColumn(domain.FeatureDegree, degree)
	t.SetColumn(domain.FeaturePageRank, pagerank)
	t.SetColumn(domain.FeatureBetweenness, betweenness)
	t.SetColumn(domain.FeatureHub, hubs)
	t.SetColumn(domain.FeatureAuthority, authorities)
	t.SetColumn(domain.FeatureCore, core)
	t.SetColumn(domain.FeatureTriangles, triangles)
	t.SetColumn(domain.FeatureCycles, cycles)
	t.SetColumn(domain.FeatureSimilarity, sim)
	temporal.apply(t)

	applyCommunities(t, communities, e.cfg.MinCommunitySize)
	e.logger.Debug("communities detected",
		"communities", len(communities.Sizes),
		"modularity", communities.Modularity,
		"levels", communities.Levels,
	)
	return t, nil
}

// applyCommunities records community membership and min-max scales community
// size across communities. Communities smaller than minSize count as size 0.
func applyCommunities(t *Table, res *graph.LouvainResult, minSize int) {
	norm := t.Column(domain.FeatureNormCommunitySize)
	if res == nil || len(res.Sizes) == 0 {
		return
	}

	effective := func(size int) float64 {
		if size < minSize {
			return 0
		}
		return float64(size)
	}

	first := true
	var lo, hi float64
	for _, size := range res.Sizes {
		v := effective(size)
		if first {
			lo, hi = v, v
			first = false
			continue
		}
		lo = min(lo, v)
		hi = max(hi, v)
	}

	for i, c := range res.Communities {
		size := res.Sizes[c]
		t.CommunityID[i] = c
		t.CommunitySize[i] = size
		if hi > lo {
			norm[i] = (effective(size) - lo) / (hi - lo)
		}
	}
}

func intsToFloats(values []int) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}

package graph

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/graph/network"
)

// WeightedDegree sums edge weights leaving each node.
func WeightedDegree(g *Graph) []float64 {
	scores := make([]float64, g.NodeCount())
	for i := range scores {
		for _, e := range g.Out(i) {
			scores[i] += g.Edge(e).Weight
		}
	}
	return scores
}

// PageRankOptions configures PageRank.
type PageRankOptions struct {
	DampingFactor float64
	MaxIterations int
	Tolerance     float64
	Weighted      bool
}

// DefaultPageRankOptions returns the damping and iteration cap used for scoring.
func DefaultPageRankOptions() PageRankOptions {
	return PageRankOptions{
		DampingFactor: 0.85,
		MaxIterations: 20,
		Tolerance:     1e-7,
		Weighted:      true,
	}
}

// PageRankResult carries the scores and convergence details.
type PageRankResult struct {
	Scores     []float64
	Iterations int
	Converged  bool
}

// PageRank runs power iteration. Rank mass held by nodes without outgoing
// weight is spread uniformly so the scores keep summing to one.
func PageRank(g *Graph, opts PageRankOptions) *PageRankResult {
	n := g.NodeCount()
	if n == 0 {
		return &PageRankResult{Scores: []float64{}, Converged: true}
	}

	outWeight := make([]float64, n)
	for i := 0; i < n; i++ {
		for _, e := range g.Out(i) {
			outWeight[i] += edgeWeight(g.Edge(e), opts.Weighted)
		}
	}

	scores := make([]float64, n)
	next := make([]float64, n)
	for i := range scores {
		scores[i] = 1.0 / float64(n)
	}

	result := &PageRankResult{}
	base := (1.0 - opts.DampingFactor) / float64(n)

	for result.Iterations < opts.MaxIterations {
		result.Iterations++

		dangling := 0.0
		for i := 0; i < n; i++ {
			if outWeight[i] == 0 {
				dangling += scores[i]
			}
		}
		spread := opts.DampingFactor * dangling / float64(n)

		for v := 0; v < n; v++ {
			sum := 0.0
			for _, e := range g.In(v) {
				u := g.Source(e, v)
				if outWeight[u] > 0 {
					sum += scores[u] * edgeWeight(g.Edge(e), opts.Weighted) / outWeight[u]
				}
			}
			next[v] = base + spread + opts.DampingFactor*sum
		}

		maxDiff := 0.0
		for i := 0; i < n; i++ {
			if d := math.Abs(next[i] - scores[i]); d > maxDiff {
				maxDiff = d
			}
		}
		scores, next = next, scores

		if maxDiff < opts.Tolerance {
			result.Converged = true
			break
		}
	}

	result.Scores = scores
	return result
}

func edgeWeight(e Edge, weighted bool) float64 {
	if !weighted {
		return 1
	}
	if e.Weight < 0 {
		return 0
	}
	return e.Weight
}

// HITSResult holds hub and authority scores.
type HITSResult struct {
	Hubs        []float64
	Authorities []float64
}

// HITS computes hub and authority scores with L2 normalisation after every
// iteration.
func HITS(g *Graph, iterations int) *HITSResult {
	n := g.NodeCount()
	hubs := make([]float64, n)
	auths := make([]float64, n)
	for i := 0; i < n; i++ {
		hubs[i] = 1
		auths[i] = 1
	}

	for it := 0; it < iterations; it++ {
		for v := 0; v < n; v++ {
			sum := 0.0
			for _, e := range g.In(v) {
				sum += hubs[g.Source(e, v)]
			}
			auths[v] = sum
		}
		normalizeL2(auths)

		for u := 0; u < n; u++ {
			sum := 0.0
			for _, e := range g.Out(u) {
				sum += auths[g.Target(e, u)]
			}
			hubs[u] = sum
		}
		normalizeL2(hubs)
	}

	return &HITSResult{Hubs: hubs, Authorities: auths}
}

func normalizeL2(values []float64) {
	norm := 0.0
	for _, v := range values {
		norm += v * v
	}
	if norm == 0 {
		return
	}
	norm = math.Sqrt(norm)
	for i := range values {
		values[i] /= norm
	}
}

// BetweennessOptions configures Brandes betweenness.
type BetweennessOptions struct {
	// SampleSize limits the number of source nodes. Zero means exact.
	SampleSize int
	// Seed makes sampled runs repeatable.
	Seed uint64
}

// Betweenness computes directed, unweighted betweenness centrality. Parallel
// transfers between the same pair count as one hop. The exact score comes from
// gonum's Brandes implementation; sampled runs accumulate only from the chosen
// sources and scale contributions by n/k.
func Betweenness(g *Graph, opts BetweennessOptions) []float64 {
	n := g.NodeCount()
	centrality := make([]float64, n)
	if n < 3 {
		return centrality
	}

	if opts.SampleSize <= 0 || opts.SampleSize >= n {
		for id, c := range network.Betweenness(g.Directed()) {
			centrality[id] = c
		}
		return centrality
	}

	sources := identity(n)
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	rng.Shuffle(len(sources), func(i, j int) { sources[i], sources[j] = sources[j], sources[i] })
	sources = sources[:opts.SampleSize]

	centrality = brandes(g, sources)
	scale := float64(n) / float64(opts.SampleSize)
	for i := range centrality {
		centrality[i] *= scale
	}
	return centrality
}

// brandes accumulates dependencies from the given sources only.
func brandes(g *Graph, sources []int) []float64 {
	n := g.NodeCount()
	centrality := make([]float64, n)

	adj := make([][]int, n)
	for i := 0; i < n; i++ {
		adj[i] = g.OutNeighbors(i)
	}

	sigma := make([]float64, n)
	dist := make([]int, n)
	delta := make([]float64, n)
	preds := make([][]int, n)
	stack := make([]int, 0, n)
	queue := make([]int, 0, n)

	for _, s := range sources {
		for i := 0; i < n; i++ {
			sigma[i] = 0
			dist[i] = -1
			delta[i] = 0
			preds[i] = preds[i][:0]
		}
		sigma[s] = 1
		dist[s] = 0
		stack = stack[:0]
		queue = append(queue[:0], s)

		for head := 0; head < len(queue); head++ {
			v := queue[head]
			stack = append(stack, v)
			for _, w := range adj[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					preds[w] = append(preds[w], v)
				}
			}
		}

		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range preds[w] {
				delta[v] += (sigma[v] / sigma[w]) * (1 + delta[w])
			}
			if w != s {
				centrality[w] += delta[w]
			}
		}
	}
	return centrality
}

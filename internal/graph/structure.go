package graph

import (
	"math"
	"sort"
)

// CoreNumbers computes the k-core number of every node on the undirected,
// simple version of the graph (Batagelj-Zaversnik bucket peeling).
func CoreNumbers(g *Graph) []int {
	n := g.NodeCount()
	core := make([]int, n)
	if n == 0 {
		return core
	}

	neighbors := make([][]int, n)
	maxDeg := 0
	for i := 0; i < n; i++ {
		neighbors[i] = g.Neighbors(i)
		core[i] = len(neighbors[i])
		if core[i] > maxDeg {
			maxDeg = core[i]
		}
	}

	// bin[d] = start position of degree d in vert
	bin := make([]int, maxDeg+1)
	for _, d := range core {
		bin[d]++
	}
	start := 0
	for d := 0; d <= maxDeg; d++ {
		count := bin[d]
		bin[d] = start
		start += count
	}

	pos := make([]int, n)
	vert := make([]int, n)
	for v := 0; v < n; v++ {
		pos[v] = bin[core[v]]
		vert[pos[v]] = v
		bin[core[v]]++
	}
	for d := maxDeg; d > 0; d-- {
		bin[d] = bin[d-1]
	}
	bin[0] = 0

	for i := 0; i < n; i++ {
		v := vert[i]
		for _, u := range neighbors[v] {
			if core[u] > core[v] {
				du := core[u]
				pu := pos[u]
				pw := bin[du]
				w := vert[pw]
				if u != w {
					pos[u], pos[w] = pw, pu
					vert[pu], vert[pw] = w, u
				}
				bin[du]++
				core[u]--
			}
		}
	}
	return core
}

// TriangleCountResult holds per-node and global triangle counts.
type TriangleCountResult struct {
	PerNode     []int
	GlobalCount int
}

// CountTriangles counts triangles treating all edges as undirected. Each
// triangle is counted once per participating node, so GlobalCount is
// sum(PerNode) / 3.
func CountTriangles(g *Graph) *TriangleCountResult {
	n := g.NodeCount()
	neighbors := make([][]int, n)
	for i := 0; i < n; i++ {
		neighbors[i] = g.Neighbors(i)
	}

	perNode := make([]int, n)
	mark := make([]bool, n)
	total := 0
	for u := 0; u < n; u++ {
		for _, v := range neighbors[u] {
			mark[v] = true
		}
		for _, v := range neighbors[u] {
			for _, w := range neighbors[v] {
				if w > v && mark[w] {
					perNode[u]++
				}
			}
		}
		for _, v := range neighbors[u] {
			mark[v] = false
		}
		total += perNode[u]
	}

	return &TriangleCountResult{PerNode: perNode, GlobalCount: total / 3}
}

// CycleOptions bounds directed cycle enumeration.
type CycleOptions struct {
	// StepWindow is the largest allowed span between the earliest and latest
	// hop of a cycle. Zero disables the check.
	StepWindow int
	// MaxCycles stops enumeration once this many cycles were found. Zero means
	// no limit.
	MaxCycles int
}

// CycleResult holds per-node participation in short directed cycles.
type CycleResult struct {
	PerNode   []int
	Cycles    int
	Truncated bool
}

type pair struct{ from, to int }

// CountShortCycles counts simple directed cycles of length 3 and 4. Parallel
// transfers collapse into one hop whose step is the earliest transfer between
// the pair. Self-loops are ignored. Each cycle is enumerated once, starting
// from its smallest node index.
func CountShortCycles(g *Graph, opts CycleOptions) *CycleResult {
	n := g.NodeCount()
	result := &CycleResult{PerNode: make([]int, n)}

	firstStep := make(map[pair]int)
	adj := make([][]int, n)
	for _, e := range g.Edges() {
		if e.From == e.To {
			continue
		}
		p := pair{e.From, e.To}
		if step, ok := firstStep[p]; !ok {
			firstStep[p] = e.Step
			adj[e.From] = append(adj[e.From], e.To)
		} else if e.Step < step {
			firstStep[p] = e.Step
		}
	}
	for i := range adj {
		sort.Ints(adj[i])
	}

	within := func(nodes ...int) bool {
		if opts.StepWindow <= 0 {
			return true
		}
		lo, hi := math.MaxInt, math.MinInt
		for i := range nodes {
			step := firstStep[pair{nodes[i], nodes[(i+1)%len(nodes)]}]
			lo = min(lo, step)
			hi = max(hi, step)
		}
		return hi-lo <= opts.StepWindow
	}

	record := func(nodes ...int) bool {
		for _, v := range nodes {
			result.PerNode[v]++
		}
		result.Cycles++
		if opts.MaxCycles > 0 && result.Cycles >= opts.MaxCycles {
			result.Truncated = true
			return false
		}
		return true
	}

	for s := 0; s < n; s++ {
		for _, a := range adj[s] {
			if a <= s {
				continue
			}
			for _, b := range adj[a] {
				if b <= s || b == a {
					continue
				}
				if _, ok := firstStep[pair{b, s}]; ok && within(s, a, b) {
					if !record(s, a, b) {
						return result
					}
				}
				for _, c := range adj[b] {
					if c <= s || c == a || c == b {
						continue
					}
					if _, ok := firstStep[pair{c, s}]; ok && within(s, a, b, c) {
						if !record(s, a, b, c) {
							return result
						}
					}
				}
			}
		}
	}
	return result
}

// SimilarityOptions configures Jaccard node similarity.
type SimilarityOptions struct {
	TopK     int
	Cutoff   float64
	MaxPairs int
}

// DefaultSimilarityOptions returns the streaming limits used for scoring.
func DefaultSimilarityOptions() SimilarityOptions {
	return SimilarityOptions{TopK: 5, Cutoff: 0.2, MaxPairs: 50000}
}

// SimilarityPair is one streamed similarity result.
type SimilarityPair struct {
	Node1      int
	Node2      int
	Similarity float64
}

// NodeSimilarity streams Jaccard similarity over distinct out-neighbour sets.
// For each node it emits at most TopK partners at or above Cutoff, stopping
// after MaxPairs pairs. The callback returns false to stop early.
func NodeSimilarity(g *Graph, opts SimilarityOptions, fn func(SimilarityPair) bool) int {
	n := g.NodeCount()
	outSets := make([][]int, n)
	inSets := make([][]int, n)
	for i := 0; i < n; i++ {
		outSets[i] = g.OutNeighbors(i)
		for _, t := range outSets[i] {
			inSets[t] = append(inSets[t], i)
		}
	}

	emitted := 0
	shared := make(map[int]int)
	candidates := make([]SimilarityPair, 0, 16)

	for u := 0; u < n; u++ {
		if len(outSets[u]) == 0 {
			continue
		}
		clear(shared)
		for _, x := range outSets[u] {
			for _, v := range inSets[x] {
				if v != u {
					shared[v]++
				}
			}
		}

		candidates = candidates[:0]
		for v, inter := range shared {
			union := len(outSets[u]) + len(outSets[v]) - inter
			if union == 0 {
				continue
			}
			sim := float64(inter) / float64(union)
			if sim >= opts.Cutoff {
				candidates = append(candidates, SimilarityPair{Node1: u, Node2: v, Similarity: sim})
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].Similarity != candidates[j].Similarity {
				return candidates[i].Similarity > candidates[j].Similarity
			}
			return candidates[i].Node2 < candidates[j].Node2
		})
		if opts.TopK > 0 && len(candidates) > opts.TopK {
			candidates = candidates[:opts.TopK]
		}

		for _, c := range candidates {
			if opts.MaxPairs > 0 && emitted >= opts.MaxPairs {
				return emitted
			}
			emitted++
			if !fn(c) {
				return emitted
			}
		}
	}
	return emitted
}

// MaxSimilarity reduces the similarity stream to the largest similarity seen
// for each node on either side of a pair.
func MaxSimilarity(g *Graph, opts SimilarityOptions) []float64 {
	best := make([]float64, g.NodeCount())
	NodeSimilarity(g, opts, func(p SimilarityPair) bool {
		best[p.Node1] = max(best[p.Node1], p.Similarity)
		best[p.Node2] = max(best[p.Node2], p.Similarity)
		return true
	})
	return best
}

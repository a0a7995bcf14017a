package graph

import "sort"

// LouvainOptions configures Louvain community detection.
type LouvainOptions struct {
	// Tolerance is the minimum modularity gain for another pass or level.
	Tolerance float64
	// MaxIterations caps local-moving passes per level.
	MaxIterations int
	// MaxLevels caps aggregation levels.
	MaxLevels int
	// Weighted uses transfer amounts as edge weights.
	Weighted bool
}

// DefaultLouvainOptions returns the tolerance and caps used for scoring.
func DefaultLouvainOptions() LouvainOptions {
	return LouvainOptions{
		Tolerance:     1e-4,
		MaxIterations: 10,
		MaxLevels:     10,
		Weighted:      true,
	}
}

// LouvainResult holds the final partition.
type LouvainResult struct {
	// Communities maps node index to a dense community id. Ids are assigned in
	// order of the lowest node index in each community.
	Communities []int
	Sizes       map[int]int
	Modularity  float64
	Levels      int
}

type neighbor struct {
	node   int
	weight float64
}

// levelGraph is a symmetric weighted adjacency. The self entry holds twice the
// self-loop weight so that degree k_i is the plain row sum. Rows are sorted by
// node so floating point sums do not depend on map order.
type levelGraph struct {
	adj  []map[int]float64
	rows [][]neighbor
	k    []float64
	m2   float64
}

func newLevelGraph(n int) *levelGraph {
	lg := &levelGraph{adj: make([]map[int]float64, n), k: make([]float64, n)}
	for i := range lg.adj {
		lg.adj[i] = make(map[int]float64)
	}
	return lg
}

func (lg *levelGraph) finish() {
	lg.m2 = 0
	lg.rows = make([][]neighbor, len(lg.adj))
	for i, m := range lg.adj {
		row := make([]neighbor, 0, len(m))
		for j, w := range m {
			row = append(row, neighbor{node: j, weight: w})
		}
		sort.Slice(row, func(a, b int) bool { return row[a].node < row[b].node })
		lg.rows[i] = row

		sum := 0.0
		for _, nb := range row {
			sum += nb.weight
		}
		lg.k[i] = sum
		lg.m2 += sum
	}
	lg.adj = nil
}

// Louvain partitions the undirected, weighted view of the graph by greedily
// maximising modularity, then aggregating communities into super-nodes.
// Nodes are visited in index order so results are repeatable.
func Louvain(g *Graph, opts LouvainOptions) *LouvainResult {
	n := g.NodeCount()
	lg := newLevelGraph(n)
	for _, e := range g.Edges() {
		w := edgeWeight(e, opts.Weighted)
		if e.From == e.To {
			lg.adj[e.From][e.From] += 2 * w
			continue
		}
		lg.adj[e.From][e.To] += w
		lg.adj[e.To][e.From] += w
	}
	lg.finish()

	// membership[v] tracks the super-node that original node v belongs to.
	membership := make([]int, n)
	for i := range membership {
		membership[i] = i
	}

	result := &LouvainResult{}
	if lg.m2 == 0 {
		result.Communities, result.Sizes = compact(membership)
		return result
	}

	quality := modularity(lg, identity(n))
	for level := 0; level < opts.MaxLevels; level++ {
		community, moved := localMoving(lg, opts)
		if !moved {
			break
		}
		gained := modularity(lg, community)
		result.Levels++

		renumbered, _ := compact(community)
		for v := range membership {
			membership[v] = renumbered[membership[v]]
		}
		lg = aggregate(lg, renumbered)

		if gained-quality < opts.Tolerance {
			break
		}
		quality = gained
	}

	result.Communities, result.Sizes = compact(membership)
	result.Modularity = Modularity(g, result.Communities, opts.Weighted)
	return result
}

func localMoving(lg *levelGraph, opts LouvainOptions) ([]int, bool) {
	n := len(lg.rows)
	community := identity(n)
	tot := make([]float64, n)
	copy(tot, lg.k)

	moved := false
	links := make(map[int]float64)
	for pass := 0; pass < opts.MaxIterations; pass++ {
		before := modularity(lg, community)
		movesThisPass := 0

		for i := 0; i < n; i++ {
			current := community[i]
			ki := lg.k[i]

			clear(links)
			for _, nb := range lg.rows[i] {
				if nb.node != i {
					links[community[nb.node]] += nb.weight
				}
			}

			tot[current] -= ki
			best := current
			bestGain := links[current] - tot[current]*ki/lg.m2
			for c, w := range links {
				if c == current {
					continue
				}
				gain := w - tot[c]*ki/lg.m2
				// equal gains keep the node in place, otherwise prefer the lowest id
				if gain > bestGain || (gain == bestGain && best != current && c < best) {
					best = c
					bestGain = gain
				}
			}
			tot[best] += ki

			if best != current {
				community[i] = best
				movesThisPass++
				moved = true
			}
		}

		if movesThisPass == 0 {
			break
		}
		if modularity(lg, community)-before < opts.Tolerance {
			break
		}
	}
	return community, moved
}

func aggregate(lg *levelGraph, community []int) *levelGraph {
	size := 0
	for _, c := range community {
		size = max(size, c+1)
	}
	next := newLevelGraph(size)
	for i, row := range lg.rows {
		ci := community[i]
		for _, nb := range row {
			next.adj[ci][community[nb.node]] += nb.weight
		}
	}
	next.finish()
	return next
}

func modularity(lg *levelGraph, community []int) float64 {
	if lg.m2 == 0 {
		return 0
	}
	size := 0
	for _, c := range community {
		size = max(size, c+1)
	}
	in := make([]float64, size)
	tot := make([]float64, size)
	for i, row := range lg.rows {
		ci := community[i]
		tot[ci] += lg.k[i]
		for _, nb := range row {
			if community[nb.node] == ci {
				in[ci] += nb.weight
			}
		}
	}
	q := 0.0
	for c := range tot {
		q += in[c]/lg.m2 - (tot[c]/lg.m2)*(tot[c]/lg.m2)
	}
	return q
}

func identity(n int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// compact renumbers community labels densely in order of first appearance.
func compact(labels []int) ([]int, map[int]int) {
	mapping := make(map[int]int)
	out := make([]int, len(labels))
	sizes := make(map[int]int)
	for i, l := range labels {
		id, ok := mapping[l]
		if !ok {
			id = len(mapping)
			mapping[l] = id
		}
		out[i] = id
		sizes[id]++
	}
	return out, sizes
}

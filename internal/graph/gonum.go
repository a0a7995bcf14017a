package graph

import (
	"math"

	gonum "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
)

// Node indices become gonum node ids unchanged, so results map straight back
// onto projection positions.

// Directed returns the simple directed view of the projection. Parallel
// transfers collapse into one edge and self transfers are dropped.
func (g *Graph) Directed() *simple.DirectedGraph {
	dg := simple.NewDirectedGraph()
	for i := range g.nodes {
		dg.AddNode(simple.Node(i))
	}
	for i := range g.nodes {
		for _, j := range g.OutNeighbors(i) {
			dg.SetEdge(dg.NewEdge(simple.Node(i), simple.Node(j)))
		}
	}
	return dg
}

// WeightedUndirected returns the undirected view with the weights of all
// transfers between a pair summed. Self transfers are dropped.
func (g *Graph) WeightedUndirected(weighted bool) *simple.WeightedUndirectedGraph {
	type pair struct{ a, b int }
	sums := make(map[pair]float64)
	order := make([]pair, 0, len(g.edges))
	for _, e := range g.edges {
		if e.From == e.To {
			continue
		}
		p := pair{min(e.From, e.To), max(e.From, e.To)}
		if _, ok := sums[p]; !ok {
			order = append(order, p)
		}
		sums[p] += edgeWeight(e, weighted)
	}

	ug := simple.NewWeightedUndirectedGraph(0, 0)
	for i := range g.nodes {
		ug.AddNode(simple.Node(i))
	}
	for _, p := range order {
		ug.SetWeightedEdge(ug.NewWeightedEdge(simple.Node(p.a), simple.Node(p.b), sums[p]))
	}
	return ug
}

// Modularity scores a partition of the weighted undirected view. Self
// transfers do not contribute.
func Modularity(g *Graph, communities []int, weighted bool) float64 {
	if len(communities) == 0 || g.EdgeCount() == 0 {
		return 0
	}
	size := 0
	for _, c := range communities {
		size = max(size, c+1)
	}
	groups := make([][]gonum.Node, size)
	for i, c := range communities {
		groups[c] = append(groups[c], simple.Node(i))
	}

	q := community.Q(g.WeightedUndirected(weighted), groups, 1)
	if math.IsNaN(q) {
		return 0
	}
	return q
}

// Package graph provides in-memory adjacency projections of the transfer graph
// and the analytics that run on them.
package graph

import (
	"fmt"
	"sort"
	"sync"
)

// Orientation controls how transfers are laid out in a projection.
type Orientation int

const (
	// Natural keeps sender -> receiver direction.
	Natural Orientation = iota
	// Reverse flips every edge to receiver -> sender.
	Reverse
	// Undirected lists every edge in both directions.
	Undirected
)

func (o Orientation) String() string {
	switch o {
	case Natural:
		return "natural"
	case Reverse:
		return "reverse"
	case Undirected:
		return "undirected"
	default:
		return fmt.Sprintf("orientation(%d)", int(o))
	}
}

// Edge is a single transfer inside a projection. From and To are node indices.
type Edge struct {
	ID     int64
	From   int
	To     int
	Weight float64
	Step   int
}

// Graph is an immutable adjacency snapshot. Node indices are dense [0, n).
type Graph struct {
	Name        string
	Orientation Orientation

	nodes []string
	index map[string]int
	edges []Edge
	out   [][]int // edge indices leaving each node
	in    [][]int // edge indices entering each node
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of logical transfers (undirected projections
// still count each transfer once).
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Node returns the account id for a node index.
func (g *Graph) Node(i int) string { return g.nodes[i] }

// Nodes returns all account ids in index order.
func (g *Graph) Nodes() []string { return g.nodes }

// Index looks up the node index for an account id.
func (g *Graph) Index(id string) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// Edge returns an edge by position.
func (g *Graph) Edge(e int) Edge { return g.edges[e] }

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge { return g.edges }

// Out returns edge positions leaving node i. For undirected projections this
// includes every incident edge.
func (g *Graph) Out(i int) []int { return g.out[i] }

// In returns edge positions entering node i. For undirected projections this
// includes every incident edge.
func (g *Graph) In(i int) []int { return g.in[i] }

// Other returns the endpoint of edge e that is not node i.
func (g *Graph) Other(e int, i int) int {
	edge := g.edges[e]
	if edge.From == i {
		return edge.To
	}
	return edge.From
}

// Target returns the node reached by leaving node i along edge e.
func (g *Graph) Target(e int, i int) int {
	if g.Orientation == Undirected {
		return g.Other(e, i)
	}
	return g.edges[e].To
}

// Source returns the node a walk arrives from when entering node i along e.
func (g *Graph) Source(e int, i int) int {
	if g.Orientation == Undirected {
		return g.Other(e, i)
	}
	return g.edges[e].From
}

// Neighbors returns the sorted, de-duplicated set of nodes adjacent to i in
// either direction, excluding i itself.
func (g *Graph) Neighbors(i int) []int {
	seen := make(map[int]struct{}, len(g.out[i])+len(g.in[i]))
	for _, e := range g.out[i] {
		seen[g.Other(e, i)] = struct{}{}
	}
	for _, e := range g.in[i] {
		seen[g.Other(e, i)] = struct{}{}
	}
	delete(seen, i)

	result := make([]int, 0, len(seen))
	for n := range seen {
		result = append(result, n)
	}
	sort.Ints(result)
	return result
}

// OutNeighbors returns the sorted distinct targets of node i, excluding i.
func (g *Graph) OutNeighbors(i int) []int {
	seen := make(map[int]struct{}, len(g.out[i]))
	for _, e := range g.out[i] {
		if t := g.Target(e, i); t != i {
			seen[t] = struct{}{}
		}
	}
	result := make([]int, 0, len(seen))
	for n := range seen {
		result = append(result, n)
	}
	sort.Ints(result)
	return result
}

// Builder accumulates nodes and edges for a projection.
type Builder struct {
	orientation Orientation
	nodes       []string
	index       map[string]int
	edges       []Edge
}

// NewBuilder creates a builder for the given orientation.
func NewBuilder(orientation Orientation) *Builder {
	return &Builder{
		orientation: orientation,
		index:       make(map[string]int),
	}
}

// AddNode registers an account and returns its index.
func (b *Builder) AddNode(id string) int {
	if i, ok := b.index[id]; ok {
		return i
	}
	i := len(b.nodes)
	b.nodes = append(b.nodes, id)
	b.index[id] = i
	return i
}

// AddEdge registers a transfer from sender to receiver. Unknown accounts are
// added on the fly.
func (b *Builder) AddEdge(id int64, sender, receiver string, weight float64, step int) {
	from := b.AddNode(sender)
	to := b.AddNode(receiver)
	if b.orientation == Reverse {
		from, to = to, from
	}
	b.edges = append(b.edges, Edge{ID: id, From: from, To: to, Weight: weight, Step: step})
}

// Build freezes the builder into a Graph.
func (b *Builder) Build(name string) *Graph {
	n := len(b.nodes)
	g := &Graph{
		Name:        name,
		Orientation: b.orientation,
		nodes:       b.nodes,
		index:       b.index,
		edges:       b.edges,
		out:         make([][]int, n),
		in:          make([][]int, n),
	}
	for pos, e := range b.edges {
		g.out[e.From] = append(g.out[e.From], pos)
		g.in[e.To] = append(g.in[e.To], pos)
		if b.orientation == Undirected && e.From != e.To {
			g.out[e.To] = append(g.out[e.To], pos)
			g.in[e.From] = append(g.in[e.From], pos)
		}
	}
	return g
}

// Catalog holds named projections for the lifetime of a run.
type Catalog struct {
	mu     sync.RWMutex
	graphs map[string]*Graph
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{graphs: make(map[string]*Graph)}
}

// Put registers a projection, replacing any projection with the same name.
func (c *Catalog) Put(g *Graph) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.graphs[g.Name] = g
}

// Get returns a projection by name.
func (c *Catalog) Get(name string) (*Graph, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.graphs[name]
	return g, ok
}

// Drop removes a projection. It reports whether the projection existed.
func (c *Catalog) Drop(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.graphs[name]
	delete(c.graphs, name)
	return ok
}

// Names lists registered projections in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.graphs))
	for name := range c.graphs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DropAll removes every projection and returns how many were dropped.
func (c *Catalog) DropAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.graphs)
	c.graphs = make(map[string]*Graph)
	return n
}

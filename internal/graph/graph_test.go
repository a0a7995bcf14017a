package graph

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"
)

type testEdge struct {
	from, to string
	amount   float64
	step     int
}

func build(t *testing.T, orientation Orientation, edges ...testEdge) *Graph {
	t.Helper()
	b := NewBuilder(orientation)
	for i, e := range edges {
		b.AddEdge(int64(i+1), e.from, e.to, e.amount, e.step)
	}
	return b.Build("test")
}

func index(t *testing.T, g *Graph, id string) int {
	t.Helper()
	i, ok := g.Index(id)
	if !ok {
		t.Fatalf("node %s not in graph", id)
	}
	return i
}

func star(t *testing.T, orientation Orientation) *Graph {
	return build(t, orientation,
		testEdge{"A0", "A1", 1000, 1},
		testEdge{"A0", "A2", 1000, 1},
		testEdge{"A0", "A3", 1000, 1},
		testEdge{"A0", "A4", 1000, 1},
		testEdge{"A0", "A5", 1000, 1},
	)
}

func cycle4(t *testing.T) *Graph {
	return build(t, Natural,
		testEdge{"A", "B", 1000, 1},
		testEdge{"B", "C", 1020, 2},
		testEdge{"C", "D", 1010, 3},
		testEdge{"D", "A", 1005, 4},
	)
}

func TestBuilder_Orientation(t *testing.T) {
	t.Run("Natural", func(t *testing.T) {
		g := star(t, Natural)
		if g.NodeCount() != 6 || g.EdgeCount() != 5 {
			t.Fatalf("expected 6 nodes / 5 edges, got %d / %d", g.NodeCount(), g.EdgeCount())
		}
		if got := len(g.Out(index(t, g, "A0"))); got != 5 {
			t.Errorf("expected 5 outgoing, got %d", got)
		}
		if got := len(g.In(index(t, g, "A0"))); got != 0 {
			t.Errorf("expected 0 incoming, got %d", got)
		}
	})

	t.Run("Reverse", func(t *testing.T) {
		g := star(t, Reverse)
		if got := len(g.In(index(t, g, "A0"))); got != 5 {
			t.Errorf("expected 5 incoming, got %d", got)
		}
	})

	t.Run("Undirected", func(t *testing.T) {
		g := star(t, Undirected)
		a1 := index(t, g, "A1")
		if len(g.Out(a1)) != 1 || len(g.In(a1)) != 1 {
			t.Errorf("expected leaf to see its edge both ways")
		}
		if got := g.Neighbors(index(t, g, "A0")); len(got) != 5 {
			t.Errorf("expected 5 neighbours, got %v", got)
		}
	})
}

func TestCatalog(t *testing.T) {
	c := NewCatalog()
	c.Put(star(t, Natural))
	if _, ok := c.Get("test"); !ok {
		t.Fatal("expected projection to be registered")
	}
	if names := c.Names(); len(names) != 1 || names[0] != "test" {
		t.Errorf("unexpected names %v", names)
	}
	if !c.Drop("test") {
		t.Error("expected drop to report existing projection")
	}
	if c.Drop("test") {
		t.Error("second drop should report missing projection")
	}
	c.Put(star(t, Natural))
	if n := c.DropAll(); n != 1 {
		t.Errorf("expected 1 dropped, got %d", n)
	}
}

func TestWeightedDegree_Star(t *testing.T) {
	g := star(t, Natural)
	deg := WeightedDegree(g)
	if deg[index(t, g, "A0")] != 5000 {
		t.Errorf("expected hub degree 5000, got %f", deg[index(t, g, "A0")])
	}
	if deg[index(t, g, "A1")] != 0 {
		t.Errorf("expected leaf degree 0, got %f", deg[index(t, g, "A1")])
	}
}

func TestPageRank(t *testing.T) {
	t.Run("EmptyGraph", func(t *testing.T) {
		g := NewBuilder(Natural).Build("empty")
		result := PageRank(g, DefaultPageRankOptions())
		if len(result.Scores) != 0 || !result.Converged {
			t.Errorf("expected empty converged result")
		}
	})

	t.Run("SumsToOne", func(t *testing.T) {
		g := star(t, Natural)
		result := PageRank(g, DefaultPageRankOptions())
		sum := 0.0
		for _, s := range result.Scores {
			sum += s
		}
		if math.Abs(sum-1.0) > 1e-6 {
			t.Errorf("expected scores to sum to 1, got %f", sum)
		}
		if result.Iterations > 20 {
			t.Errorf("iteration cap exceeded: %d", result.Iterations)
		}
	})

	t.Run("ReceiversOutrankSender", func(t *testing.T) {
		g := star(t, Natural)
		scores := PageRank(g, DefaultPageRankOptions()).Scores
		if scores[index(t, g, "A1")] <= scores[index(t, g, "A0")] {
			t.Errorf("expected leaf rank above hub rank: leaf=%f hub=%f",
				scores[index(t, g, "A1")], scores[index(t, g, "A0")])
		}
	})

	t.Run("MatchesConvergedReference", func(t *testing.T) {
		edges := []testEdge{
			{"A", "B", 500, 1},
			{"A", "C", 100, 1},
			{"B", "C", 300, 2},
			{"C", "A", 200, 3},
			{"C", "D", 50, 3},
			{"D", "A", 75, 4},
			{"B", "D", 25, 5},
		}
		g := build(t, Natural, edges...)

		ref := simple.NewWeightedDirectedGraph(0, 0)
		for _, e := range edges {
			from, to := simple.Node(index(t, g, e.from)), simple.Node(index(t, g, e.to))
			ref.SetWeightedEdge(ref.NewWeightedEdge(from, to, e.amount))
		}
		want := network.PageRank(ref, 0.85, 1e-12)

		got := PageRank(g, PageRankOptions{DampingFactor: 0.85, MaxIterations: 200, Tolerance: 1e-14, Weighted: true})
		for i, score := range got.Scores {
			if math.Abs(score-want[int64(i)]) > 1e-6 {
				t.Errorf("node %s: got %f, reference %f", g.Node(i), score, want[int64(i)])
			}
		}
	})

	t.Run("WeightShiftsRank", func(t *testing.T) {
		g := build(t, Natural,
			testEdge{"S", "BIG", 900, 1},
			testEdge{"S", "SMALL", 100, 1},
		)
		scores := PageRank(g, DefaultPageRankOptions()).Scores
		if scores[index(t, g, "BIG")] <= scores[index(t, g, "SMALL")] {
			t.Errorf("expected heavier edge to carry more rank")
		}
	})
}

func TestHITS_Star(t *testing.T) {
	g := star(t, Natural)
	result := HITS(g, 20)
	hub := index(t, g, "A0")
	leaf := index(t, g, "A1")
	if result.Hubs[hub] <= result.Hubs[leaf] {
		t.Errorf("expected sender to be the hub")
	}
	if result.Authorities[leaf] <= result.Authorities[hub] {
		t.Errorf("expected receivers to be authorities")
	}
	if math.Abs(result.Hubs[hub]-1.0) > 1e-9 {
		t.Errorf("expected unit hub score after L2 normalisation, got %f", result.Hubs[hub])
	}
}

func TestBetweenness(t *testing.T) {
	t.Run("Path", func(t *testing.T) {
		g := build(t, Natural,
			testEdge{"A", "B", 1, 1},
			testEdge{"B", "C", 1, 2},
		)
		scores := Betweenness(g, BetweennessOptions{})
		if scores[index(t, g, "B")] != 1 {
			t.Errorf("expected middle node betweenness 1, got %f", scores[index(t, g, "B")])
		}
		if scores[index(t, g, "A")] != 0 || scores[index(t, g, "C")] != 0 {
			t.Errorf("expected endpoints to have 0 betweenness")
		}
	})

	t.Run("ParallelEdgesCountOnce", func(t *testing.T) {
		g := build(t, Natural,
			testEdge{"A", "B", 1, 1},
			testEdge{"A", "B", 1, 2},
			testEdge{"B", "C", 1, 3},
		)
		if got := Betweenness(g, BetweennessOptions{})[index(t, g, "B")]; got != 1 {
			t.Errorf("expected 1, got %f", got)
		}
	})

	t.Run("ExactMatchesAllSources", func(t *testing.T) {
		g := build(t, Natural,
			testEdge{"A", "B", 1, 1},
			testEdge{"B", "C", 1, 2},
			testEdge{"C", "A", 1, 3},
			testEdge{"C", "D", 1, 4},
			testEdge{"D", "E", 1, 5},
			testEdge{"B", "E", 1, 6},
			testEdge{"E", "A", 1, 7},
		)
		exact := Betweenness(g, BetweennessOptions{})
		all := brandes(g, identity(g.NodeCount()))
		for i := range exact {
			if math.Abs(exact[i]-all[i]) > 1e-9 {
				t.Errorf("node %s: exact %f, full accumulation %f", g.Node(i), exact[i], all[i])
			}
		}
	})

	t.Run("SampledIsRepeatable", func(t *testing.T) {
		g := cycle4(t)
		a := Betweenness(g, BetweennessOptions{SampleSize: 2, Seed: 42})
		b := Betweenness(g, BetweennessOptions{SampleSize: 2, Seed: 42})
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("sampled betweenness differs at %d: %f vs %f", i, a[i], b[i])
			}
		}
	})
}

func TestCoreNumbers(t *testing.T) {
	// Triangle A-B-C with a pendant D on C.
	g := build(t, Natural,
		testEdge{"A", "B", 1, 1},
		testEdge{"B", "C", 1, 1},
		testEdge{"C", "A", 1, 1},
		testEdge{"C", "D", 1, 1},
	)
	core := CoreNumbers(g)
	for _, id := range []string{"A", "B", "C"} {
		if core[index(t, g, id)] != 2 {
			t.Errorf("expected core 2 for %s, got %d", id, core[index(t, g, id)])
		}
	}
	if core[index(t, g, "D")] != 1 {
		t.Errorf("expected core 1 for D, got %d", core[index(t, g, "D")])
	}
}

func TestCountTriangles(t *testing.T) {
	g := build(t, Natural,
		testEdge{"A", "B", 1, 1},
		testEdge{"B", "C", 1, 1},
		testEdge{"A", "C", 1, 1},
		testEdge{"C", "D", 1, 1},
	)
	result := CountTriangles(g)
	if result.GlobalCount != 1 {
		t.Errorf("expected 1 triangle, got %d", result.GlobalCount)
	}
	if result.PerNode[index(t, g, "A")] != 1 || result.PerNode[index(t, g, "D")] != 0 {
		t.Errorf("unexpected per-node counts %v", result.PerNode)
	}
}

func TestCountShortCycles(t *testing.T) {
	t.Run("FourCycle", func(t *testing.T) {
		g := cycle4(t)
		result := CountShortCycles(g, CycleOptions{StepWindow: 20})
		if result.Cycles != 1 {
			t.Fatalf("expected 1 cycle, got %d", result.Cycles)
		}
		for _, id := range []string{"A", "B", "C", "D"} {
			if result.PerNode[index(t, g, id)] != 1 {
				t.Errorf("expected %s to be on one cycle", id)
			}
		}
	})

	t.Run("ThreeCycle", func(t *testing.T) {
		g := build(t, Natural,
			testEdge{"A", "B", 1, 1},
			testEdge{"B", "C", 1, 2},
			testEdge{"C", "A", 1, 3},
		)
		if got := CountShortCycles(g, CycleOptions{}).Cycles; got != 1 {
			t.Errorf("expected 1 cycle, got %d", got)
		}
	})

	t.Run("OutsideStepWindow", func(t *testing.T) {
		g := build(t, Natural,
			testEdge{"A", "B", 1, 1},
			testEdge{"B", "C", 1, 2},
			testEdge{"C", "A", 1, 50},
		)
		if got := CountShortCycles(g, CycleOptions{StepWindow: 20}).Cycles; got != 0 {
			t.Errorf("expected cycle outside window to be skipped, got %d", got)
		}
	})

	t.Run("SelfLoopIgnored", func(t *testing.T) {
		g := build(t, Natural, testEdge{"A", "A", 1, 1})
		if got := CountShortCycles(g, CycleOptions{}).Cycles; got != 0 {
			t.Errorf("expected self-loop to be ignored, got %d", got)
		}
	})

	t.Run("MaxCycles", func(t *testing.T) {
		g := build(t, Natural,
			testEdge{"A", "B", 1, 1},
			testEdge{"B", "A", 1, 1},
			testEdge{"B", "C", 1, 1},
			testEdge{"C", "A", 1, 1},
			testEdge{"C", "D", 1, 1},
			testEdge{"D", "A", 1, 1},
		)
		result := CountShortCycles(g, CycleOptions{MaxCycles: 1})
		if result.Cycles != 1 || !result.Truncated {
			t.Errorf("expected truncation after one cycle, got %+v", result)
		}
	})
}

func TestNodeSimilarity(t *testing.T) {
	// X and Y both pay R1 and R2; Z pays only R3.
	g := build(t, Natural,
		testEdge{"X", "R1", 1, 1},
		testEdge{"X", "R2", 1, 1},
		testEdge{"Y", "R1", 1, 1},
		testEdge{"Y", "R2", 1, 1},
		testEdge{"Z", "R3", 1, 1},
	)
	best := MaxSimilarity(g, DefaultSimilarityOptions())
	if best[index(t, g, "X")] != 1 || best[index(t, g, "Y")] != 1 {
		t.Errorf("expected identical neighbourhoods to score 1")
	}
	if best[index(t, g, "Z")] != 0 {
		t.Errorf("expected unrelated node to score 0, got %f", best[index(t, g, "Z")])
	}

	pairs := NodeSimilarity(g, SimilarityOptions{TopK: 5, Cutoff: 0.2, MaxPairs: 1}, func(SimilarityPair) bool { return true })
	if pairs != 1 {
		t.Errorf("expected stream to stop at MaxPairs, got %d", pairs)
	}
}

func TestLouvain(t *testing.T) {
	t.Run("TwoCliques", func(t *testing.T) {
		g := build(t, Natural,
			testEdge{"A", "B", 10, 1},
			testEdge{"B", "C", 10, 1},
			testEdge{"C", "A", 10, 1},
			testEdge{"D", "E", 10, 1},
			testEdge{"E", "F", 10, 1},
			testEdge{"F", "D", 10, 1},
			testEdge{"C", "D", 1, 1},
		)
		result := Louvain(g, DefaultLouvainOptions())
		c := result.Communities
		if c[index(t, g, "A")] != c[index(t, g, "B")] || c[index(t, g, "B")] != c[index(t, g, "C")] {
			t.Errorf("expected A,B,C together: %v", c)
		}
		if c[index(t, g, "D")] != c[index(t, g, "E")] || c[index(t, g, "E")] != c[index(t, g, "F")] {
			t.Errorf("expected D,E,F together: %v", c)
		}
		if c[index(t, g, "A")] == c[index(t, g, "D")] {
			t.Errorf("expected two communities: %v", c)
		}
		// two communities of internal weight 60 and degree 61 out of 2m = 122
		if want := 120.0/122.0 - 0.5; math.Abs(result.Modularity-want) > 1e-9 {
			t.Errorf("expected modularity %f, got %f", want, result.Modularity)
		}
		if result.Sizes[c[index(t, g, "A")]] != 3 {
			t.Errorf("expected community size 3, got %d", result.Sizes[c[index(t, g, "A")]])
		}
	})

	t.Run("NoEdges", func(t *testing.T) {
		b := NewBuilder(Natural)
		b.AddNode("A")
		b.AddNode("B")
		result := Louvain(b.Build("isolated"), DefaultLouvainOptions())
		if result.Communities[0] == result.Communities[1] {
			t.Errorf("expected isolated nodes to stay apart")
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		g := cycle4(t)
		a := Louvain(g, DefaultLouvainOptions()).Communities
		b := Louvain(g, DefaultLouvainOptions()).Communities
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("partition differs between runs: %v vs %v", a, b)
			}
		}
	})
}

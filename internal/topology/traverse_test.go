package topology

import (
	"context"
	"reflect"
	"testing"

	"topograph/internal/graphstore"
)

type countingSource struct {
	store *graphstore.Store
	calls int
}

func (c *countingSource) EdgesFrom(ctx context.Context, nodes []string, layers []string) ([]graphstore.Edge, error) {
	c.calls++
	return c.store.EdgesFrom(ctx, nodes, layers)
}

func buildStore(t *testing.T, edges []graphstore.Edge) *graphstore.Store {
	t.Helper()
	s := graphstore.New(graphstore.NewMemoryBackend(), graphstore.Options{})
	if err := s.Provider("test").UpdateEdges(context.Background(), edges, "1"); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return s
}

// root - a - c
//    \     /
//      b -    d (layer3 only, off root)
func sampleEdges() []graphstore.Edge {
	return []graphstore.Edge{
		{Source: "root", Target: "a", Layers: []string{"layer2"}},
		{Source: "b", Target: "root", Layers: []string{"layer2"}},
		{Source: "a", Target: "c", Layers: []string{"layer2"}},
		{Source: "c", Target: "b", Layers: []string{"layer2"}},
		{Source: "root", Target: "d", Layers: []string{"layer3"}},
	}
}

func TestTraverseDepthOne(t *testing.T) {
	src := &countingSource{store: buildStore(t, sampleEdges())}

	g, err := Traverse(context.Background(), src, "root", []string{"layer2"}, 1)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if !reflect.DeepEqual(g.Nodes, []string{"root", "a", "b"}) {
		t.Fatalf("unexpected nodes %v", g.Nodes)
	}
	for _, e := range g.Edges {
		if e.Source != "root" {
			t.Fatalf("expected root-first orientation, got %+v", e)
		}
	}
	if src.calls != 1 {
		t.Fatalf("expected 1 batched fetch, got %d", src.calls)
	}
}

func TestTraverseFullClosureBatchesPerIteration(t *testing.T) {
	src := &countingSource{store: buildStore(t, sampleEdges())}

	g, err := Traverse(context.Background(), src, "root", []string{"layer2"}, 0)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if len(g.Nodes) != 4 {
		t.Fatalf("expected 4 layer2 nodes, got %v", g.Nodes)
	}
	if len(g.Edges) != 4 {
		t.Fatalf("expected 4 deduplicated edges, got %+v", g.Edges)
	}
	// root -> {a,b} -> {c} -> {} : three round trips regardless of node count.
	if src.calls != 3 {
		t.Fatalf("expected 3 fetches, got %d", src.calls)
	}
	for _, e := range g.Edges {
		if e.Source == "c" {
			t.Fatalf("c was reached last and must never be a source: %+v", e)
		}
	}
}

func TestTraverseMergesLayersAndIncludesIsolatedRoot(t *testing.T) {
	s := buildStore(t, []graphstore.Edge{{Source: "x", Target: "y", Layers: []string{"layer2"}}})
	s.Provider("other").UpdateEdges(context.Background(), []graphstore.Edge{{Source: "y", Target: "x", Layers: []string{"lldp"}}}, "1")

	g, err := Traverse(context.Background(), s, "x", nil, 0)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if len(g.Edges) != 1 || !reflect.DeepEqual(g.Edges[0].Layers, []string{"layer2", "lldp"}) {
		t.Fatalf("expected one merged edge, got %+v", g.Edges)
	}

	lonely, err := Traverse(context.Background(), s, "nobody", nil, 3)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if !reflect.DeepEqual(lonely.Nodes, []string{"nobody"}) || len(lonely.Edges) != 0 {
		t.Fatalf("expected lone root, got %+v", lonely)
	}
}

// Package topology extracts bounded subgraphs from the graph store.
package topology

import (
	"context"
	"fmt"

	"topograph/internal/graphstore"
)

// EdgeSource fetches the merged edges touching a batch of nodes in one call.
// *graphstore.Store implements it.
type EdgeSource interface {
	EdgesFrom(ctx context.Context, nodes []string, layers []string) ([]graphstore.Edge, error)
}

// Graph is a traversal result. Nodes are in discovery order with the root
// first; each edge's Source is the endpoint that was reached first.
type Graph struct {
	Root  string            `json:"root"`
	Nodes []string          `json:"nodes"`
	Edges []graphstore.Edge `json:"edges"`
}

type pair struct{ a, b string }

func unordered(a, b string) pair {
	if b < a {
		return pair{b, a}
	}
	return pair{a, b}
}

// Traverse expands breadth-first from root over edges in layers, fetching each
// frontier with a single EdgesFrom call. depth <= 0 expands until the frontier
// is empty. Empty layers matches every layer.
func Traverse(ctx context.Context, src EdgeSource, root string, layers []string, depth int) (*Graph, error) {
	g := &Graph{Root: root, Nodes: []string{root}}
	seen := map[string]struct{}{root: {}}
	edgeIndex := make(map[pair]int)
	frontier := []string{root}

	for d := 0; len(frontier) > 0 && (depth <= 0 || d < depth); d++ {
		edges, err := src.EdgesFrom(ctx, frontier, layers)
		if err != nil {
			return nil, fmt.Errorf("traverse %s at depth %d: %w", root, d+1, err)
		}

		var next []string
		for _, e := range edges {
			if _, ok := seen[e.Source]; !ok {
				e = e.Reversed()
			}
			key := unordered(e.Source, e.Target)
			if i, ok := edgeIndex[key]; ok {
				g.Edges[i].Layers = graphstore.MergeLayers(g.Edges[i].Layers, e.Layers)
			} else {
				edgeIndex[key] = len(g.Edges)
				g.Edges = append(g.Edges, graphstore.Edge{
					Source: e.Source,
					Target: e.Target,
					Layers: append([]string(nil), e.Layers...),
				})
			}
			if _, ok := seen[e.Target]; !ok {
				seen[e.Target] = struct{}{}
				g.Nodes = append(g.Nodes, e.Target)
				next = append(next, e.Target)
			}
		}
		frontier = next
	}
	return g, nil
}

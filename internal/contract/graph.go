package contract

import "topograph/internal/topology"

// FromTopology converts a traversal result into contractor input. Topology
// edges are undirected. important decides which entities must survive; the
// traversal root is always important.
func FromTopology(g *topology.Graph, important func(id string) bool) ([]Node, []Edge) {
	index := make(map[string]int, len(g.Nodes))
	nodes := make([]Node, 0, len(g.Nodes))
	for _, id := range g.Nodes {
		index[id] = len(nodes)
		nodes = append(nodes, Node{ID: id, Important: id == g.Root || (important != nil && important(id))})
	}
	edges := make([]Edge, 0, len(g.Edges))
	for _, e := range g.Edges {
		s, ok1 := index[e.Source]
		t, ok2 := index[e.Target]
		if !ok1 || !ok2 {
			continue
		}
		edges = append(edges, Edge{Source: s, Target: t})
	}
	return nodes, edges
}

// Package contract simplifies a topology graph down to its structurally
// important nodes plus the minimal structure connecting them.
package contract

import (
	"sort"
	"strconv"
	"strings"
)

// Node is a graph node. Important nodes are never removed or merged.
type Node struct {
	ID        string `json:"id"`
	Important bool   `json:"important,omitempty"`
}

// Edge references nodes by their position in the node slice.
type Edge struct {
	Source   int  `json:"source"`
	Target   int  `json:"target"`
	Directed bool `json:"directed,omitempty"`
}

type workEdge struct {
	Edge
	alive bool
}

type workGraph struct {
	nodes []Node
	alive []bool
	edges []workEdge
}

// Contract repeatedly joins chains of unimportant nodes, prunes unimportant
// leaves and drops redundant parallel connectors until nothing changes. The
// result is re-indexed to a contiguous range with duplicate edges collapsed.
// Edges referencing out-of-range nodes and self-loops are ignored.
func Contract(nodes []Node, edges []Edge) ([]Node, []Edge) {
	g := &workGraph{
		nodes: append([]Node(nil), nodes...),
		alive: make([]bool, len(nodes)),
	}
	for i := range g.alive {
		g.alive[i] = true
	}
	for _, e := range edges {
		if e.Source < 0 || e.Target < 0 || e.Source >= len(nodes) || e.Target >= len(nodes) || e.Source == e.Target {
			continue
		}
		g.edges = append(g.edges, workEdge{Edge: e, alive: true})
	}
	g.dedupeEdges()

	for {
		changed := g.joinUnimportant()
		if g.pruneLeaves() {
			changed = true
		}
		if g.dropParallelConnectors() {
			changed = true
		}
		if !changed {
			break
		}
	}
	return g.compact()
}

func (g *workGraph) unimportant(n int) bool {
	return g.alive[n] && !g.nodes[n].Important
}

// adjacency returns the in- and out-neighbor sets of n. An undirected edge
// counts in both directions.
func (g *workGraph) adjacency(n int) (in, out map[int]struct{}) {
	in = make(map[int]struct{})
	out = make(map[int]struct{})
	for _, e := range g.edges {
		if !e.alive {
			continue
		}
		switch {
		case e.Source == n:
			out[e.Target] = struct{}{}
			if !e.Directed {
				in[e.Target] = struct{}{}
			}
		case e.Target == n:
			in[e.Source] = struct{}{}
			if !e.Directed {
				out[e.Source] = struct{}{}
			}
		}
	}
	return in, out
}

func (g *workGraph) incident(n int) []int {
	var idx []int
	for i, e := range g.edges {
		if e.alive && (e.Source == n || e.Target == n) {
			idx = append(idx, i)
		}
	}
	return idx
}

func (g *workGraph) hasImportantNeighbor(n int) bool {
	in, out := g.adjacency(n)
	for m := range in {
		if g.nodes[m].Important {
			return true
		}
	}
	for m := range out {
		if g.nodes[m].Important {
			return true
		}
	}
	return false
}

// joinUnimportant merges adjacent unimportant pairs where at least one side
// has no important neighbor. The side without an important neighbor is the
// one removed.
func (g *workGraph) joinUnimportant() bool {
	merged := false
	for {
		found := false
		for _, e := range g.edges {
			if !e.alive || !g.unimportant(e.Source) || !g.unimportant(e.Target) {
				continue
			}
			srcImp := g.hasImportantNeighbor(e.Source)
			dstImp := g.hasImportantNeighbor(e.Target)
			if srcImp && dstImp {
				continue
			}
			keep, remove := e.Source, e.Target
			if !srcImp && dstImp {
				keep, remove = e.Target, e.Source
			}
			g.merge(keep, remove)
			found = true
			break
		}
		if !found {
			return merged
		}
		merged = true
	}
}

func (g *workGraph) merge(keep, remove int) {
	for i := range g.edges {
		e := &g.edges[i]
		if !e.alive {
			continue
		}
		if e.Source == remove {
			e.Source = keep
		}
		if e.Target == remove {
			e.Target = keep
		}
		if e.Source == e.Target {
			e.alive = false
		}
	}
	g.alive[remove] = false
	g.dedupeEdges()
}

// pruneLeaves removes unimportant nodes with at most one incident edge, and
// unimportant nodes whose only connections run back and forth to a single
// neighbor.
func (g *workGraph) pruneLeaves() bool {
	pruned := false
	for n := range g.nodes {
		if !g.unimportant(n) {
			continue
		}
		inc := g.incident(n)
		if len(inc) > 1 {
			in, out := g.adjacency(n)
			if len(in) != 1 || !sameSet(in, out) {
				continue
			}
		}
		for _, i := range inc {
			g.edges[i].alive = false
		}
		g.alive[n] = false
		pruned = true
	}
	return pruned
}

// dropParallelConnectors keeps only the first of several unimportant nodes
// that connect exactly the same neighbors in the same directions.
func (g *workGraph) dropParallelConnectors() bool {
	seen := make(map[string]struct{})
	dropped := false
	for n := range g.nodes {
		if !g.unimportant(n) {
			continue
		}
		in, out := g.adjacency(n)
		sig := setKey(in) + "|" + setKey(out)
		if _, ok := seen[sig]; !ok {
			seen[sig] = struct{}{}
			continue
		}
		for _, i := range g.incident(n) {
			g.edges[i].alive = false
		}
		g.alive[n] = false
		dropped = true
	}
	return dropped
}

type edgeKey struct {
	a, b     int
	directed bool
}

func keyOf(e Edge) edgeKey {
	if !e.Directed && e.Target < e.Source {
		return edgeKey{e.Target, e.Source, false}
	}
	return edgeKey{e.Source, e.Target, e.Directed}
}

func (g *workGraph) dedupeEdges() {
	seen := make(map[edgeKey]struct{}, len(g.edges))
	for i := range g.edges {
		if !g.edges[i].alive {
			continue
		}
		k := keyOf(g.edges[i].Edge)
		if _, ok := seen[k]; ok {
			g.edges[i].alive = false
			continue
		}
		seen[k] = struct{}{}
	}
}

func (g *workGraph) compact() ([]Node, []Edge) {
	index := make(map[int]int, len(g.nodes))
	nodes := make([]Node, 0, len(g.nodes))
	for i, n := range g.nodes {
		if g.alive[i] {
			index[i] = len(nodes)
			nodes = append(nodes, n)
		}
	}
	edges := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		if !e.alive {
			continue
		}
		edges = append(edges, Edge{Source: index[e.Source], Target: index[e.Target], Directed: e.Directed})
	}
	return nodes, edges
}

func sameSet(a, b map[int]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func setKey(s map[int]struct{}) string {
	ids := make([]int, 0, len(s))
	for k := range s {
		ids = append(ids, k)
	}
	sort.Ints(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

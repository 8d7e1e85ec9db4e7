package contract

import (
	"reflect"
	"strings"
	"testing"

	"topograph/internal/graphstore"
	"topograph/internal/topology"
)

func ids(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestContractChainDropsInteriorNode(t *testing.T) {
	nodes := []Node{{ID: "A", Important: true}, {ID: "1"}, {ID: "2"}, {ID: "3"}, {ID: "B", Important: true}}
	edges := []Edge{{Source: 0, Target: 1}, {Source: 1, Target: 2}, {Source: 2, Target: 3}, {Source: 3, Target: 4}}

	gotNodes, gotEdges := Contract(nodes, edges)

	if !reflect.DeepEqual(ids(gotNodes), []string{"A", "1", "3", "B"}) {
		t.Fatalf("unexpected nodes %v", ids(gotNodes))
	}
	want := []Edge{{Source: 0, Target: 1}, {Source: 1, Target: 2}, {Source: 2, Target: 3}}
	if !reflect.DeepEqual(gotEdges, want) {
		t.Fatalf("unexpected edges %+v", gotEdges)
	}
}

func TestContractLongChainKeepsOneNodeNextToEachImportantEnd(t *testing.T) {
	nodes := []Node{{ID: "A", Important: true}, {ID: "1"}, {ID: "2"}, {ID: "3"}, {ID: "4"}, {ID: "5"}, {ID: "B", Important: true}}
	var edges []Edge
	for i := 0; i < len(nodes)-1; i++ {
		edges = append(edges, Edge{Source: i, Target: i + 1})
	}

	gotNodes, gotEdges := Contract(nodes, edges)
	if len(gotNodes) != 4 || len(gotEdges) != 3 {
		t.Fatalf("expected 4 nodes and 3 edges, got %v %+v", ids(gotNodes), gotEdges)
	}
	if gotNodes[0].ID != "A" || gotNodes[3].ID != "B" {
		t.Fatalf("important ends must survive, got %v", ids(gotNodes))
	}
}

func TestContractStarLeavesOnlyImportantNode(t *testing.T) {
	nodes := []Node{{ID: "hub", Important: true}, {ID: "l1"}, {ID: "l2"}}
	edges := []Edge{{Source: 0, Target: 1}, {Source: 2, Target: 0}}

	gotNodes, gotEdges := Contract(nodes, edges)
	if !reflect.DeepEqual(ids(gotNodes), []string{"hub"}) || len(gotEdges) != 0 {
		t.Fatalf("expected lone hub, got %v %+v", ids(gotNodes), gotEdges)
	}
}

func TestContractAllUnimportantIsEmpty(t *testing.T) {
	nodes := []Node{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	edges := []Edge{{Source: 0, Target: 1}, {Source: 1, Target: 2}, {Source: 2, Target: 0}, {Source: 2, Target: 3, Directed: true}}

	gotNodes, gotEdges := Contract(nodes, edges)
	if len(gotNodes) != 0 || len(gotEdges) != 0 {
		t.Fatalf("expected empty graph, got %v %+v", ids(gotNodes), gotEdges)
	}
}

func TestContractDropsParallelConnectors(t *testing.T) {
	nodes := []Node{{ID: "A", Important: true}, {ID: "u1"}, {ID: "u2"}, {ID: "u3"}, {ID: "B", Important: true}}
	edges := []Edge{
		{Source: 0, Target: 1}, {Source: 1, Target: 4},
		{Source: 0, Target: 2}, {Source: 2, Target: 4},
		{Source: 0, Target: 3}, {Source: 3, Target: 4},
	}

	gotNodes, gotEdges := Contract(nodes, edges)
	if !reflect.DeepEqual(ids(gotNodes), []string{"A", "u1", "B"}) {
		t.Fatalf("expected only the first connector, got %v", ids(gotNodes))
	}
	want := []Edge{{Source: 0, Target: 1}, {Source: 1, Target: 2}}
	if !reflect.DeepEqual(gotEdges, want) {
		t.Fatalf("unexpected edges %+v", gotEdges)
	}
}

func TestContractKeepsConnectorsWithDifferentDirections(t *testing.T) {
	nodes := []Node{{ID: "A", Important: true}, {ID: "u1"}, {ID: "u2"}, {ID: "B", Important: true}}
	edges := []Edge{
		{Source: 0, Target: 1, Directed: true}, {Source: 1, Target: 3, Directed: true},
		{Source: 3, Target: 2, Directed: true}, {Source: 2, Target: 0, Directed: true},
	}

	gotNodes, gotEdges := Contract(nodes, edges)
	if len(gotNodes) != 4 || len(gotEdges) != 4 {
		t.Fatalf("expected directional connectors to survive, got %v %+v", ids(gotNodes), gotEdges)
	}
}

func TestContractPrunesBidirectionalPendant(t *testing.T) {
	nodes := []Node{{ID: "A", Important: true}, {ID: "B", Important: true}, {ID: "p"}}
	edges := []Edge{
		{Source: 0, Target: 1},
		{Source: 0, Target: 2, Directed: true},
		{Source: 2, Target: 0, Directed: true},
	}

	gotNodes, gotEdges := Contract(nodes, edges)
	if !reflect.DeepEqual(ids(gotNodes), []string{"A", "B"}) {
		t.Fatalf("expected pendant to be pruned, got %v", ids(gotNodes))
	}
	if !reflect.DeepEqual(gotEdges, []Edge{{Source: 0, Target: 1}}) {
		t.Fatalf("unexpected edges %+v", gotEdges)
	}
}

func TestContractCollapsesDuplicateEdges(t *testing.T) {
	nodes := []Node{{ID: "A", Important: true}, {ID: "B", Important: true}}
	edges := []Edge{{Source: 0, Target: 1}, {Source: 1, Target: 0}, {Source: 0, Target: 1}, {Source: 0, Target: 0}}

	_, gotEdges := Contract(nodes, edges)
	if len(gotEdges) != 1 {
		t.Fatalf("expected a single edge, got %+v", gotEdges)
	}
}

func TestFromTopologyMarksRootAndImportantNodes(t *testing.T) {
	g := &topology.Graph{
		Root:  "/dev/host",
		Nodes: []string{"/dev/host", "aa:bb", "/dev/switch", "cc:dd"},
		Edges: []graphstore.Edge{
			{Source: "/dev/host", Target: "aa:bb", Layers: []string{"layer2"}},
			{Source: "aa:bb", Target: "/dev/switch", Layers: []string{"layer2"}},
			{Source: "/dev/switch", Target: "cc:dd", Layers: []string{"layer2"}},
		},
	}

	nodes, edges := FromTopology(g, func(id string) bool { return strings.HasPrefix(id, "/") })
	contractedNodes, contractedEdges := Contract(nodes, edges)

	if !reflect.DeepEqual(ids(contractedNodes), []string{"/dev/host", "aa:bb", "/dev/switch"}) {
		t.Fatalf("unexpected contracted nodes %v", ids(contractedNodes))
	}
	if len(contractedEdges) != 2 {
		t.Fatalf("expected 2 edges, got %+v", contractedEdges)
	}
}

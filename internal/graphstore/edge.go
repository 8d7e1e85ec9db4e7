package graphstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidEdge is returned by UpdateEdges when an edge has an empty endpoint,
// connects a node to itself, or carries no layers.
var ErrInvalidEdge = errors.New("invalid edge")

// Edge is an undirected, layer-tagged connection between two entities.
type Edge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Layers []string `json:"layers"`
}

// ProviderInfo describes one provider's contribution.
type ProviderInfo struct {
	ID          string `json:"id"`
	LastChanged string `json:"last_changed"`
}

// Row is the storage form of an edge: one row per (provider, pair, layer).
// Source and Target are always in lexicographic order.
type Row struct {
	Source string
	Target string
	Layer  string
}

// HasLayer reports whether the edge carries layer.
func (e Edge) HasLayer(layer string) bool {
	i := sort.SearchStrings(e.Layers, layer)
	return i < len(e.Layers) && e.Layers[i] == layer
}

// Reversed returns the edge with its endpoints swapped.
func (e Edge) Reversed() Edge {
	return Edge{Source: e.Target, Target: e.Source, Layers: e.Layers}
}

// validateEdges checks every edge and flattens the set into canonical rows,
// dropping duplicates.
func validateEdges(edges []Edge) ([]Row, error) {
	seen := make(map[Row]struct{}, len(edges))
	rows := make([]Row, 0, len(edges))
	for i, e := range edges {
		src := strings.TrimSpace(e.Source)
		dst := strings.TrimSpace(e.Target)
		if src == "" || dst == "" {
			return nil, fmt.Errorf("%w: edge %d has an empty endpoint", ErrInvalidEdge, i)
		}
		if src == dst {
			return nil, fmt.Errorf("%w: edge %d connects %q to itself", ErrInvalidEdge, i, src)
		}
		layers := normalizeLayers(e.Layers)
		if len(layers) == 0 {
			return nil, fmt.Errorf("%w: edge %d (%s, %s) has no layers", ErrInvalidEdge, i, src, dst)
		}
		if dst < src {
			src, dst = dst, src
		}
		for _, l := range layers {
			r := Row{Source: src, Target: dst, Layer: l}
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			rows = append(rows, r)
		}
	}
	return rows, nil
}

func normalizeLayers(layers []string) []string {
	out := make([]string, 0, len(layers))
	for _, l := range layers {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return sortedUnique(out)
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return in
	}
	sort.Strings(in)
	out := in[:1]
	for _, v := range in[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

type pairKey struct{ a, b string }

// mergeRows collapses rows into one edge per unordered pair with the union of
// layers. Edges keep the canonical orientation; output is sorted.
func mergeRows(rows []Row) []Edge {
	layers := make(map[pairKey][]string)
	order := make([]pairKey, 0)
	for _, r := range rows {
		k := pairKey{r.Source, r.Target}
		if k.b < k.a {
			k = pairKey{k.b, k.a}
		}
		if _, ok := layers[k]; !ok {
			order = append(order, k)
		}
		layers[k] = append(layers[k], r.Layer)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].a != order[j].a {
			return order[i].a < order[j].a
		}
		return order[i].b < order[j].b
	})
	out := make([]Edge, 0, len(order))
	for _, k := range order {
		out = append(out, Edge{Source: k.a, Target: k.b, Layers: sortedUnique(layers[k])})
	}
	return out
}

// MergeLayers returns the sorted union of two layer sets.
func MergeLayers(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return sortedUnique(out)
}

func layerFilter(layers []string) map[string]struct{} {
	layers = normalizeLayers(append([]string(nil), layers...))
	if len(layers) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(layers))
	for _, l := range layers {
		m[l] = struct{}{}
	}
	return m
}

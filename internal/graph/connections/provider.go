// Package connections turns discovery records into layer-tagged edges.
package connections

import (
	"fmt"
	"sort"
	"strings"

	"topograph/internal/graphstore"
	"topograph/internal/logger"
	"topograph/pkg/models"
)

const (
	LayerL2 = "layer2"
	LayerL3 = "layer3"

	KindDevice  = "device"
	KindNetwork = "network"
)

// ConnectionsProvider maps what was discovered about one entity to edges.
type ConnectionsProvider interface {
	Connections(d *models.Discovery) []graphstore.Edge
}

// DeviceProvider connects a device to its interface MACs, the MACs learned on
// those interfaces, its discovery-protocol neighbors and its IP networks.
type DeviceProvider struct{}

// NetworkProvider connects a network segment to its member entities.
type NetworkProvider struct{}

// ForKind selects the provider for an entity kind.
func ForKind(kind string) (ConnectionsProvider, bool) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindDevice, "":
		return DeviceProvider{}, true
	case KindNetwork:
		return NetworkProvider{}, true
	default:
		return nil, false
	}
}

// Connections implements ConnectionsProvider.
func (DeviceProvider) Connections(d *models.Discovery) []graphstore.Edge {
	if d == nil || strings.TrimSpace(d.Entity) == "" {
		return nil
	}
	device := strings.TrimSpace(d.Entity)
	b := newBuilder()

	for _, iface := range d.Interfaces {
		mac := MACVertexID(iface.MAC)
		if mac == "" {
			continue
		}
		layers := append([]string{LayerL2}, vlanLayers(iface.VLANs)...)
		b.add(device, mac, layers...)
		for _, client := range iface.ClientMACs {
			b.add(mac, MACVertexID(client), layers...)
		}
	}

	for _, n := range d.Neighbors {
		layer := strings.ToLower(strings.TrimSpace(n.Protocol))
		if layer == "" {
			continue
		}
		if peer := strings.TrimSpace(n.Device); peer != "" {
			b.add(device, peer, layer)
		} else if mac := MACVertexID(n.MAC); mac != "" {
			b.add(device, mac, layer)
		}
	}

	for _, network := range d.Networks {
		b.add(device, strings.TrimSpace(network), LayerL3)
	}
	return b.edges()
}

// Connections implements ConnectionsProvider.
func (NetworkProvider) Connections(d *models.Discovery) []graphstore.Edge {
	if d == nil || strings.TrimSpace(d.Entity) == "" {
		return nil
	}
	network := strings.TrimSpace(d.Entity)
	b := newBuilder()
	for _, member := range d.Members {
		b.add(network, strings.TrimSpace(member), LayerL3)
	}
	return b.edges()
}

// Collect maps a batch of discovery records into one edge snapshot. Records
// of unknown kinds are skipped.
func Collect(records []*models.Discovery) []graphstore.Edge {
	b := newBuilder()
	for _, d := range records {
		if d == nil {
			continue
		}
		p, ok := ForKind(d.Kind)
		if !ok {
			logger.Warnf("Skipping discovery record of unknown kind %q (entity=%s)", d.Kind, d.Entity)
			continue
		}
		for _, e := range p.Connections(d) {
			b.add(e.Source, e.Target, e.Layers...)
		}
	}
	return b.edges()
}

// MACVertexID normalizes a MAC address to lower-case colon-separated form.
func MACVertexID(mac string) string {
	var hex strings.Builder
	for _, r := range strings.ToLower(mac) {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f':
			hex.WriteRune(r)
		case r == ':' || r == '-' || r == '.':
		default:
			return ""
		}
	}
	h := hex.String()
	if len(h) != 12 {
		return ""
	}
	parts := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		parts = append(parts, h[i:i+2])
	}
	return strings.Join(parts, ":")
}

func vlanLayers(vlans []int) []string {
	out := make([]string, 0, len(vlans))
	for _, v := range vlans {
		if v > 0 {
			out = append(out, fmt.Sprintf("vlan%d", v))
		}
	}
	return out
}

// builder merges layers of repeated pairs and drops edges the graph store
// would reject.
type builder struct {
	index map[[2]string]int
	out   []graphstore.Edge
}

func newBuilder() *builder {
	return &builder{index: make(map[[2]string]int)}
}

func (b *builder) add(a, c string, layers ...string) {
	if a == "" || c == "" || a == c || len(layers) == 0 {
		return
	}
	if c < a {
		a, c = c, a
	}
	key := [2]string{a, c}
	if i, ok := b.index[key]; ok {
		b.out[i].Layers = graphstore.MergeLayers(b.out[i].Layers, layers)
		return
	}
	b.index[key] = len(b.out)
	b.out = append(b.out, graphstore.Edge{Source: a, Target: c, Layers: graphstore.MergeLayers(nil, layers)})
}

func (b *builder) edges() []graphstore.Edge {
	sort.Slice(b.out, func(i, j int) bool {
		if b.out[i].Source != b.out[j].Source {
			return b.out[i].Source < b.out[j].Source
		}
		return b.out[i].Target < b.out[j].Target
	})
	return b.out
}

package connections

import (
	"reflect"
	"testing"

	"topograph/internal/graphstore"
	"topograph/pkg/models"
)

func TestDeviceProviderMapsInterfacesAndNeighbors(t *testing.T) {
	d := &models.Discovery{
		Entity: "/Devices/sw1",
		Kind:   "device",
		Interfaces: []models.InterfaceInfo{
			{Name: "eth0", MAC: "00-1A-2B-3C-4D-5E", VLANs: []int{10, 20}, ClientMACs: []string{"0011.2233.4455"}},
			{Name: "bad", MAC: "not-a-mac"},
		},
		Neighbors: []models.NeighborRecord{
			{Protocol: "LLDP", Device: "/Devices/core"},
			{Protocol: "cdp", MAC: "aa:bb:cc:dd:ee:ff"},
			{Protocol: "", Device: "/Devices/ignored"},
		},
		Networks: []string{"/Networks/10.0.0.0_24"},
	}

	got := DeviceProvider{}.Connections(d)
	want := []graphstore.Edge{
		{Source: "/Devices/core", Target: "/Devices/sw1", Layers: []string{"lldp"}},
		{Source: "/Devices/sw1", Target: "/Networks/10.0.0.0_24", Layers: []string{"layer3"}},
		{Source: "/Devices/sw1", Target: "00:1a:2b:3c:4d:5e", Layers: []string{"layer2", "vlan10", "vlan20"}},
		{Source: "/Devices/sw1", Target: "aa:bb:cc:dd:ee:ff", Layers: []string{"cdp"}},
		{Source: "00:11:22:33:44:55", Target: "00:1a:2b:3c:4d:5e", Layers: []string{"layer2", "vlan10", "vlan20"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected edges:\n got %+v\nwant %+v", got, want)
	}
}

func TestCollectMergesProvidersAndSkipsUnknownKinds(t *testing.T) {
	records := []*models.Discovery{
		{Entity: "/Devices/r1", Kind: "device", Networks: []string{"/Networks/a"}},
		{Entity: "/Networks/a", Kind: "network", Members: []string{"/Devices/r1", "/Devices/r2", "/Networks/a"}},
		{Entity: "/Other/x", Kind: "printer", Members: []string{"/Devices/r1"}},
		nil,
	}

	got := Collect(records)
	want := []graphstore.Edge{
		{Source: "/Devices/r1", Target: "/Networks/a", Layers: []string{"layer3"}},
		{Source: "/Devices/r2", Target: "/Networks/a", Layers: []string{"layer3"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected edges:\n got %+v\nwant %+v", got, want)
	}
}

func TestMACVertexID(t *testing.T) {
	cases := map[string]string{
		"00:1A:2B:3C:4D:5E": "00:1a:2b:3c:4d:5e",
		"001a.2b3c.4d5e":    "00:1a:2b:3c:4d:5e",
		"00-1a-2b":          "",
		"zz:1a:2b:3c:4d:5e": "",
	}
	for in, want := range cases {
		if got := MACVertexID(in); got != want {
			t.Fatalf("MACVertexID(%q) = %q, want %q", in, got, want)
		}
	}
}

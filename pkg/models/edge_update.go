package models

import "time"

// EdgeUpdate is one provider's complete edge snapshot as published on the edge feed.
type EdgeUpdate struct {
	Provider string       `json:"provider"`
	Version  string       `json:"version"`
	Edges    []EdgeRecord `json:"edges"`
}

// EdgeRecord is a single undirected connection carried by an EdgeUpdate.
type EdgeRecord struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Layers []string `json:"layers"`
}

// Discovery is what a collector learned about one entity in one polling cycle.
// It is turned into edges by a connections provider.
type Discovery struct {
	Timestamp  time.Time        `json:"ts"`
	Entity     string           `json:"entity"`
	Kind       string           `json:"kind"` // device or network
	Interfaces []InterfaceInfo  `json:"interfaces,omitempty"`
	Neighbors  []NeighborRecord `json:"neighbors,omitempty"`
	Networks   []string         `json:"networks,omitempty"`
	Members    []string         `json:"members,omitempty"`
}

// InterfaceInfo describes one interface of a discovered device.
type InterfaceInfo struct {
	Name       string   `json:"name,omitempty"`
	MAC        string   `json:"mac"`
	VLANs      []int    `json:"vlans,omitempty"`
	ClientMACs []string `json:"client_macs,omitempty"`
}

// NeighborRecord is a discovery-protocol neighbor seen on a device.
type NeighborRecord struct {
	Protocol string `json:"protocol"` // lldp or cdp
	Device   string `json:"device,omitempty"`
	MAC      string `json:"mac,omitempty"`
}

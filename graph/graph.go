// Package graph is the shared data model for the network graph: a set
// of node names plus directed node↔topic and node↔service links.
// Used by both the resolver (owner of the authoritative graph) and the
// resolver client (consumer of GetGraph snapshots / the `graph` topic).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package graph

// Link is one directed node↔topic or node↔service edge.
//
//   - Reverse=false: the node publishes the topic / offers the service.
//   - Reverse=true: the node subscribes to the topic / uses the service.
type Link struct {
	Node    string `json:"node"`
	Other   string `json:"other"`
	Reverse bool   `json:"reverse"`
}

// Graph is an immutable snapshot: the node set, plus the two edge sets.
// Rev is a monotonically increasing snapshot counter, bumped every time
// the resolver takes a snapshot (each republish and each GetGraph
// reply); there are no deltas, only full snapshots.
type Graph struct {
	Rev         uint64  `json:"rev"`
	Nodes       []string `json:"nodes"`
	NodeTopic   []Link   `json:"node_topic"`
	NodeService []Link   `json:"node_service"`
}

// HasNode reports whether name is present in the node set.
func (g *Graph) HasNode(name string) bool {
	for _, n := range g.Nodes {
		if n == name {
			return true
		}
	}
	return false
}

// store is the resolver's in-memory name registry and graph: node
// entries, service entries, and the node↔topic / node↔service edge
// sets, all guarded by one mutex. The store is consistent within a
// single request, not across them — an eventually-consistent invariant.
//
// Single lock, copy-on-read snapshot for GetGraph, the same mutation
// discipline a cluster membership map uses.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package resolver

import (
	"fmt"
	"sync"
	"time"

	"github.com/b0platform/b0/cmn/debug"
	"github.com/b0platform/b0/graph"
)

type nodeKey struct {
	Host    string
	Process int
	Thread  string
}

type nodeEntry struct {
	Name     string
	Key      nodeKey
	LastSeen time.Time
	Services map[string]struct{}
}

type serviceEntry struct {
	Name    string
	Node    string
	Address string
}

type edgeKey struct {
	Node, Other string
	Reverse     bool
}

type store struct {
	mu sync.Mutex

	nodes    map[string]*nodeEntry
	byKey    map[nodeKey]string
	services map[string]*serviceEntry

	nodeTopic   map[edgeKey]struct{}
	nodeService map[edgeKey]struct{}

	rev uint64
}

func newStore() *store {
	return &store{
		nodes:       make(map[string]*nodeEntry),
		byKey:       make(map[nodeKey]string),
		services:    make(map[string]*serviceEntry),
		nodeTopic:   make(map[edgeKey]struct{}),
		nodeService: make(map[edgeKey]struct{}),
	}
}

// makeUnique returns name if free, else the first "name-k" (k=1,2,...)
// not already taken. "node" is reserved, counted as always taken.
func (s *store) makeUnique(name string) string {
	taken := func(n string) bool {
		if n == "node" {
			return true
		}
		_, ok := s.nodes[n]
		return ok
	}
	if !taken(name) {
		return name
	}
	for k := 1; ; k++ {
		cand := fmt.Sprintf("%s-%d", name, k)
		if !taken(cand) {
			return cand
		}
	}
}

// announceNode creates a node entry, rejecting a double-announce from
// the same (host, process, thread) triple.
func (s *store) announceNode(requested, host string, pid int, thread string) (assigned string, ok bool, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := nodeKey{Host: host, Process: pid, Thread: thread}
	if _, exists := s.byKey[key]; exists {
		return "", false, "node already announced from this (host, process, thread)"
	}

	assigned = s.makeUnique(requested)
	s.nodes[assigned] = &nodeEntry{
		Name:     assigned,
		Key:      key,
		LastSeen: time.Now(),
		Services: make(map[string]struct{}),
	}
	s.byKey[key] = assigned
	return assigned, true, ""
}

// shutdownNode removes a node entry and every service/edge it owned,
// reporting whether the graph changed.
func (s *store) shutdownNode(name string) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeLocked(name)
}

func (s *store) purgeLocked(name string) (changed bool) {
	n, ok := s.nodes[name]
	if !ok {
		return false
	}
	delete(s.nodes, name)
	delete(s.byKey, n.Key)
	for svc := range n.Services {
		delete(s.services, svc)
	}
	for k := range s.nodeTopic {
		if k.Node == name {
			delete(s.nodeTopic, k)
			changed = true
		}
	}
	for k := range s.nodeService {
		if k.Node == name {
			delete(s.nodeService, k)
			changed = true
		}
	}
	return true
}

// announceService registers a service, implementing the Open Question
// (i) resolution: purge-then-accept when the existing owner is gone.
func (s *store) announceService(node, service, address string) (ok bool, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.services[service]; exists {
		if _, ownerLive := s.nodes[existing.Node]; ownerLive {
			return false, "service name already in use"
		}
		delete(s.services, service)
	}

	n, exists := s.nodes[node]
	if !exists {
		return false, "unknown node"
	}
	s.services[service] = &serviceEntry{Name: service, Node: node, Address: address}
	n.Services[service] = struct{}{}
	return true, ""
}

func (s *store) resolveService(service string) (address string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.services[service]
	if !exists {
		return "", false
	}
	return e.Address, true
}

func (s *store) heartbeatNode(name string) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, exists := s.nodes[name]
	if !exists {
		return false
	}
	n.LastSeen = time.Now()
	return true
}

// sweep purges every node whose last heartbeat exceeded ttl and that
// isn't itself excluded via selfName (the resolver's own node).
func (s *store) sweep(ttl time.Duration, selfName string) (purged []string) {
	s.mu.Lock()
	now := time.Now()
	var stale []string
	for name, n := range s.nodes {
		if name == selfName {
			continue
		}
		if now.Sub(n.LastSeen) > ttl {
			stale = append(stale, name)
		}
	}
	for _, name := range stale {
		s.purgeLocked(name)
	}
	s.mu.Unlock()
	return stale
}

func (s *store) nodeTopicEdge(node, topic string, reverse, active bool) (changed bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.nodes[node]; !exists {
		return false, false
	}
	k := edgeKey{Node: node, Other: topic, Reverse: reverse}
	_, present := s.nodeTopic[k]
	if active && !present {
		s.nodeTopic[k] = struct{}{}
		debug.Assertf(len(s.nodeTopic) > 0, "nodeTopic edge %+v not present after insert", k)
		return true, true
	}
	if !active && present {
		delete(s.nodeTopic, k)
		_, stillPresent := s.nodeTopic[k]
		debug.Assert(!stillPresent, "nodeTopic edge still present after delete")
		return true, true
	}
	return false, true
}

func (s *store) nodeServiceEdge(node, service string, reverse, active bool) (changed bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.nodes[node]; !exists {
		return false, false
	}
	k := edgeKey{Node: node, Other: service, Reverse: reverse}
	_, present := s.nodeService[k]
	if active && !present {
		s.nodeService[k] = struct{}{}
		return true, true
	}
	if !active && present {
		delete(s.nodeService, k)
		return true, true
	}
	return false, true
}

// snapshot returns an immutable copy of the current graph, bumping and
// stamping the revision counter.
func (s *store) snapshot() *graph.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rev++

	g := &graph.Graph{Rev: s.rev}
	for name := range s.nodes {
		g.Nodes = append(g.Nodes, name)
	}
	for k := range s.nodeTopic {
		debug.Assertf(s.nodes[k.Node] != nil, "nodeTopic edge %+v references a node not in the node set", k)
		g.NodeTopic = append(g.NodeTopic, graph.Link{Node: k.Node, Other: k.Other, Reverse: k.Reverse})
	}
	for k := range s.nodeService {
		debug.Assertf(s.nodes[k.Node] != nil, "nodeService edge %+v references a node not in the node set", k)
		g.NodeService = append(g.NodeService, graph.Link{Node: k.Node, Other: k.Other, Reverse: k.Reverse})
	}
	return g
}

func (s *store) nodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

func (s *store) serviceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.services)
}

func (s *store) edgeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodeTopic) + len(s.nodeService)
}

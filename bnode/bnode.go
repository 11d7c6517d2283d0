// Package bnode is the node runtime: a strict lifecycle (Created →
// Ready → Terminated) gating which operations are allowed, a children
// registry (publishers, subscribers, service clients, service servers),
// a heartbeat fibre that owns its own resolver connection and feeds the
// time-sync state, and spin_once/spin driving each child's mailbox.
//
// Bootstrap follows a connect → register → start background fibres →
// serve sequence. Children initialize strictly in registration order
// (and clean up in reverse), since they share the node's single
// resolver connection.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package bnode

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/b0platform/b0/brt"
	"github.com/b0platform/b0/bsvc"
	"github.com/b0platform/b0/cmn"
	"github.com/b0platform/b0/cmn/cos"
	"github.com/b0platform/b0/cmn/nlog"
	"github.com/b0platform/b0/pubsub"
	"github.com/b0platform/b0/resolvclient"
	"github.com/b0platform/b0/tsync"
	"github.com/b0platform/b0/xsocket"
)

type state int

const (
	stateCreated state = iota
	stateReady
	stateTerminated
)

func (s state) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateReady:
		return "ready"
	default:
		return "terminated"
	}
}

// Child is any node-owned resource with an ordered init/cleanup contract
// (publisher, subscriber, service client, service server).
type Child interface {
	// Init is called during Node.Init, in registration order. It may
	// announce itself to the resolver and notify the graph.
	Init(n *Node) error
	// Cleanup is called during Node.Cleanup, in reverse registration
	// order. Must be idempotent.
	Cleanup(n *Node) error
	// SpinOnce drains whatever mailbox this child owns, once.
	SpinOnce()
}

// Node is one middleware process's runtime: identity, resolver
// connection, time sync, and the children it owns.
type Node struct {
	rt            *brt.Runtime
	requestedName string
	threadKey     string

	mu       sync.Mutex
	st       state
	children []Child

	shutdown atomic.Bool

	Name     string
	XSubAddr string
	XPubAddr string

	resolver *resolvclient.Client
	hbClient *resolvclient.Client
	hbQuit   chan struct{}
	hbDone   chan struct{}

	Clock *tsync.State

	announceTimeout xsocket.Options
}

// New constructs a Node in the Created state. requestedName is remapped
// through rt's node-remap table before being sent to the resolver.
func New(rt *brt.Runtime, requestedName string) *Node {
	opts := xsocket.DefaultOptions()
	opts.ReadTimeout = cmn.Rom.Announce
	return &Node{
		rt:              rt,
		requestedName:   rt.Remap(brt.KindNode, requestedName, requestedName),
		threadKey:       cos.GenUUID(),
		st:              stateCreated,
		Clock:           tsync.New(),
		announceTimeout: opts,
	}
}

func (n *Node) checkState(op string, want state) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.st != want {
		return cmn.NewErrInvalidStateTransition(op, n.st.String(), want.String())
	}
	return nil
}

// AddChild registers a child to be initialized/cleaned up as part of
// this node's lifecycle. Only valid in the Created state (creating
// pub/sub/client/server children is only allowed in Created).
func (n *Node) AddChild(c Child) error {
	if err := n.checkState("add_child", stateCreated); err != nil {
		return err
	}
	n.mu.Lock()
	n.children = append(n.children, c)
	n.mu.Unlock()
	return nil
}

// SetAnnounceTimeout overrides the read timeout applied to the
// AnnounceNode round trip during Init. Only valid before Init.
func (n *Node) SetAnnounceTimeout(d time.Duration) error {
	if err := n.checkState("set_announce_timeout", stateCreated); err != nil {
		return err
	}
	n.announceTimeout.ReadTimeout = d
	return nil
}

// Resolver returns the node's main resolver connection, usable by
// children during Init (e.g. AnnounceService, NodeTopic).
func (n *Node) Resolver() *resolvclient.Client { return n.resolver }

// Runtime returns the process-wide Runtime this node was built with, so
// children can apply topic/service remaps.
func (n *Node) Runtime() *brt.Runtime { return n.rt }

// Init connects the resolver client, announces the node, starts the
// heartbeat fibre, then initializes every registered child in order.
func (n *Node) Init(resolverAddr string) error {
	if err := n.checkState("init", stateCreated); err != nil {
		return err
	}

	resolver, err := resolvclient.Dial(resolverAddr, n.announceTimeout)
	if err != nil {
		return err
	}

	hostID := n.rt.HostID
	assigned, xsub, xpub, err := resolver.AnnounceNode(n.requestedName, hostID, os.Getpid(), n.threadKey)
	if err != nil {
		resolver.Close()
		return err
	}
	// AnnounceNode's round trip uses the tighter announce timeout; every
	// later call over this same connection (ShutdownNode in Cleanup,
	// AnnounceService/NodeTopic/NodeService during child Init) should
	// use the normal read timeout instead.
	resolver.SetReadTimeout(cmn.Rom.Read)

	hbClient, err := resolvclient.Dial(resolverAddr, xsocket.DefaultOptions())
	if err != nil {
		resolver.Close()
		return err
	}

	n.mu.Lock()
	n.resolver = resolver
	n.hbClient = hbClient
	n.Name = assigned
	n.XSubAddr = xsub
	n.XPubAddr = xpub
	n.hbQuit = make(chan struct{})
	n.hbDone = make(chan struct{})
	children := append([]Child(nil), n.children...)
	n.mu.Unlock()

	go n.heartbeatFibre()

	// strictly in registration order: children share the node's single
	// resolver connection, and Cleanup's reverse order is defined
	// against this one
	for i, c := range children {
		if err := c.Init(n); err != nil {
			for j := i - 1; j >= 0; j-- {
				if cerr := children[j].Cleanup(n); cerr != nil {
					nlog.Warningf("node %s: cleanup after failed init: %v", n.Name, cerr)
				}
			}
			n.abortInit()
			return err
		}
	}

	n.mu.Lock()
	n.st = stateReady
	n.mu.Unlock()
	return nil
}

// abortInit tears down the resolver connections and the heartbeat fibre
// after a child's Init failed partway; the node stays in Created, with
// Init's error surfacing to the caller.
func (n *Node) abortInit() {
	close(n.hbQuit)
	select {
	case <-n.hbDone:
	case <-time.After(2 * time.Second):
	}
	n.resolver.Close()
	n.hbClient.Close()
}

func (n *Node) heartbeatFibre() {
	defer close(n.hbDone)
	ticker := time.NewTicker(cmn.Rom.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-n.hbQuit:
			return
		case <-ticker.C:
		}
		if n.ShutdownRequested() {
			return
		}
		sendUs := tsync.HardwareNow()
		timeUs, ok, err := n.hbClient.Heartbeat(n.Name)
		recvUs := tsync.HardwareNow()
		if err != nil {
			nlog.Warningf("node %s: heartbeat: %v", n.Name, err)
			continue
		}
		if !ok {
			return
		}
		remote := timeUs + (recvUs-sendUs)/2
		n.Clock.Update(remote)
	}
}

// SpinOnce drains each child's mailbox once, in registration order (no
// ordering guarantee is promised between children beyond both being
// drained).
func (n *Node) SpinOnce() error {
	if err := n.checkState("spin_once", stateReady); err != nil {
		return err
	}
	n.mu.Lock()
	children := append([]Child(nil), n.children...)
	n.mu.Unlock()
	for _, c := range children {
		c.SpinOnce()
	}
	return nil
}

// Spin repeatedly calls SpinOnce at rateHz until shutdown is requested
// (either this node's own ShutdownRequested or the process-wide quit
// flag), then calls Cleanup.
func (n *Node) Spin(rateHz float64) error {
	if err := n.checkState("spin", stateReady); err != nil {
		return err
	}
	period := time.Duration(float64(time.Second) / rateHz)
	for !n.ShutdownRequested() {
		if err := n.SpinOnce(); err != nil {
			return err
		}
		time.Sleep(period)
	}
	return n.Cleanup()
}

// Shutdown requests a cooperative stop of this node's spin loop. Only
// valid once the node is Ready.
func (n *Node) Shutdown() error {
	if err := n.checkState("shutdown", stateReady); err != nil {
		return err
	}
	n.shutdown.Store(true)
	return nil
}

// ShutdownRequested reports the logical OR of this node's own shutdown
// flag and the process-wide quit flag.
func (n *Node) ShutdownRequested() bool {
	return n.shutdown.Load() || n.rt.QuitRequested()
}

// Cleanup stops the heartbeat fibre, cleans up every child in reverse
// init order, tells the resolver the node is leaving, and closes the
// resolver connection. Idempotent: a second call after the first has
// completed is a no-op.
func (n *Node) Cleanup() error {
	n.mu.Lock()
	if n.st == stateTerminated {
		n.mu.Unlock()
		return nil
	}
	if n.st != stateReady {
		st := n.st
		n.mu.Unlock()
		return cmn.NewErrInvalidStateTransition("cleanup", st.String(), stateReady.String())
	}
	n.st = stateTerminated
	children := append([]Child(nil), n.children...)
	name := n.Name
	resolver := n.resolver
	hbClient := n.hbClient
	hbQuit := n.hbQuit
	hbDone := n.hbDone
	n.mu.Unlock()

	if hbQuit != nil {
		close(hbQuit)
		select {
		case <-hbDone:
		case <-time.After(2 * time.Second):
			nlog.Warningf("node %s: heartbeat fibre did not stop within timeout", name)
		}
	}

	var firstErr error
	for i := len(children) - 1; i >= 0; i-- {
		if err := children[i].Cleanup(n); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if resolver != nil {
		if err := resolver.ShutdownNode(name); err != nil && firstErr == nil {
			firstErr = err
		}
		resolver.Close()
	}
	if hbClient != nil {
		hbClient.Close()
	}
	return firstErr
}

// PublisherChild wraps pubsub.Publisher as a Child: Init connects to the
// node's broker XSUB endpoint and notifies the graph.
type PublisherChild struct {
	Topic string
	Pub   *pubsub.Publisher
}

func (p *PublisherChild) Init(n *Node) error {
	topic := n.rt.Remap(brt.KindTopic, n.Name, p.Topic)
	pub, err := pubsub.Connect(n.XSubAddr, xsocket.DefaultOptions())
	if err != nil {
		return err
	}
	p.Pub = pub
	p.Topic = topic
	return n.resolver.NodeTopic(n.Name, topic, false, true)
}

func (p *PublisherChild) Cleanup(n *Node) error {
	if p.Pub == nil {
		return nil
	}
	_ = n.resolver.NodeTopic(n.Name, p.Topic, false, false)
	err := p.Pub.Close()
	p.Pub = nil
	return err
}

func (p *PublisherChild) SpinOnce() {} // nothing to drain; Publish is synchronous

// SubscriberChild wraps pubsub.Subscriber as a Child in callback mode.
type SubscriberChild struct {
	Topic   string
	Handler pubsub.Handler
	Sub     *pubsub.Subscriber
}

func (s *SubscriberChild) Init(n *Node) error {
	topic := n.rt.Remap(brt.KindTopic, n.Name, s.Topic)
	sub, err := pubsub.Subscribe(n.XPubAddr, topic, xsocket.DefaultOptions(), s.Handler)
	if err != nil {
		return err
	}
	s.Sub = sub
	s.Topic = topic
	return n.resolver.NodeTopic(n.Name, topic, true, true)
}

func (s *SubscriberChild) Cleanup(n *Node) error {
	if s.Sub == nil {
		return nil
	}
	_ = n.resolver.NodeTopic(n.Name, s.Topic, true, false)
	err := s.Sub.Close()
	s.Sub = nil
	return err
}

func (s *SubscriberChild) SpinOnce() {
	if s.Sub != nil {
		s.Sub.DrainOnce()
	}
}

// ServerChild wraps bsvc.Server as a Child: Init binds a free port,
// announces the service, and notifies the graph.
type ServerChild struct {
	Service string
	Handler bsvc.Handler
	Srv     *bsvc.Server
}

func (s *ServerChild) Init(n *Node) error {
	service := n.rt.Remap(brt.KindService, n.Name, s.Service)
	srv, err := bsvc.Bind(service, fmt.Sprintf("%s:0", bindAddr()), xsocket.DefaultOptions(), s.Handler)
	if err != nil {
		return err
	}
	s.Srv = srv
	s.Service = service
	go srv.Serve()
	if err := n.resolver.AnnounceService(n.Name, service, advertiseAddr(n.rt.HostID, srv.Addr())); err != nil {
		srv.Close()
		return err
	}
	return n.resolver.NodeService(n.Name, service, false, true)
}

func (s *ServerChild) Cleanup(n *Node) error {
	if s.Srv == nil {
		return nil
	}
	_ = n.resolver.NodeService(n.Name, s.Service, false, false)
	err := s.Srv.Close()
	s.Srv = nil
	return err
}

func (s *ServerChild) SpinOnce() {} // bsvc.Server drives its own accept/handle goroutines

// bindAddr is the wildcard interface a service child binds to: hostID
// is never the right bind address (it may be a bare hostname/IP that
// doesn't resolve to a local interface), only the address advertised
// back to the resolver via advertiseAddr.
func bindAddr() string { return "0.0.0.0" }

func advertiseAddr(hostID, boundAddr string) string {
	_, port := splitPort(boundAddr)
	return fmt.Sprintf("%s:%s", hostID, port)
}

func splitPort(addr string) (host, port string) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:]
		}
	}
	return addr, ""
}

// ClientChild wraps bsvc.Client as a Child: Init resolves the service
// name to an address (unless Addr is preconfigured) and connects.
type ClientChild struct {
	Service string
	Addr    string // preconfigured remote address; resolved via the node's resolver if empty
	Cli     *bsvc.Client
}

func (c *ClientChild) Init(n *Node) error {
	service := n.rt.Remap(brt.KindService, n.Name, c.Service)
	addr := c.Addr
	if addr == "" {
		resolved, err := n.resolver.ResolveService(service)
		if err != nil {
			return err
		}
		addr = resolved
	}
	cli, err := bsvc.Dial(service, addr, xsocket.DefaultOptions())
	if err != nil {
		return err
	}
	c.Cli = cli
	c.Service = service
	return n.resolver.NodeService(n.Name, service, true, true)
}

func (c *ClientChild) Cleanup(n *Node) error {
	if c.Cli == nil {
		return nil
	}
	_ = n.resolver.NodeService(n.Name, c.Service, true, false)
	err := c.Cli.Close()
	c.Cli = nil
	return err
}

func (c *ClientChild) SpinOnce() {} // bsvc.Client.Call is synchronous, nothing to drain

// Package resolvclient is the resolver client facade: a single typed
// request/reply connection multiplexed over one service endpoint
// (resolv) that carries every coordinator operation as a tagged union.
//
// One struct per operation, JSON-marshaled with
// github.com/json-iterator/go, carried over bsvc's request/reply
// transport.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package resolvclient

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/b0platform/b0/bsvc"
	"github.com/b0platform/b0/cmn"
	"github.com/b0platform/b0/graph"
	"github.com/b0platform/b0/xsocket"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const contentType = "application/json"

// Op tags which resolver operation a request carries.
type Op string

const (
	OpAnnounceNode    Op = "announce_node"
	OpShutdownNode    Op = "shutdown_node"
	OpAnnounceService Op = "announce_service"
	OpResolveService  Op = "resolve_service"
	OpHeartbeat       Op = "heartbeat"
	OpNodeTopic       Op = "node_topic"
	OpNodeService     Op = "node_service"
	OpGetGraph        Op = "get_graph"
)

// Request is the tagged-union wire envelope; only the fields relevant to
// Op are populated.
type Request struct {
	Op Op `json:"op"`

	Name    string `json:"name,omitempty"`
	Node    string `json:"node,omitempty"`
	Service string `json:"service,omitempty"`
	Address string `json:"address,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Reverse bool   `json:"reverse,omitempty"`
	Active  bool   `json:"active,omitempty"`

	HostID    string `json:"host_id,omitempty"`
	ProcessID int    `json:"process_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// Reply is the tagged-union wire reply; zero-valued fields are absent
// when not applicable to the request that produced it.
type Reply struct {
	OK           bool         `json:"ok"`
	Error        string       `json:"error,omitempty"`
	AssignedName string       `json:"assigned_name,omitempty"`
	XSubAddr     string       `json:"xsub_addr,omitempty"`
	XPubAddr     string       `json:"xpub_addr,omitempty"`
	Address      string       `json:"address,omitempty"`
	TimeUs       int64        `json:"time_us,omitempty"`
	Graph        *graph.Graph `json:"graph,omitempty"`
}

// Client is a synchronous facade over one bsvc connection to the
// resolver's resolv endpoint.
type Client struct {
	conn *bsvc.Client
}

// Dial connects to the resolver's well-known resolv endpoint address
// (either bare host:port or the tcp:// form B0_RESOLVER uses). The
// caller picks the read timeout in opts: a node's first connection uses
// the announce timeout for its AnnounceNode round trip.
func Dial(resolvAddr string, opts xsocket.Options) (*Client, error) {
	c, err := bsvc.Dial("resolv", resolvAddr, opts)
	if err != nil {
		return nil, err
	}
	return &Client{conn: c}, nil
}

// SetReadTimeout changes the read timeout applied to calls made after it
// returns, without reconnecting. AnnounceNode's round trip uses
// cmn.Rom.Announce; every other call on the same connection should use
// cmn.Rom.Read, so callers reset the timeout once the node is announced.
func (c *Client) SetReadTimeout(d time.Duration) { c.conn.SetReadTimeout(d) }

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) call(req Request) (Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, cmn.NewErrEnvelopeEncode(err.Error())
	}
	respBody, _, err := c.conn.Call(body, contentType, contentType)
	if err != nil {
		return Reply{}, err
	}
	var reply Reply
	if err := json.Unmarshal(respBody, &reply); err != nil {
		return Reply{}, cmn.NewErrEnvelopeDecode(err.Error())
	}
	if !reply.OK && reply.Error == "name not found" {
		name := req.Name
		if name == "" {
			name = req.Service
		}
		return reply, cmn.NewErrNameResolution(name)
	}
	return reply, nil
}

// AnnounceNode requests a (possibly disambiguated) name assignment and
// the broker's XSUB/XPUB addresses. hostID/processID/threadID identify
// the calling thread so the resolver can reject a double-announce from
// the same (host, process, thread).
func (c *Client) AnnounceNode(name, hostID string, processID int, threadID string) (assignedName, xsubAddr, xpubAddr string, err error) {
	reply, err := c.call(Request{Op: OpAnnounceNode, Name: name, HostID: hostID, ProcessID: processID, ThreadID: threadID})
	if err != nil {
		return "", "", "", err
	}
	if !reply.OK {
		return "", "", "", cmn.NewErrNameResolution(name)
	}
	return reply.AssignedName, reply.XSubAddr, reply.XPubAddr, nil
}

// ShutdownNode tells the resolver the node is leaving voluntarily.
func (c *Client) ShutdownNode(name string) error {
	reply, err := c.call(Request{Op: OpShutdownNode, Name: name})
	if err != nil {
		return err
	}
	if !reply.OK {
		return cmn.NewErrNameResolution(name)
	}
	return nil
}

// AnnounceService registers a service endpoint's address under node.
func (c *Client) AnnounceService(node, service, address string) error {
	reply, err := c.call(Request{Op: OpAnnounceService, Node: node, Service: service, Address: address})
	if err != nil {
		return err
	}
	if !reply.OK {
		return cmn.NewErrNameResolution(service)
	}
	return nil
}

// ResolveService looks up a service's current address.
func (c *Client) ResolveService(service string) (address string, err error) {
	reply, err := c.call(Request{Op: OpResolveService, Service: service})
	if err != nil {
		return "", err
	}
	if !reply.OK {
		return "", cmn.NewErrNameResolution(service)
	}
	return reply.Address, nil
}

// Heartbeat refreshes node's last-seen timestamp and returns the
// resolver's wall clock in µs for time-sync.
func (c *Client) Heartbeat(node string) (timeUs int64, ok bool, err error) {
	reply, err := c.call(Request{Op: OpHeartbeat, Node: node})
	if err != nil {
		return 0, false, err
	}
	return reply.TimeUs, reply.OK, nil
}

// NodeTopic notifies the resolver of a publish/subscribe attach/detach.
func (c *Client) NodeTopic(node, topic string, reverse, active bool) error {
	_, err := c.call(Request{Op: OpNodeTopic, Node: node, Topic: topic, Reverse: reverse, Active: active})
	return err
}

// NodeService notifies the resolver of a service offer/use attach/detach.
func (c *Client) NodeService(node, service string, reverse, active bool) error {
	_, err := c.call(Request{Op: OpNodeService, Node: node, Service: service, Reverse: reverse, Active: active})
	return err
}

// GetGraph fetches the current graph snapshot.
func (c *Client) GetGraph() (*graph.Graph, error) {
	reply, err := c.call(Request{Op: OpGetGraph})
	if err != nil {
		return nil, err
	}
	return reply.Graph, nil
}

// Package resolver implements the coordinator service: unique node-name
// assignment, service registration, heartbeat liveness with sweeping,
// the node↔topic/node↔service graph with change notification, and the
// broker proxy nodes use for pub/sub.
//
// Resolver.Run's bootstrap shape is bind, register self, start
// background fibres, serve; cmn.Rom supplies the timeout knobs for the
// heartbeat TTL and sweep interval.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package resolver

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/b0platform/b0/brt"
	"github.com/b0platform/b0/bsvc"
	"github.com/b0platform/b0/cmn"
	"github.com/b0platform/b0/cmn/nlog"
	"github.com/b0platform/b0/hk"
	"github.com/b0platform/b0/pubsub"
	"github.com/b0platform/b0/resolvclient"
	"github.com/b0platform/b0/xsocket"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// selfName is the node name the resolver registers itself under, so the
// sweeper can exclude it and GetGraph can include it like any other
// node (it publishes the "graph" topic itself).
const selfName = "resolver"

const graphTopic = "graph"

// logTopic is the well-known topic the resolver republishes aggregated
// log entries on, fed through LogSink.
const logTopic = "log"

// logSinkCapacity bounds how many pending LogEntry values LogSink
// buffers; a send on a full LogSink blocks until logFanIn takes an entry.
const logSinkCapacity = 256

// LogEntry is one aggregated log record forwarded onto the "log" topic.
type LogEntry struct {
	Node    string
	Level   string
	Message string
	TimeUs  int64
}

// Config holds the resolver's bind addresses. Empty XSub/XPub/Metrics
// addrs mean "bind a free port" / "disabled" respectively.
type Config struct {
	ResolvAddr  string
	XSubAddr    string
	XPubAddr    string
	MetricsAddr string
}

// Resolver is the coordinator process.
type Resolver struct {
	rt  *brt.Runtime
	cfg Config

	store    *store
	broker   *broker
	resolv   *bsvc.Server
	graphPub *pubsub.Publisher
	hk       *hk.Housekeeper
	metrics  *metricsSet

	logSink  chan LogEntry
	logDone  chan struct{}
	fibresUp bool
}

// New builds a Resolver but does not yet bind or accept connections;
// call Run to start it.
func New(rt *brt.Runtime, cfg Config) (*Resolver, error) {
	if cfg.ResolvAddr == "" {
		cfg.ResolvAddr = ":22000"
	}
	if cfg.XSubAddr == "" {
		cfg.XSubAddr = "127.0.0.1:0"
	}
	if cfg.XPubAddr == "" {
		cfg.XPubAddr = "127.0.0.1:0"
	}

	s := newStore()
	// The resolver registers itself directly rather than bootstrapping
	// over its own not-yet-running network endpoint, sidestepping the
	// chicken-and-egg startup order a literal self-announce would
	// create (see DESIGN.md). selfKey is reserved so no real announce
	// can collide with it.
	selfKey := nodeKey{Host: "\x00resolver", Process: -1, Thread: "\x00resolver"}
	s.nodes[selfName] = &nodeEntry{Name: selfName, Key: selfKey, Services: map[string]struct{}{}}
	s.byKey[selfKey] = selfName

	b, err := newBroker(cfg.XSubAddr, cfg.XPubAddr, xsocket.DefaultOptions())
	if err != nil {
		return nil, err
	}

	r := &Resolver{
		rt:      rt,
		cfg:     cfg,
		store:   s,
		broker:  b,
		hk:      hk.New(),
		metrics: newMetrics(s),
		logSink: make(chan LogEntry, logSinkCapacity),
		logDone: make(chan struct{}),
	}

	resolv, err := bsvc.Bind("resolv", cfg.ResolvAddr, xsocket.DefaultOptions(), r.handle)
	if err != nil {
		b.Close()
		return nil, err
	}
	r.resolv = resolv
	return r, nil
}

// LogSink returns the channel nodes (or anything else wired to this
// Resolver) feed LogEntry values into. The resolver fans them in and
// republishes each as a best-effort JSON message on the "log" topic.
// The channel buffers logSinkCapacity entries; entries are not dropped,
// so a send on a full channel blocks until logFanIn takes one.
func (r *Resolver) LogSink() chan<- LogEntry { return r.logSink }

// ResolvAddr is the bound resolv endpoint's address.
func (r *Resolver) ResolvAddr() string { return r.resolv.Addr() }

// XSubAddr / XPubAddr are the bound broker addresses handed out in
// AnnounceNode replies.
func (r *Resolver) XSubAddr() string { return r.broker.XSubAddr() }
func (r *Resolver) XPubAddr() string { return r.broker.XPubAddr() }

// Run starts the broker, the resolv accept loop, the sweeper fibre, and
// (if configured) the metrics HTTP server, then returns once everything
// is listening; Close stops them all.
func (r *Resolver) Run() error {
	r.broker.Run()

	pub, err := pubsub.Connect(r.broker.XSubAddr(), xsocket.DefaultOptions())
	if err != nil {
		return err
	}
	r.graphPub = pub

	r.hk.Register("sweep", cmn.Rom.Sweep, func() time.Duration {
		r.sweepOnce()
		return cmn.Rom.Sweep
	})
	r.hk.Run()

	go r.resolv.Serve()
	go r.logFanIn()
	r.fibresUp = true

	if r.cfg.MetricsAddr != "" {
		go func() {
			if err := r.metrics.Serve(r.cfg.MetricsAddr); err != nil {
				nlog.Warningf("resolver: metrics server: %v", err)
			}
		}()
	}
	return nil
}

// sweepOnce purges stale nodes and republishes the graph if anything
// changed. The sweeper fibre drives this on an interval; it's also what
// a sentinel Heartbeat (host="self", process=0, thread="self") triggers
// over the wire, for callers that prefer to trigger a sweep through the
// public protocol rather than wait for the interval.
func (r *Resolver) sweepOnce() {
	purged := r.store.sweep(cmn.Rom.HeartbeatTTL, selfName)
	if len(purged) > 0 {
		r.publishGraph()
	}
	r.metrics.sweeps.Inc()
}

// nowUs is the resolver's wall clock in microseconds, carried in every
// heartbeat reply as the reference time nodes synchronize toward.
func nowUs() int64 { return time.Now().UnixMicro() }

// logFanIn drains LogSink and republishes each entry on the "log" topic
// until Close closes LogSink. Publish
// failures are logged and otherwise ignored — this path is best-effort,
// never a reason to fail a node's own operation.
func (r *Resolver) logFanIn() {
	defer close(r.logDone)
	for entry := range r.logSink {
		if r.graphPub == nil {
			continue
		}
		body, err := json.Marshal(entry)
		if err != nil {
			nlog.Warningf("resolver: marshal log entry: %v", err)
			continue
		}
		if err := r.graphPub.Publish(logTopic, body, "application/json"); err != nil {
			nlog.Warningf("resolver: publish log entry: %v", err)
		}
	}
}

func (r *Resolver) handle(request []byte, contentType string) (reply []byte, replyContentType string, err error) {
	r.metrics.bytesDecoded.Add(float64(len(request)))

	var req resolvclient.Request
	if err := json.Unmarshal(request, &req); err != nil {
		return nil, "", err
	}

	var resp resolvclient.Reply
	switch req.Op {
	case resolvclient.OpAnnounceNode:
		assigned, ok, errMsg := r.store.announceNode(req.Name, req.HostID, req.ProcessID, req.ThreadID)
		if !ok {
			resp = resolvclient.Reply{OK: false, Error: errMsg}
			break
		}
		resp = resolvclient.Reply{OK: true, AssignedName: assigned, XSubAddr: r.broker.XSubAddr(), XPubAddr: r.broker.XPubAddr()}

	case resolvclient.OpShutdownNode:
		if r.store.shutdownNode(req.Name) {
			r.publishGraph()
		}
		resp = resolvclient.Reply{OK: true}

	case resolvclient.OpAnnounceService:
		ok, errMsg := r.store.announceService(req.Node, req.Service, req.Address)
		resp = resolvclient.Reply{OK: ok, Error: errMsg}

	case resolvclient.OpResolveService:
		addr, ok := r.store.resolveService(req.Service)
		if !ok {
			resp = resolvclient.Reply{OK: false, Error: "name not found"}
			break
		}
		resp = resolvclient.Reply{OK: true, Address: addr}

	case resolvclient.OpHeartbeat:
		if req.HostID == "self" && req.ThreadID == "self" && req.ProcessID == 0 {
			r.sweepOnce()
			resp = resolvclient.Reply{OK: true, TimeUs: nowUs()}
			break
		}
		ok := r.store.heartbeatNode(req.Node)
		resp = resolvclient.Reply{OK: ok, TimeUs: nowUs()}

	case resolvclient.OpNodeTopic:
		changed, ok := r.store.nodeTopicEdge(req.Node, req.Topic, req.Reverse, req.Active)
		if changed {
			r.publishGraph()
		}
		resp = resolvclient.Reply{OK: ok}

	case resolvclient.OpNodeService:
		changed, ok := r.store.nodeServiceEdge(req.Node, req.Service, req.Reverse, req.Active)
		if changed {
			r.publishGraph()
		}
		resp = resolvclient.Reply{OK: ok}

	case resolvclient.OpGetGraph:
		resp = resolvclient.Reply{OK: true, Graph: r.store.snapshot()}

	default:
		resp = resolvclient.Reply{OK: false, Error: "unknown operation"}
	}

	body, err := json.Marshal(resp)
	r.metrics.bytesEncoded.Add(float64(len(body)))
	return body, contentType, err
}

func (r *Resolver) publishGraph() {
	if r.graphPub == nil {
		return
	}
	g := r.store.snapshot()
	body, err := json.Marshal(g)
	if err != nil {
		nlog.Warningf("resolver: marshal graph snapshot: %v", err)
		return
	}
	if err := r.graphPub.Publish(graphTopic, body, "application/json"); err != nil {
		nlog.Warningf("resolver: publish graph: %v", err)
	}
}

// Close stops the sweeper, the resolv accept loop, the broker, and the
// graph publisher connection.
func (r *Resolver) Close() error {
	r.hk.Stop()
	err := r.resolv.Close()
	if r.fibresUp {
		close(r.logSink)
		<-r.logDone
	}
	if r.graphPub != nil {
		r.graphPub.Close()
	}
	r.broker.Close()
	return err
}

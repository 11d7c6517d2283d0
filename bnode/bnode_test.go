package bnode_test

import (
	"net"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	"github.com/b0platform/b0/bnode"
	"github.com/b0platform/b0/brt"
	"github.com/b0platform/b0/bsvc"
	"github.com/b0platform/b0/cmn"
	"github.com/b0platform/b0/resolvclient"
	"github.com/b0platform/b0/xsocket"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fakeResolver answers AnnounceNode/Heartbeat/ShutdownNode/NodeTopic/
// NodeService enough to drive a Node through Init/Cleanup without a real
// resolver or broker.
func fakeResolver() bsvc.Handler {
	return func(request []byte, contentType string) ([]byte, string, error) {
		var req resolvclient.Request
		if err := json.Unmarshal(request, &req); err != nil {
			return nil, "", err
		}
		var reply resolvclient.Reply
		switch req.Op {
		case resolvclient.OpAnnounceNode:
			reply = resolvclient.Reply{OK: true, AssignedName: "worker-1", XSubAddr: "127.0.0.1:1", XPubAddr: "127.0.0.1:2"}
		case resolvclient.OpHeartbeat:
			// far enough from the local monotonic clock's epoch that a
			// synced Clock.Now() is unmistakable
			reply = resolvclient.Reply{OK: true, TimeUs: 500_000_000_000}
		default:
			reply = resolvclient.Reply{OK: true}
		}
		body, err := json.Marshal(reply)
		return body, contentType, err
	}
}

type stubChild struct {
	mu        sync.Mutex
	inited    bool
	cleanedUp bool
	spinCount int
	initOrder *[]string
	label     string
}

func (c *stubChild) Init(n *bnode.Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inited = true
	if c.initOrder != nil {
		*c.initOrder = append(*c.initOrder, "init:"+c.label)
	}
	return nil
}

func (c *stubChild) Cleanup(n *bnode.Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanedUp = true
	if c.initOrder != nil {
		*c.initOrder = append(*c.initOrder, "cleanup:"+c.label)
	}
	return nil
}

func (c *stubChild) SpinOnce() {
	c.mu.Lock()
	c.spinCount++
	c.mu.Unlock()
}

func newTestRuntime(t *testing.T) *brt.Runtime {
	t.Helper()
	rt, err := brt.New(nil)
	require.NoError(t, err)
	return rt
}

func TestSpinOnceBeforeInitFails(t *testing.T) {
	rt := newTestRuntime(t)
	n := bnode.New(rt, "worker")
	err := n.SpinOnce()
	require.Error(t, err)
}

func TestAddChildAfterInitFails(t *testing.T) {
	rt := newTestRuntime(t)
	srv, err := bsvc.Bind("resolv", "127.0.0.1:0", xsocket.DefaultOptions(), fakeResolver())
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Close()

	n := bnode.New(rt, "worker")
	require.NoError(t, n.Init(srv.Addr()))
	defer n.Cleanup()

	err = n.AddChild(&stubChild{label: "late"})
	require.Error(t, err)
}

func TestInitAssignsNameAndInitsChildrenInOrder(t *testing.T) {
	rt := newTestRuntime(t)
	srv, err := bsvc.Bind("resolv", "127.0.0.1:0", xsocket.DefaultOptions(), fakeResolver())
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Close()

	n := bnode.New(rt, "worker")
	var order []string
	c1 := &stubChild{label: "a", initOrder: &order}
	c2 := &stubChild{label: "b", initOrder: &order}
	require.NoError(t, n.AddChild(c1))
	require.NoError(t, n.AddChild(c2))

	require.NoError(t, n.Init(srv.Addr()))
	require.Equal(t, "worker-1", n.Name)
	require.True(t, c1.inited)
	require.True(t, c2.inited)

	require.NoError(t, n.SpinOnce())
	c1.mu.Lock()
	require.Equal(t, 1, c1.spinCount)
	c1.mu.Unlock()

	require.NoError(t, n.Cleanup())
	require.True(t, c1.cleanedUp)
	require.True(t, c2.cleanedUp)
	// Cleanup runs in reverse registration order.
	require.Equal(t, []string{"init:a", "init:b", "cleanup:b", "cleanup:a"}, order)

	// Idempotent: a second Cleanup call is a no-op, not an error.
	require.NoError(t, n.Cleanup())
}

func TestHeartbeatUpdatesClock(t *testing.T) {
	saved := cmn.Rom
	cmn.Rom.Heartbeat = 50 * time.Millisecond
	defer func() { cmn.Rom = saved }()

	rt := newTestRuntime(t)
	srv, err := bsvc.Bind("resolv", "127.0.0.1:0", xsocket.DefaultOptions(), fakeResolver())
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Close()

	n := bnode.New(rt, "worker")
	require.NoError(t, n.Init(srv.Addr()))
	defer n.Cleanup()

	require.Eventually(t, func() bool {
		return n.Clock.Now() >= 400_000_000_000
	}, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownStopsSpin(t *testing.T) {
	rt := newTestRuntime(t)
	srv, err := bsvc.Bind("resolv", "127.0.0.1:0", xsocket.DefaultOptions(), fakeResolver())
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Close()

	n := bnode.New(rt, "worker")
	require.Error(t, n.Shutdown()) // not Ready yet

	require.NoError(t, n.Init(srv.Addr()))
	require.NoError(t, n.Shutdown())
	require.True(t, n.ShutdownRequested())

	// Spin observes the flag immediately, cleans up, and returns.
	require.NoError(t, n.Spin(100))
	require.Error(t, n.SpinOnce()) // Terminated now
}

func TestAnnounceTimeout(t *testing.T) {
	// a listener that never accepts: the TCP connect succeeds via the
	// backlog, so Init gets as far as the AnnounceNode read and must
	// fail it under the announce timeout
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	rt := newTestRuntime(t)
	n := bnode.New(rt, "worker")
	require.NoError(t, n.SetAnnounceTimeout(200*time.Millisecond))

	start := time.Now()
	err = n.Init(ln.Addr().String())
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
	var rerr *cmn.ErrSocketRead
	require.ErrorAs(t, err, &rerr)
}

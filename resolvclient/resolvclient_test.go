package resolvclient_test

import (
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	"github.com/b0platform/b0/bsvc"
	"github.com/b0platform/b0/graph"
	"github.com/b0platform/b0/resolvclient"
	"github.com/b0platform/b0/xsocket"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fakeResolver answers just enough of resolvclient.Request to exercise
// the client facade's marshaling and reply handling.
func fakeResolver(request []byte, contentType string) ([]byte, string, error) {
	var req resolvclient.Request
	if err := json.Unmarshal(request, &req); err != nil {
		return nil, "", err
	}
	var reply resolvclient.Reply
	switch req.Op {
	case resolvclient.OpAnnounceNode:
		reply = resolvclient.Reply{OK: true, AssignedName: "node-1", XSubAddr: "tcp://x:1", XPubAddr: "tcp://x:2"}
	case resolvclient.OpResolveService:
		if req.Service == "known" {
			reply = resolvclient.Reply{OK: true, Address: "tcp://svc:9"}
		} else {
			reply = resolvclient.Reply{OK: false, Error: "name not found"}
		}
	case resolvclient.OpHeartbeat:
		reply = resolvclient.Reply{OK: true, TimeUs: 42}
	case resolvclient.OpGetGraph:
		reply = resolvclient.Reply{OK: true, Graph: &graph.Graph{Rev: 1, Nodes: []string{"node-1"}}}
	case resolvclient.OpNodeTopic, resolvclient.OpNodeService, resolvclient.OpShutdownNode, resolvclient.OpAnnounceService:
		reply = resolvclient.Reply{OK: true}
	}
	body, err := json.Marshal(reply)
	return body, contentType, err
}

func newClient(t *testing.T) (*resolvclient.Client, *bsvc.Server) {
	t.Helper()
	srv, err := bsvc.Bind("resolv", "127.0.0.1:0", xsocket.DefaultOptions(), fakeResolver)
	require.NoError(t, err)
	go srv.Serve()

	c, err := resolvclient.Dial(srv.Addr(), xsocket.DefaultOptions())
	require.NoError(t, err)
	return c, srv
}

func TestAnnounceNode(t *testing.T) {
	c, srv := newClient(t)
	defer srv.Close()
	defer c.Close()

	name, xsub, xpub, err := c.AnnounceNode("node", "h1", 100, "t1")
	require.NoError(t, err)
	require.Equal(t, "node-1", name)
	require.Equal(t, "tcp://x:1", xsub)
	require.Equal(t, "tcp://x:2", xpub)
}

func TestResolveServiceNotFound(t *testing.T) {
	c, srv := newClient(t)
	defer srv.Close()
	defer c.Close()

	_, err := c.ResolveService("missing")
	require.Error(t, err)
}

func TestResolveServiceFound(t *testing.T) {
	c, srv := newClient(t)
	defer srv.Close()
	defer c.Close()

	addr, err := c.ResolveService("known")
	require.NoError(t, err)
	require.Equal(t, "tcp://svc:9", addr)
}

func TestHeartbeat(t *testing.T) {
	c, srv := newClient(t)
	defer srv.Close()
	defer c.Close()

	timeUs, ok, err := c.Heartbeat("node-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 42, timeUs)
}

func TestGetGraph(t *testing.T) {
	c, srv := newClient(t)
	defer srv.Close()
	defer c.Close()

	g, err := c.GetGraph()
	require.NoError(t, err)
	require.EqualValues(t, 1, g.Rev)
	require.True(t, g.HasNode("node-1"))
}

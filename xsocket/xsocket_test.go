package xsocket_test

import (
	"net"
	"testing"
	"time"

	"github.com/b0platform/b0/xsocket"
	"github.com/stretchr/testify/require"
)

func dialPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptedCh := make(chan net.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		acceptedCh <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	select {
	case c := <-acceptedCh:
		return c, client
	case err := <-errCh:
		t.Fatalf("accept failed: %v", err)
		return nil, nil
	case <-time.After(2 * time.Second):
		t.Fatal("accept timed out")
		return nil, nil
	}
}

func TestSendRecvRoundTrip(t *testing.T) {
	serverConn, clientConn := dialPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	server := xsocket.New("topic.a", true, serverConn, xsocket.DefaultOptions())
	client := xsocket.New("topic.a", true, clientConn, xsocket.DefaultOptions())

	payload := []byte(`{"hello":"world"}`)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Send("topic.a", payload, "application/json") }()

	header, got, contentType, err := client.Recv()
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, "topic.a", header)
	require.Equal(t, payload, got)
	require.Equal(t, "application/json", contentType)
}

func TestRecvHeaderMismatch(t *testing.T) {
	serverConn, clientConn := dialPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	server := xsocket.New("topic.a", true, serverConn, xsocket.DefaultOptions())
	client := xsocket.New("topic.b", true, clientConn, xsocket.DefaultOptions())

	errCh := make(chan error, 1)
	go func() { errCh <- server.Send("topic.a", []byte("x"), "text/plain") }()

	_, _, _, err := client.Recv()
	require.NoError(t, <-errCh)
	require.Error(t, err)
	require.Contains(t, err.Error(), "topic.b")
}

func TestRecvTooManyParts(t *testing.T) {
	serverConn, clientConn := dialPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	client := xsocket.New("topic.a", true, clientConn, xsocket.DefaultOptions())

	go func() {
		// Hand-craft a message with a header frame, a payload frame marked
		// "more", and a trailing extra frame -- exactly what Recv must reject.
		writeFrame(serverConn, []byte("topic.a"), true)
		writeFrame(serverConn, []byte("not-a-real-envelope"), true)
		writeFrame(serverConn, []byte("extra"), false)
	}()

	_, _, _, err := client.Recv()
	require.Error(t, err)
	require.Contains(t, err.Error(), "too many parts")
}

func TestSendRecvNoHeaderCompressed(t *testing.T) {
	serverConn, clientConn := dialPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	server := xsocket.New("", false, serverConn, xsocket.DefaultOptions())
	server.CompressionAlgorithm = "zlib"
	client := xsocket.New("", false, clientConn, xsocket.DefaultOptions())

	payload := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	errCh := make(chan error, 1)
	go func() { errCh <- server.Send("", payload, "text/plain") }()

	_, got, contentType, err := client.Recv()
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, payload, got)
	require.Equal(t, "text/plain", contentType)
}

// writeFrame replicates the wire framing used internally by Socket, for
// tests that need to send malformed multipart messages Socket itself would
// never construct.
func writeFrame(conn net.Conn, payload []byte, more bool) {
	hdr := make([]byte, 5)
	n := uint32(len(payload) + 1)
	hdr[0] = byte(n >> 24)
	hdr[1] = byte(n >> 16)
	hdr[2] = byte(n >> 8)
	hdr[3] = byte(n)
	if more {
		hdr[4] = 1
	} else {
		hdr[4] = 0
	}
	conn.Write(hdr)
	conn.Write(payload)
}

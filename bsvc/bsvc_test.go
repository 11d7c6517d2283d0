package bsvc_test

import (
	"testing"

	"github.com/b0platform/b0/bsvc"
	"github.com/b0platform/b0/xsocket"
	"github.com/stretchr/testify/require"
)

func echoHandler(request []byte, contentType string) ([]byte, string, error) {
	out := make([]byte, len(request))
	copy(out, request)
	return out, contentType, nil
}

func TestCallRoundTrip(t *testing.T) {
	srv, err := bsvc.Bind("echo", "127.0.0.1:0", xsocket.DefaultOptions(), echoHandler)
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Close()

	client, err := bsvc.Dial("echo", srv.Addr(), xsocket.DefaultOptions())
	require.NoError(t, err)
	defer client.Close()

	resp, respContentType, err := client.Call([]byte("ping"), "text/plain", "text/plain")
	require.NoError(t, err)
	require.Equal(t, []byte("ping"), resp)
	require.Equal(t, "text/plain", respContentType)

	// Strict alternation: a second call on the same connection must still
	// work after the first completed.
	resp2, _, err := client.Call([]byte("pong"), "text/plain", "text/plain")
	require.NoError(t, err)
	require.Equal(t, []byte("pong"), resp2)
}

func TestCallContentTypeMismatch(t *testing.T) {
	srv, err := bsvc.Bind("echo", "127.0.0.1:0", xsocket.DefaultOptions(), echoHandler)
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Close()

	client, err := bsvc.Dial("echo", srv.Addr(), xsocket.DefaultOptions())
	require.NoError(t, err)
	defer client.Close()

	_, _, err = client.Call([]byte("ping"), "text/plain", "application/json")
	require.Error(t, err)
	require.Contains(t, err.Error(), "mismatch")
}

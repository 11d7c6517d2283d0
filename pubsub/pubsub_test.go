package pubsub_test

import (
	"net"
	"testing"
	"time"

	"github.com/b0platform/b0/pubsub"
	"github.com/b0platform/b0/xsocket"
	"github.com/stretchr/testify/require"
)

// listenOnce accepts exactly one connection and returns it.
func listenOnce(t *testing.T) (addr string, acceptedCh <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ch := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			ch <- c
		}
		ln.Close()
	}()
	return ln.Addr().String(), ch
}

func TestPublishDeliversHeaderAndPayload(t *testing.T) {
	addr, acceptedCh := listenOnce(t)

	pub, err := pubsub.Connect(addr, xsocket.DefaultOptions())
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Publish("topic.weather", []byte(`{"c":20}`), "application/json"))

	var brokerConn net.Conn
	select {
	case brokerConn = <-acceptedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("broker-side accept timed out")
	}
	defer brokerConn.Close()

	brokerSock := xsocket.New("", true, brokerConn, xsocket.DefaultOptions())
	header, payload, contentType, err := brokerSock.Recv()
	require.NoError(t, err)
	require.Equal(t, "topic.weather", header)
	require.Equal(t, []byte(`{"c":20}`), payload)
	require.Equal(t, "application/json", contentType)
}

func TestSubscriberExactMatchFilter(t *testing.T) {
	addr, acceptedCh := listenOnce(t)

	sub, err := pubsub.Subscribe(addr, "topic.a", xsocket.DefaultOptions(), nil)
	require.NoError(t, err)
	defer sub.Close()

	var brokerConn net.Conn
	select {
	case brokerConn = <-acceptedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("broker-side accept timed out")
	}
	defer brokerConn.Close()

	brokerSock := xsocket.New("", true, brokerConn, xsocket.DefaultOptions())
	require.NoError(t, brokerSock.Send("topic.a", []byte("one"), "text/plain"))
	require.NoError(t, brokerSock.Send("topic.b", []byte("skip-me"), "text/plain"))
	require.NoError(t, brokerSock.Send("topic.a", []byte("two"), "text/plain"))

	msg1, ok := waitPoll(t, sub)
	require.True(t, ok)
	require.Equal(t, "one", string(msg1.Payload))

	msg2, ok := waitPoll(t, sub)
	require.True(t, ok)
	require.Equal(t, "two", string(msg2.Payload))
	require.Equal(t, "topic.a", msg2.Topic)
}

func waitPoll(t *testing.T, sub *pubsub.Subscriber) (pubsub.Message, bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msg, ok := sub.Poll(); ok {
			return msg, true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return pubsub.Message{}, false
}

func TestConflateKeepsNewest(t *testing.T) {
	addr, acceptedCh := listenOnce(t)

	opts := xsocket.DefaultOptions()
	opts.RecvHWM = 1
	opts.Conflate = true
	sub, err := pubsub.Subscribe(addr, "topic.c", opts, nil)
	require.NoError(t, err)
	defer sub.Close()

	var brokerConn net.Conn
	select {
	case brokerConn = <-acceptedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("broker-side accept timed out")
	}
	defer brokerConn.Close()

	brokerSock := xsocket.New("", true, brokerConn, xsocket.DefaultOptions())
	require.NoError(t, brokerSock.Send("topic.c", []byte("one"), "text/plain"))
	require.NoError(t, brokerSock.Send("topic.c", []byte("two"), "text/plain"))
	require.NoError(t, brokerSock.Send("topic.c", []byte("three"), "text/plain"))

	// with a 1-deep conflating mailbox the newest publication wins
	require.Eventually(t, func() bool {
		msg, ok := sub.Poll()
		return ok && string(msg.Payload) == "three"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCallbackModeDrainOnce(t *testing.T) {
	addr, acceptedCh := listenOnce(t)

	var received []string
	sub, err := pubsub.Subscribe(addr, "topic.cb", xsocket.DefaultOptions(), func(m pubsub.Message) {
		received = append(received, string(m.Payload))
	})
	require.NoError(t, err)
	defer sub.Close()

	var brokerConn net.Conn
	select {
	case brokerConn = <-acceptedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("broker-side accept timed out")
	}
	defer brokerConn.Close()

	brokerSock := xsocket.New("", true, brokerConn, xsocket.DefaultOptions())
	require.NoError(t, brokerSock.Send("topic.cb", []byte("x"), "text/plain"))
	require.NoError(t, brokerSock.Send("topic.cb", []byte("y"), "text/plain"))

	require.Eventually(t, func() bool {
		sub.DrainOnce()
		return len(received) == 2
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"x", "y"}, received)
}

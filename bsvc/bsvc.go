// Package bsvc is the request/reply service client and server: a server
// binds a free TCP port, accepts connections, and answers one request at
// a time (strict alternation); a client dials a known address and offers
// a synchronous call().
//
// The accept-loop/handler dispatch shape is one goroutine per
// connection with the handler invoked synchronously, using cmn.Rom's
// timeout knobs for the client's read deadline; the wire transport is
// xsocket.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package bsvc

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/b0platform/b0/cmn"
	"github.com/b0platform/b0/cmn/cos"
	"github.com/b0platform/b0/cmn/nlog"
	"github.com/b0platform/b0/xsocket"
)

// Handler answers one request, returning the reply payload and its
// content type. A non-nil error fails the connection for that request;
// the server logs and drops the connection rather than guessing at a
// reply.
type Handler func(request []byte, contentType string) (reply []byte, replyContentType string, err error)

// Server binds a listener and invokes handler for each incoming request.
// At most one call to handler is ever in flight at a time, across every
// connection: strict request/reply alternation.
type Server struct {
	Name    string
	ln      net.Listener
	opts    xsocket.Options
	handler Handler

	callMu  sync.Mutex
	wg      sync.WaitGroup
	quit    chan struct{}
	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// Bind opens a free TCP port (addr may be "host:0" to let the OS pick)
// and returns a Server that is not yet accepting; call Serve to start the
// accept loop.
func Bind(name, addr string, opts xsocket.Options, handler Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		Name:    name,
		ln:      ln,
		opts:    opts,
		handler: handler,
		quit:    make(chan struct{}),
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

// Addr is the bound listener's address, for announcing to the resolver.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve runs the accept loop until Close is called. It returns once the
// listener is closed.
func (s *Server) Serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				nlog.Warningf("bsvc %s: accept: %v", s.Name, err)
				return
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
	select {
	case <-s.quit:
		// lost the race with Close's sweep over s.conns
		conn.Close()
	default:
	}
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
	}()

	// The server blocks until the peer's next request arrives, however
	// long that takes: a client connection may sit idle between calls
	// (a node's resolver connection is used at init and again only at
	// cleanup). Peer liveness is the heartbeat's job, one layer up.
	opts := s.opts
	opts.ReadTimeout = 0
	sock := xsocket.New(s.Name, false, conn, opts)
	defer sock.Close()

	for {
		_, payload, contentType, err := sock.Recv()
		if err != nil {
			if !cos.IsEOF(err) {
				nlog.Tracef("bsvc %s: recv: %v", s.Name, err)
			}
			return
		}

		s.callMu.Lock()
		reply, replyContentType, herr := s.handler(payload, contentType)
		s.callMu.Unlock()
		if herr != nil {
			nlog.Warningf("bsvc %s: handler: %v", s.Name, herr)
			return
		}

		if err := sock.Send("", reply, replyContentType); err != nil {
			nlog.Tracef("bsvc %s: send: %v", s.Name, err)
			return
		}
	}
}

// Close stops the accept loop, closes every open connection, and waits
// for the per-connection goroutines to exit.
func (s *Server) Close() error {
	close(s.quit)
	err := s.ln.Close()
	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()
	s.wg.Wait()
	return err
}

// Client is a synchronous request/reply connection to one service
// endpoint. It is not safe for concurrent use by multiple goroutines:
// request/reply alternation is per-connection.
type Client struct {
	name string
	sock *xsocket.Socket
	conn net.Conn
}

// Dial connects to a service's address. Name resolution (turning a
// service name into this address) is the caller's responsibility — via
// resolvclient.ResolveService, or a preconfigured remote address — so
// that NameResolutionError surfaces at the resolution step rather than
// here.
func Dial(name, addr string, opts xsocket.Options) (*Client, error) {
	// accept both bare host:port and the tcp://host:port form the
	// B0_RESOLVER env var uses
	addr = strings.TrimPrefix(addr, "tcp://")
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, cmn.NewErrSocketWrite(name, err)
	}
	return &Client{name: name, sock: xsocket.New(name, false, conn, opts), conn: conn}, nil
}

// Call writes request and blocks for the reply under the socket's read
// timeout. If expectedContentType is non-empty and the reply's content
// type doesn't match, it fails with MessageTypeMismatch without
// returning the (possibly misinterpretable) payload.
func (c *Client) Call(request []byte, contentType, expectedContentType string) (response []byte, responseContentType string, err error) {
	if err := c.sock.Send("", request, contentType); err != nil {
		return nil, "", err
	}
	_, payload, respContentType, err := c.sock.Recv()
	if err != nil {
		return nil, "", err
	}
	if expectedContentType != "" && respContentType != expectedContentType {
		return nil, "", cmn.NewErrMessageTypeMismatch(expectedContentType, respContentType)
	}
	return payload, respContentType, nil
}

// SetReadTimeout changes the read timeout applied to subsequent Call
// round trips, without reconnecting. Useful for a connection whose first
// call needs a different deadline than the calls that follow it.
func (c *Client) SetReadTimeout(d time.Duration) { c.sock.Opts.ReadTimeout = d }

// Close closes the underlying connection.
func (c *Client) Close() error { return c.sock.Close() }

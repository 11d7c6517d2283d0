// broker is the resolver's XSUB/XPUB proxy fibre: publishers connect to
// the XSUB listener, subscribers to the XPUB listener, and every message
// received on the XSUB side is forwarded verbatim (topic header + raw
// envelope bytes, undecoded) to every XPUB-side connection whose
// installed prefix filter matches the topic.
//
// One input stream broadcast to N registered outputs under a single
// mutex over the subscriber set; the wire-level pass-through uses
// xsocket.RecvRaw/SendRaw.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package resolver

import (
	"net"
	"strings"
	"sync"

	"github.com/b0platform/b0/cmn/nlog"
	"github.com/b0platform/b0/pubsub"
	"github.com/b0platform/b0/xsocket"
)

type broker struct {
	xsubLn net.Listener
	xpubLn net.Listener
	opts   xsocket.Options

	mu   sync.Mutex
	subs map[*xsocket.Socket][]string // installed topic prefixes per subscriber
	pubs map[*xsocket.Socket]struct{}

	quit chan struct{}
	wg   sync.WaitGroup
}

func newBroker(xsubAddr, xpubAddr string, opts xsocket.Options) (*broker, error) {
	// proxy reads block until a peer sends; Close unblocks them by
	// closing the tracked connections
	opts.ReadTimeout = 0
	xsubLn, err := net.Listen("tcp", xsubAddr)
	if err != nil {
		return nil, err
	}
	xpubLn, err := net.Listen("tcp", xpubAddr)
	if err != nil {
		xsubLn.Close()
		return nil, err
	}
	return &broker{
		xsubLn: xsubLn,
		xpubLn: xpubLn,
		opts:   opts,
		subs:   make(map[*xsocket.Socket][]string),
		pubs:   make(map[*xsocket.Socket]struct{}),
		quit:   make(chan struct{}),
	}, nil
}

func (b *broker) XSubAddr() string { return b.xsubLn.Addr().String() }
func (b *broker) XPubAddr() string { return b.xpubLn.Addr().String() }

// Run starts the XSUB and XPUB accept loops. Returns immediately.
func (b *broker) Run() {
	b.wg.Add(2)
	go b.acceptXSub()
	go b.acceptXPub()
}

func (b *broker) acceptXSub() {
	defer b.wg.Done()
	for {
		conn, err := b.xsubLn.Accept()
		if err != nil {
			select {
			case <-b.quit:
				return
			default:
				nlog.Warningf("broker: xsub accept: %v", err)
				return
			}
		}
		b.wg.Add(1)
		go b.readPublisher(conn)
	}
}

func (b *broker) readPublisher(conn net.Conn) {
	defer b.wg.Done()
	sock := xsocket.New("", true, conn, b.opts)
	b.mu.Lock()
	b.pubs[sock] = struct{}{}
	b.mu.Unlock()
	select {
	case <-b.quit:
		// lost the race with Close's sweep over b.pubs
		sock.Close()
	default:
	}
	defer func() {
		b.mu.Lock()
		delete(b.pubs, sock)
		b.mu.Unlock()
		sock.Close()
	}()
	for {
		topic, raw, err := sock.RecvRaw()
		if err != nil {
			return
		}
		b.fanOut(topic, raw)
	}
}

func (b *broker) fanOut(topic string, raw []byte) {
	b.mu.Lock()
	subs := make([]*xsocket.Socket, 0, len(b.subs))
	for s, prefixes := range b.subs {
		for _, p := range prefixes {
			if strings.HasPrefix(topic, p) {
				subs = append(subs, s)
				break
			}
		}
	}
	b.mu.Unlock()

	for _, s := range subs {
		if err := s.SendRaw(topic, raw); err != nil {
			b.removeSub(s)
		}
	}
}

func (b *broker) acceptXPub() {
	defer b.wg.Done()
	for {
		conn, err := b.xpubLn.Accept()
		if err != nil {
			select {
			case <-b.quit:
				return
			default:
				nlog.Warningf("broker: xpub accept: %v", err)
				return
			}
		}
		sock := xsocket.New("", true, conn, b.opts)
		b.mu.Lock()
		b.subs[sock] = nil
		b.mu.Unlock()

		b.wg.Add(1)
		go b.watchSub(sock)
	}
}

// watchSub reads subscription control frames from a subscriber
// connection (the only application data a subscriber ever sends) and
// removes it from the fan-out set once the connection drops.
func (b *broker) watchSub(sock *xsocket.Socket) {
	defer b.wg.Done()
	select {
	case <-b.quit:
		b.removeSub(sock)
		return
	default:
	}
	for {
		header, payload, err := sock.RecvRaw()
		if err != nil {
			b.removeSub(sock)
			return
		}
		prefix := string(payload)
		switch header {
		case pubsub.CtrlSubscribe:
			b.mu.Lock()
			if prefixes, ok := b.subs[sock]; ok {
				b.subs[sock] = append(prefixes, prefix)
			}
			b.mu.Unlock()
		case pubsub.CtrlUnsubscribe:
			b.mu.Lock()
			if prefixes, ok := b.subs[sock]; ok {
				kept := prefixes[:0]
				for _, p := range prefixes {
					if p != prefix {
						kept = append(kept, p)
					}
				}
				b.subs[sock] = kept
			}
			b.mu.Unlock()
		default:
			// not a control frame; an XPUB peer has nothing else to say
			nlog.Warningf("broker: unexpected frame from subscriber: header %q", header)
		}
	}
}

func (b *broker) removeSub(sock *xsocket.Socket) {
	b.mu.Lock()
	if _, ok := b.subs[sock]; ok {
		delete(b.subs, sock)
		b.mu.Unlock()
		sock.Close()
		return
	}
	b.mu.Unlock()
}

func (b *broker) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close stops both accept loops and closes every connection.
func (b *broker) Close() error {
	close(b.quit)
	err1 := b.xsubLn.Close()
	err2 := b.xpubLn.Close()

	b.mu.Lock()
	for s := range b.subs {
		s.Close()
	}
	b.subs = make(map[*xsocket.Socket][]string)
	for s := range b.pubs {
		s.Close()
	}
	b.mu.Unlock()

	b.wg.Wait()
	if err1 != nil {
		return err1
	}
	return err2
}

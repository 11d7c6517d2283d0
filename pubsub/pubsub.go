// Package pubsub implements the publisher/subscriber primitives:
// publishers connect to the broker's XSUB endpoint and prepend the
// topic as a header frame; subscribers connect to the broker's XPUB
// endpoint, get every message the broker forwards for their prefix, and
// exact-match filter by topic themselves — the broker's prefix match is
// a performance hint only, not the final filter.
//
// The publisher holds a persistent connection whose Send never blocks
// the caller past the write; the subscriber drains into a plain
// buffered-channel mailbox, a bundle-queue-then-drain pattern.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package pubsub

import (
	"net"
	"sync"

	"github.com/b0platform/b0/cmn/nlog"
	"github.com/b0platform/b0/xsocket"
)

// Control frames exchanged with the broker over the XPUB connection,
// mirroring the XPUB/XSUB subscription wire convention: a subscriber
// installs (or removes) its topic prefix filter by sending one frame
// pair whose header is the control byte and whose payload is the prefix.
const (
	CtrlSubscribe   = "\x01"
	CtrlUnsubscribe = "\x00"
)

// Publisher is a persistent connection to the broker's XSUB endpoint.
// Publish prepends the topic as the socket's header frame.
type Publisher struct {
	mu   sync.Mutex
	sock *xsocket.Socket
}

// Connect dials the broker's XSUB address.
func Connect(xsubAddr string, opts xsocket.Options) (*Publisher, error) {
	conn, err := net.Dial("tcp", xsubAddr)
	if err != nil {
		return nil, err
	}
	return &Publisher{sock: xsocket.New("", true, conn, opts)}, nil
}

// Publish sends payload on topic. Safe for concurrent use.
func (p *Publisher) Publish(topic string, payload []byte, contentType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sock.Send(topic, payload, contentType)
}

// Close closes the publisher's connection to the broker.
func (p *Publisher) Close() error { return p.sock.Close() }

// Message is one delivered publication.
type Message struct {
	Topic       string
	Payload     []byte
	ContentType string
}

// Handler is invoked once per message in callback mode.
type Handler func(Message)

// Subscriber is a persistent connection to the broker's XPUB endpoint,
// filtering for exactly one topic. It may be driven in callback mode
// (DrainOnce from a node's spin_once) or manual mode (Poll).
type Subscriber struct {
	Topic    string
	sock     *xsocket.Socket
	mailbox  chan Message
	errs     chan error
	handler  Handler
	conflate bool

	closeOnce sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup
}

// defaultMailboxSize bounds how many undelivered messages a subscriber
// buffers before new publications on its topic are dropped; the RecvHWM
// option overrides it. The bound applies here, not at the transport,
// since the reader goroutine runs ahead of spin_once's drain.
const defaultMailboxSize = 256

// Subscribe dials the broker's XPUB address and starts a background
// reader that exact-match filters on topic and queues matching messages.
// handler may be nil for manual-mode use (see Poll).
func Subscribe(xpubAddr, topic string, opts xsocket.Options, handler Handler) (*Subscriber, error) {
	conn, err := net.Dial("tcp", xpubAddr)
	if err != nil {
		return nil, err
	}
	// The read loop blocks until the broker forwards something, however
	// long that takes; Close unblocks it by closing the connection.
	opts.ReadTimeout = 0
	size := defaultMailboxSize
	if opts.RecvHWM > 0 {
		size = opts.RecvHWM
	}
	s := &Subscriber{
		Topic: topic,
		// Name left empty: xsocket.Recv would otherwise reject any frame
		// whose header isn't an exact match, but the broker's prefix
		// forwarding can admit near-misses that this subscriber must
		// itself filter (see readLoop) rather than have xsocket error on.
		sock:     xsocket.New("", true, conn, opts),
		mailbox:  make(chan Message, size),
		errs:     make(chan error, 1),
		handler:  handler,
		conflate: opts.Conflate,
		quit:     make(chan struct{}),
	}
	// install the broker-side prefix filter before anything can be
	// forwarded; exact-match filtering still happens in readLoop
	if err := s.sock.SendRaw(CtrlSubscribe, []byte(topic)); err != nil {
		s.sock.Close()
		return nil, err
	}
	s.wg.Add(1)
	go s.readLoop()
	return s, nil
}

func (s *Subscriber) readLoop() {
	defer s.wg.Done()
	for {
		header, payload, contentType, err := s.sock.Recv()
		select {
		case <-s.quit:
			return
		default:
		}
		if err != nil {
			select {
			case s.errs <- err:
			default:
			}
			return
		}
		if header != s.Topic {
			// Broker-side prefix match may admit near-misses; the
			// subscriber is the authority on exact topic equality.
			continue
		}
		msg := Message{Topic: header, Payload: payload, ContentType: contentType}
		select {
		case s.mailbox <- msg:
		default:
			if s.conflate {
				// keep only the newest message
				select {
				case <-s.mailbox:
				default:
				}
				select {
				case s.mailbox <- msg:
				default:
				}
			} else {
				nlog.Warningf("pubsub: subscriber %s: mailbox full, dropping message", s.Topic)
			}
		}
	}
}

// DrainOnce invokes the callback-mode handler for every message
// currently queued, without blocking for more to arrive. This is the
// callback-mode semantics for spin_once.
func (s *Subscriber) DrainOnce() {
	if s.handler == nil {
		return
	}
	for {
		select {
		case msg := <-s.mailbox:
			s.handler(msg)
		default:
			return
		}
	}
}

// Poll returns the next queued message for manual-mode callers, or
// ok=false if none is queued.
func (s *Subscriber) Poll() (msg Message, ok bool) {
	select {
	case msg = <-s.mailbox:
		return msg, true
	default:
		return Message{}, false
	}
}

// Err returns the error that terminated the read loop, if any, without
// blocking.
func (s *Subscriber) Err() error {
	select {
	case err := <-s.errs:
		return err
	default:
		return nil
	}
}

// Close stops the read loop and closes the connection. The broker drops
// the prefix filter with the connection, so no explicit unsubscribe
// frame is needed on this path.
func (s *Subscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.quit)
		err = s.sock.Close()
		s.wg.Wait()
	})
	return err
}

// Package xsocket is the socket wrapper: one-shot send/recv with
// envelope framing over a connected TCP socket, plus option knobs
// (timeouts, linger, backlog, immediate, conflate, high-water marks).
//
// Wire framing is length-prefixed multipart, the same discipline
// ZeroMQ-style multipart messages use: a header frame, then exactly one
// payload frame, where every frame is
// [4-byte big-endian length][1-byte more-flag][payload]. A socket
// configured with has_header always sends/expects a text header frame
// (the topic name) ahead of the single envelope-encoded payload frame;
// any further frame following the payload is rejected with
// MessageTooManyParts.
//
// The option-knob struct mirrors a transport send-path's Extra struct;
// the wire loop itself is a raw-socket multipart framing, not an
// HTTP-stream transport.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package xsocket

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/b0platform/b0/cmn"
	"github.com/b0platform/b0/compress"
	"github.com/b0platform/b0/envelope"
)

// Options are the option knobs. ReadTimeout, WriteTimeout and Linger
// are applied to the underlying net.Conn; RecvHWM and Conflate are
// consumed one layer up (pubsub mailbox sizing/drop policy). Backlog,
// Immediate and SendHWM are carried but not applied anywhere: listeners
// use the OS default backlog.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Linger       time.Duration
	Backlog      int
	Immediate    bool
	Conflate     bool
	RecvHWM      int
	SendHWM      int
}

// DefaultOptions takes its timeouts from the current cmn.Rom values.
func DefaultOptions() Options {
	return Options{
		ReadTimeout:  cmn.Rom.Read,
		WriteTimeout: cmn.Rom.Write,
		Linger:       cmn.Rom.Linger,
		Backlog:      128,
	}
}

// Socket wraps a connected net.Conn with envelope framing. Name is the
// socket's own identity for has_header validation: when Name is
// non-empty, Recv fails with HeaderMismatch if a header frame's topic
// doesn't match it. B0_DEBUG_SOCKET pattern matching uses the separate
// tag set by SetDebugTag.
type Socket struct {
	Name      string
	HasHeader bool
	Conn      net.Conn
	Opts      Options

	CompressionAlgorithm string
	CompressionLevel     int

	debugTag string // "<node>.<socket>", set by the owner for dump matching
}

// New wraps an already-connected/accepted net.Conn.
func New(name string, hasHeader bool, conn net.Conn, opts Options) *Socket {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetLinger(int(opts.Linger / time.Second))
	}
	return &Socket{Name: name, HasHeader: hasHeader, Conn: conn, Opts: opts}
}

// SetDebugTag sets the "<node>.<socket>" identity used by B0_DEBUG_SOCKET
// pattern matching (see xsocket/debugdump.go).
func (s *Socket) SetDebugTag(tag string) { s.debugTag = tag }

// Close closes the underlying connection.
func (s *Socket) Close() error {
	if s.Conn == nil {
		return nil
	}
	return s.Conn.Close()
}

const (
	frameLenSize = 4
	flagMore     = byte(1)
	flagFinal    = byte(0)
)

func (s *Socket) writeFrame(payload []byte, more bool) error {
	if s.Opts.WriteTimeout > 0 {
		s.Conn.SetWriteDeadline(time.Now().Add(s.Opts.WriteTimeout))
	}
	hdr := make([]byte, frameLenSize+1)
	binary.BigEndian.PutUint32(hdr, uint32(len(payload)+1))
	if more {
		hdr[frameLenSize] = flagMore
	} else {
		hdr[frameLenSize] = flagFinal
	}
	if _, err := s.Conn.Write(hdr); err != nil {
		return cmn.NewErrSocketWrite(s.Name, err)
	}
	if len(payload) > 0 {
		if _, err := s.Conn.Write(payload); err != nil {
			return cmn.NewErrSocketWrite(s.Name, err)
		}
	}
	return nil
}

func (s *Socket) readFrame() (payload []byte, more bool, err error) {
	if s.Opts.ReadTimeout > 0 {
		s.Conn.SetReadDeadline(time.Now().Add(s.Opts.ReadTimeout))
	}
	lenBuf := make([]byte, frameLenSize+1)
	if _, err := io.ReadFull(s.Conn, lenBuf); err != nil {
		return nil, false, cmn.NewErrSocketRead(s.Name, err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:frameLenSize])
	more = lenBuf[frameLenSize] == flagMore
	if n == 0 {
		return nil, more, nil
	}
	body := make([]byte, n-1)
	if _, err := io.ReadFull(s.Conn, body); err != nil {
		return nil, false, cmn.NewErrSocketRead(s.Name, err)
	}
	return body, more, nil
}

// Send wraps payload in an envelope (optionally compressed) and, when
// HasHeader, prepends a text header frame carrying header (the topic
// name for publishers).
func (s *Socket) Send(header string, payload []byte, contentType string) error {
	part := envelope.Part{ContentType: contentType, Payload: payload}
	if s.CompressionAlgorithm != "" {
		codec, err := compress.Lookup(s.CompressionAlgorithm)
		if err != nil {
			return err
		}
		compressed, err := codec.Compress(payload, s.CompressionLevel)
		if err != nil {
			return err
		}
		part.CompressionAlgorithm = s.CompressionAlgorithm
		part.CompressionLevel = s.CompressionLevel
		part.UncompressedContentLength = len(payload)
		part.Payload = compressed
	}
	encoded, err := envelope.Single(part).Encode()
	if err != nil {
		return err
	}

	s.maybeDumpOut(header, payload)

	if s.HasHeader {
		if err := s.writeFrame([]byte(header), true); err != nil {
			return err
		}
	}
	return s.writeFrame(encoded, false)
}

// Recv consumes an optional header frame and exactly one payload frame,
// decodes+decompresses the envelope, and rejects any further frame with
// MessageTooManyParts.
func (s *Socket) Recv() (header string, payload []byte, contentType string, err error) {
	frame1, more1, err := s.readFrame()
	if err != nil {
		return "", nil, "", err
	}

	var envBytes []byte
	if s.HasHeader {
		if !more1 {
			return "", nil, "", cmn.NewErrMessageMissingHeader(s.Name)
		}
		header = string(frame1)
		if s.Name != "" && header != s.Name {
			return "", nil, "", cmn.NewErrHeaderMismatch(s.Name, header)
		}
		frame2, more2, err := s.readFrame()
		if err != nil {
			return "", nil, "", err
		}
		if more2 {
			n := s.drainExtra()
			return "", nil, "", cmn.NewErrMessageTooManyParts(s.Name, 2+n)
		}
		envBytes = frame2
	} else {
		if more1 {
			n := s.drainExtra()
			return "", nil, "", cmn.NewErrMessageTooManyParts(s.Name, 1+n)
		}
		envBytes = frame1
	}

	env, err := envelope.Decode(envBytes)
	if err != nil {
		return "", nil, "", err
	}
	if len(env.Parts) != 1 {
		return "", nil, "", cmn.NewErrEnvelopeDecode("expected exactly one part")
	}
	p := env.Parts[0]
	out := p.Payload
	if p.CompressionAlgorithm != "" {
		codec, err := compress.Lookup(p.CompressionAlgorithm)
		if err != nil {
			return "", nil, "", err
		}
		out, err = codec.Decompress(p.Payload, p.UncompressedContentLength)
		if err != nil {
			return "", nil, "", err
		}
	}
	s.maybeDumpIn(header, out)
	return header, out, p.ContentType, nil
}

// RecvRaw consumes a header frame and exactly one payload frame without
// decoding the envelope, for callers that only forward bytes without
// interpretation (the broker proxy fibre). Framing errors (missing
// header, too many parts) are still enforced.
func (s *Socket) RecvRaw() (header string, rawEnvelope []byte, err error) {
	frame1, more1, err := s.readFrame()
	if err != nil {
		return "", nil, err
	}
	if !more1 {
		return "", nil, cmn.NewErrMessageMissingHeader(s.Name)
	}
	header = string(frame1)
	frame2, more2, err := s.readFrame()
	if err != nil {
		return "", nil, err
	}
	if more2 {
		n := s.drainExtra()
		return "", nil, cmn.NewErrMessageTooManyParts(s.Name, 2+n)
	}
	return header, frame2, nil
}

// SendRaw writes a header frame followed by a pre-encoded envelope frame
// exactly as given, without re-encoding or recompressing — the broker
// proxy's forwarding path.
func (s *Socket) SendRaw(header string, rawEnvelope []byte) error {
	if err := s.writeFrame([]byte(header), true); err != nil {
		return err
	}
	return s.writeFrame(rawEnvelope, false)
}

// drainExtra reads and discards remaining frames of an over-long message
// so the connection isn't left mid-message, then reports how many it drained.
func (s *Socket) drainExtra() int {
	n := 0
	for {
		_, more, err := s.readFrame()
		n++
		if err != nil || !more {
			return n
		}
	}
}

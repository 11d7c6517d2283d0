// Package envelope implements the wire framing that wraps every payload
// crossing a socket boundary: a text header block of "Key: Value" lines
// terminated by a blank line, followed by the concatenated (optionally
// compressed) part payloads.
//
// Each part carries explicit content-length/content-type/compression
// fields in a human-readable, order-independent ASCII header, rather
// than a binary stream-coupled framing.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package envelope

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/b0platform/b0/cmn"
	"github.com/b0platform/b0/cmn/debug"
)

// Part is a single framed payload. Only one part is ever produced by
// this middleware's core, but the codec itself is part-count-generic so
// it round-trips whatever it's given.
type Part struct {
	ContentType               string // optional
	CompressionAlgorithm      string // optional; "" == identity
	CompressionLevel          int    // optional; meaningless when CompressionAlgorithm == ""
	UncompressedContentLength int    // required when CompressionAlgorithm != ""
	Payload                   []byte // already compressed, ready to write on the wire
}

// Envelope is the decoded/about-to-be-encoded frame.
type Envelope struct {
	Parts []Part
}

// Single builds a one-part Envelope, the shape every socket wrapper in
// this middleware produces.
func Single(p Part) *Envelope { return &Envelope{Parts: []Part{p}} }

const (
	hdrPartCount   = "Part-count"
	hdrContentLen  = "Content-length-"
	hdrContentType = "Content-type-"
	hdrCompAlgo    = "Compression-algorithm-"
	hdrCompLevel   = "Compression-level-"
	hdrUncompLen   = "Uncompressed-content-length-"
)

// Encode produces the full wire representation: header block, blank
// line, then concatenated part payloads in order. The encoder does not
// rely on map ordering — it writes Part-count first, then walks parts
// in index order.
func (e *Envelope) Encode() ([]byte, error) {
	if len(e.Parts) == 0 {
		return nil, cmn.NewErrEnvelopeEncode("no parts")
	}
	var hdr bytes.Buffer
	fmt.Fprintf(&hdr, "%s: %d\n", hdrPartCount, len(e.Parts))
	for i, p := range e.Parts {
		fmt.Fprintf(&hdr, "%s%d: %d\n", hdrContentLen, i, len(p.Payload))
		if p.ContentType != "" {
			fmt.Fprintf(&hdr, "%s%d: %s\n", hdrContentType, i, p.ContentType)
		}
		if p.CompressionAlgorithm != "" {
			fmt.Fprintf(&hdr, "%s%d: %s\n", hdrCompAlgo, i, p.CompressionAlgorithm)
			fmt.Fprintf(&hdr, "%s%d: %d\n", hdrCompLevel, i, p.CompressionLevel)
			fmt.Fprintf(&hdr, "%s%d: %d\n", hdrUncompLen, i, p.UncompressedContentLength)
		}
	}
	hdr.WriteByte('\n')

	out := make([]byte, 0, hdr.Len()+totalPayload(e.Parts))
	out = append(out, hdr.Bytes()...)
	for _, p := range e.Parts {
		out = append(out, p.Payload...)
	}
	return out, nil
}

func totalPayload(parts []Part) int {
	n := 0
	for _, p := range parts {
		n += len(p.Payload)
	}
	return n
}

// Decode parses the header block and slices the payload bytes out of b.
// It MUST fail with cmn.ErrEnvelopeDecode if any required field is
// missing or malformed, and MUST accept any ordering of header lines.
func Decode(b []byte) (*Envelope, error) {
	headerEnd := bytes.Index(b, []byte("\n\n"))
	if headerEnd < 0 {
		return nil, cmn.NewErrEnvelopeDecode("missing blank line terminating header block")
	}
	fields := map[string]string{}
	for _, line := range strings.Split(string(b[:headerEnd]), "\n") {
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, cmn.NewErrEnvelopeDecode(fmt.Sprintf("malformed header line %q", line))
		}
		fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	pcStr, ok := fields[hdrPartCount]
	if !ok {
		return nil, cmn.NewErrEnvelopeDecode("missing " + hdrPartCount)
	}
	partCount, err := strconv.Atoi(pcStr)
	if err != nil || partCount < 0 {
		return nil, cmn.NewErrEnvelopeDecode("invalid " + hdrPartCount + ": " + pcStr)
	}

	env := &Envelope{Parts: make([]Part, partCount)}
	off := headerEnd + 2
	for i := 0; i < partCount; i++ {
		clStr, ok := fields[fmt.Sprintf("%s%d", hdrContentLen, i)]
		if !ok {
			return nil, cmn.NewErrEnvelopeDecode(fmt.Sprintf("missing %s%d", hdrContentLen, i))
		}
		cl, err := strconv.Atoi(clStr)
		if err != nil || cl < 0 {
			return nil, cmn.NewErrEnvelopeDecode(fmt.Sprintf("invalid %s%d: %s", hdrContentLen, i, clStr))
		}
		if off+cl > len(b) {
			return nil, cmn.NewErrEnvelopeDecode("payload shorter than declared content-length")
		}
		p := &env.Parts[i]
		p.Payload = b[off : off+cl]
		off += cl

		p.ContentType = fields[fmt.Sprintf("%s%d", hdrContentType, i)]
		if algo, ok := fields[fmt.Sprintf("%s%d", hdrCompAlgo, i)]; ok {
			p.CompressionAlgorithm = algo
			p.CompressionLevel = -1 // absent level means the algorithm default
			if lvlStr, ok := fields[fmt.Sprintf("%s%d", hdrCompLevel, i)]; ok {
				lvl, err := strconv.Atoi(lvlStr)
				if err != nil {
					return nil, cmn.NewErrEnvelopeDecode(fmt.Sprintf("invalid %s%d: %s", hdrCompLevel, i, lvlStr))
				}
				p.CompressionLevel = lvl
			}

			ucStr, ok := fields[fmt.Sprintf("%s%d", hdrUncompLen, i)]
			if !ok {
				return nil, cmn.NewErrEnvelopeDecode(fmt.Sprintf("missing %s%d for compressed part", hdrUncompLen, i))
			}
			uc, err := strconv.Atoi(ucStr)
			if err != nil || uc < 0 {
				return nil, cmn.NewErrEnvelopeDecode(fmt.Sprintf("invalid %s%d: %s", hdrUncompLen, i, ucStr))
			}
			p.UncompressedContentLength = uc
		}
	}
	debug.Assertf(len(env.Parts) == partCount, "decoded %d parts, header declared %d", len(env.Parts), partCount)
	return env, nil
}

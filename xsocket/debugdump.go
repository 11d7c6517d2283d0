// B0_DEBUG_SOCKET support: colon-separated "<node>.<socket>" glob
// patterns (each part may be "*"); a socket whose debug tag matches any
// pattern gets its payloads dumped at trace level. Only sockets given a
// tag with SetDebugTag are matched; bnode, pubsub, bsvc and the resolver
// set no tag, so their sockets are never dumped.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package xsocket

import (
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/b0platform/b0/cmn/nlog"
)

var (
	patternsMu sync.RWMutex
	patterns   []string // e.g. "worker.out" or "*.graph"

	// matchCache memoizes glob evaluation results keyed by a hash of
	// (tag, pattern-set-version) so repeated sends on a hot socket don't
	// re-walk the pattern list. Grounded on arloliu-mebo's use of
	// cespare/xxhash for fast content-addressed cache keys.
	matchCacheMu sync.Mutex
	matchCache   = map[uint64]bool{}
	patternsVer  uint64
)

// SetDebugPatterns parses B0_DEBUG_SOCKET's colon-separated pattern list.
// Called once by brt.Runtime at startup.
func SetDebugPatterns(spec string) {
	patternsMu.Lock()
	defer patternsMu.Unlock()
	patterns = nil
	if spec != "" {
		patterns = strings.Split(spec, ":")
	}
	patternsVer++
	matchCacheMu.Lock()
	matchCache = map[uint64]bool{}
	matchCacheMu.Unlock()
}

func debugEnabled(tag string) bool {
	if tag == "" {
		return false
	}
	patternsMu.RLock()
	pats := patterns
	ver := patternsVer
	patternsMu.RUnlock()
	if len(pats) == 0 {
		return false
	}

	key := xxhash.Sum64String(tag) ^ ver
	matchCacheMu.Lock()
	if v, ok := matchCache[key]; ok {
		matchCacheMu.Unlock()
		return v
	}
	matchCacheMu.Unlock()

	match := false
	for _, pat := range pats {
		if matchTag(pat, tag) {
			match = true
			break
		}
	}
	matchCacheMu.Lock()
	matchCache[key] = match
	matchCacheMu.Unlock()
	return match
}

// matchTag compares "<node>.<socket>" patterns, each part either "*" or
// a literal.
func matchTag(pattern, tag string) bool {
	pp := strings.SplitN(pattern, ".", 2)
	tp := strings.SplitN(tag, ".", 2)
	if len(pp) != 2 || len(tp) != 2 {
		return pattern == tag
	}
	return (pp[0] == "*" || pp[0] == tp[0]) && (pp[1] == "*" || pp[1] == tp[1])
}

const dumpMax = 64

func (s *Socket) maybeDumpOut(header string, payload []byte) {
	if !debugEnabled(s.debugTag) {
		return
	}
	nlog.Tracef("%s: send header=%q payload=%s", s.debugTag, header, dumpBytes(payload))
}

func (s *Socket) maybeDumpIn(header string, payload []byte) {
	if !debugEnabled(s.debugTag) {
		return
	}
	nlog.Tracef("%s: recv header=%q payload=%s", s.debugTag, header, dumpBytes(payload))
}

func dumpBytes(b []byte) string {
	if len(b) > dumpMax {
		return string(b[:dumpMax]) + "...(truncated)"
	}
	return string(b)
}

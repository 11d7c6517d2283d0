// Package nlog is the node/resolver console logger: leveled, timestamped,
// single-writer-locked output to stderr. Trimmed down to the
// console-only sink that B0_CONSOLE_LOGLEVEL calls for (no file
// rotation: nothing in this middleware writes log files).
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type severity int

const (
	SevTrace severity = iota
	SevDebug
	SevInfo
	SevWarn
	SevErr
	SevFatal
)

var sevChar = [...]byte{'T', 'D', 'I', 'W', 'E', 'F'}

// ParseLevel maps the B0_CONSOLE_LOGLEVEL / --console-loglevel string to a
// severity; unrecognized strings fall back to SevInfo.
func ParseLevel(s string) severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return SevTrace
	case "debug":
		return SevDebug
	case "warn", "warning":
		return SevWarn
	case "error":
		return SevErr
	case "fatal":
		return SevFatal
	default:
		return SevInfo
	}
}

var (
	mu    sync.Mutex
	level = SevInfo
)

// SetLevel sets the minimum severity that reaches stderr. Safe to call
// concurrently with logging calls.
func SetLevel(l severity) {
	mu.Lock()
	level = l
	mu.Unlock()
}

func enabled(sev severity) bool {
	mu.Lock()
	defer mu.Unlock()
	return sev >= level
}

func log(sev severity, depth int, format string, args ...any) {
	if !enabled(sev) {
		return
	}
	var b strings.Builder
	formatHdr(sev, depth+1, &b)
	if format == "" {
		fmt.Fprintln(&b, args...)
	} else {
		fmt.Fprintf(&b, format, args...)
		if !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}
	mu.Lock()
	os.Stderr.WriteString(b.String())
	mu.Unlock()
	if sev == SevFatal {
		os.Exit(1)
	}
}

func formatHdr(sev severity, depth int, b *strings.Builder) {
	b.WriteByte(sevChar[sev])
	b.WriteByte(' ')
	b.WriteString(time.Now().Format("15:04:05.000000"))
	b.WriteByte(' ')
	_, fn, ln, ok := runtime.Caller(2 + depth)
	if ok {
		if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
			fn = fn[idx+1:]
		}
		b.WriteString(fn)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(ln))
		b.WriteByte(' ')
	}
}

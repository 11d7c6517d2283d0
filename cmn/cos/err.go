// Package cos provides common low-level types and utilities shared across
// the node runtime, resolver, and socket layers.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/b0platform/b0/cmn/nlog"
)

//
// retriable transport errors
//

func IsErrConnectionRefused(err error) bool { return errors.Is(err, syscall.ECONNREFUSED) }
func IsErrConnectionReset(err error) bool   { return errors.Is(err, syscall.ECONNRESET) }
func IsErrBrokenPipe(err error) bool        { return errors.Is(err, syscall.EPIPE) }

// IsRetriableConnErr reports whether a socket read/write error is a
// connection-refused, connection-reset, or broken-pipe error.
func IsRetriableConnErr(err error) bool {
	return IsErrConnectionRefused(err) || IsErrConnectionReset(err) || IsErrBrokenPipe(err)
}

// IsEOF reports a clean peer close or a locally-closed connection, the
// two ways a request/reply loop normally ends.
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, net.ErrClosed)
}

//
// abnormal termination (process init failure, CLI arg errors)
//

const fatalPrefix = "FATAL ERROR: "

// Exitf prints a message and exits 1, without touching the logger (for
// use before flags/logging are set up).
func Exitf(f string, a ...any) {
	fmt.Fprintln(os.Stderr, fmt.Sprintf(fatalPrefix+f, a...))
	os.Exit(1)
}

// ExitLogf logs the fatal error through nlog (so it carries the usual
// timestamp/caller header) and then exits 1.
func ExitLogf(f string, a ...any) {
	msg := fmt.Sprintf(fatalPrefix+f, a...)
	nlog.ErrorDepth(1, msg)
	os.Exit(1)
}

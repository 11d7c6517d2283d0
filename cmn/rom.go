// Package cmn provides common constants, types, and read-mostly runtime
// knobs shared by the node runtime and the resolver service.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import "time"

// Timeouts collects the handful of durations that recur across the
// socket wrapper, service client, and heartbeat/sweeper fibres: set once
// at startup (or left at these defaults) and read often without
// re-parsing config on every call.
type Timeouts struct {
	Announce     time.Duration // resolver client AnnounceNode read-timeout
	Heartbeat    time.Duration // time between Heartbeat sends (1s)
	HeartbeatTTL time.Duration // resolver sweep window (5s)
	Sweep        time.Duration // resolver sweeper fibre interval (500ms)
	Read         time.Duration // default socket read-timeout
	Write        time.Duration // default socket write-timeout
	Linger       time.Duration // default socket linger
}

// DefaultTimeouts holds the defaults applied at process startup.
var DefaultTimeouts = Timeouts{
	Announce:     2 * time.Second,
	Heartbeat:    time.Second,
	HeartbeatTTL: 5 * time.Second,
	Sweep:        500 * time.Millisecond,
	Read:         5 * time.Second,
	Write:        5 * time.Second,
	Linger:       0,
}

// Rom is the process-wide read-mostly timeouts value: overridden, if at
// all, once at process startup before any node or resolver is built,
// and read without locking afterward.
var Rom = DefaultTimeouts

func (t *Timeouts) Set(o Timeouts) { *t = o }

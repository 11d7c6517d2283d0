// Package tsync implements the per-node slope-limited clock-offset
// tracker: hardware_now(), now(), and update(remote_µs).
//
// hardware_now() builds on cmn/mono's monotonic-time helper. The
// critical section guarding the handful of offset integers is a plain
// sync.Mutex rather than lock-free atomics, since it's only ever a
// handful of arithmetic ops.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package tsync

import (
	"sync"

	"github.com/b0platform/b0/cmn/mono"
)

// DefaultMaxSlope is the default bound on how fast the returned offset
// may move toward its target, in µs of offset per µs of real time.
const DefaultMaxSlope = 0.5

// State tracks a smoothed clock offset that approaches a moving target.
// The first Update sets the offset to its target in one step; from then
// on the offset never jumps: now() is continuous and changes at a
// bounded rate.
type State struct {
	mu sync.Mutex

	target      int64   // last reported (remote - local) offset, µs
	snapshot    int64   // smoothed offset value at snapshotAt
	snapshotAt  int64   // hardware_now() at which snapshot was valid, µs
	maxSlope    float64 // µs of offset per µs of real time
	initialized bool    // first update adopts the target outright
}

// New returns a State with offset zero and the default max-slope bound.
func New() *State { return &State{maxSlope: DefaultMaxSlope} }

// NewWithSlope lets a caller override the slope bound (e.g. for tests
// that want to observe convergence within a short window).
func NewWithSlope(maxSlope float64) *State { return &State{maxSlope: maxSlope} }

// HardwareNow returns monotonic local time in microseconds.
func HardwareNow() int64 { return mono.MicroTime() }

// Now returns hardware_now() + the current smoothed offset.
func (s *State) Now() int64 { return HardwareNow() + s.smoothedOffset() }

// Update records a new target offset, snapshotting the current smoothed
// value as the new interpolation start point so Now() never jumps. The
// very first update adopts the target outright: the reference clock and
// the local monotonic clock have unrelated epochs, so the initial offset
// is arbitrarily large and is established before anyone reads Now().
func (s *State) Update(remoteUs int64) {
	now := HardwareNow()
	s.mu.Lock()
	target := remoteUs - now
	if !s.initialized {
		s.snapshot = target
		s.initialized = true
	} else {
		s.snapshot = s.interpolate(now)
	}
	s.snapshotAt = now
	s.target = target
	s.mu.Unlock()
}

func (s *State) smoothedOffset() int64 {
	now := HardwareNow()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interpolate(now)
}

// interpolate must be called with s.mu held.
func (s *State) interpolate(now int64) int64 {
	if !s.initialized {
		return 0
	}
	delta := s.target - s.snapshot
	if delta == 0 {
		return s.target
	}
	elapsed := now - s.snapshotAt
	if elapsed < 0 {
		elapsed = 0
	}
	maxMove := int64(float64(elapsed) * s.maxSlope)
	if delta > 0 {
		if maxMove >= delta {
			return s.target
		}
		return s.snapshot + maxMove
	}
	// delta < 0
	if maxMove >= -delta {
		return s.target
	}
	return s.snapshot - maxMove
}

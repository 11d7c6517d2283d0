// Package mono provides a monotonic time source for hardware_now()/now()
// in tsync, and for the heartbeat and housekeeper fibres' tick accounting.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

// epoch is an arbitrary process-start reference point; NanoTime returns
// nanoseconds elapsed since it. Using time.Since on a fixed start value
// rides Go's monotonic clock reading (every time.Time carries one as long
// as it derives from time.Now()), so NanoTime is immune to wall-clock
// adjustments without resorting to the runtime.nanotime linkname trick.
var epoch = time.Now()

func NanoTime() int64 { return time.Since(epoch).Nanoseconds() }

func MicroTime() int64 { return NanoTime() / 1000 }

package hk_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/b0platform/b0/hk"
	"github.com/stretchr/testify/require"
)

func TestFiresRepeatedly(t *testing.T) {
	h := hk.New()
	h.Run()
	defer h.Stop()

	var count int32
	h.Register("counter", 10*time.Millisecond, func() time.Duration {
		atomic.AddInt32(&count, 1)
		return 0
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&count) >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestUnregisterStopsFiring(t *testing.T) {
	h := hk.New()
	h.Run()
	defer h.Stop()

	var count int32
	h.Register("stoppable", 10*time.Millisecond, func() time.Duration {
		atomic.AddInt32(&count, 1)
		return 0
	})
	require.Eventually(t, func() bool { return atomic.LoadInt32(&count) >= 1 }, time.Second, 5*time.Millisecond)

	h.Unregister("stoppable")
	after := atomic.LoadInt32(&count)
	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, atomic.LoadInt32(&count), after+1) // at most one in-flight fire races the unregister
}

func TestTwoTimersIndependentIntervals(t *testing.T) {
	h := hk.New()
	h.Run()
	defer h.Stop()

	var fast, slow int32
	h.Register("fast", 5*time.Millisecond, func() time.Duration {
		atomic.AddInt32(&fast, 1)
		return 0
	})
	h.Register("slow", 200*time.Millisecond, func() time.Duration {
		atomic.AddInt32(&slow, 1)
		return 0
	})

	require.Eventually(t, func() bool { return atomic.LoadInt32(&fast) >= 5 }, time.Second, 5*time.Millisecond)
	require.LessOrEqual(t, atomic.LoadInt32(&slow), int32(2))
}

package tsync_test

import (
	"testing"
	"time"

	"github.com/b0platform/b0/tsync"
	"github.com/stretchr/testify/require"
)

func TestMonotonicNonDecreasing(t *testing.T) {
	s := tsync.New()
	s.Update(tsync.HardwareNow() + 1_000_000) // 1s ahead
	prev := s.Now()
	for i := 0; i < 100; i++ {
		cur := s.Now()
		require.GreaterOrEqual(t, cur, prev)
		prev = cur
		time.Sleep(time.Millisecond)
	}
}

func TestConvergesToTarget(t *testing.T) {
	s := tsync.NewWithSlope(1000) // very steep, converges almost instantly
	before := s.Now()
	require.InDelta(t, 0, before-tsync.HardwareNow(), 1000)

	s.Update(tsync.HardwareNow() + 50_000) // 50ms ahead
	time.Sleep(5 * time.Millisecond)
	after := s.Now()
	require.InDelta(t, 50_000, after-tsync.HardwareNow(), 2000)
}

func TestNoJumpOnUpdate(t *testing.T) {
	s := tsync.NewWithSlope(tsync.DefaultMaxSlope)
	s.Update(tsync.HardwareNow() + 10_000_000) // way ahead, slow slope
	just := s.Now()
	s.Update(tsync.HardwareNow() - 10_000_000) // flip target the other way
	immediatelyAfter := s.Now()
	// bounded move: with the default 0.5 slope and near-zero elapsed time,
	// the value right after Update must be close to the pre-update value.
	require.InDelta(t, just, immediatelyAfter, 5000)
}

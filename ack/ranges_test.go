package ack

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRangesInOrder(t *testing.T) {
	var r Ranges
	r.Add(1)
	r.Add(2)
	r.Add(3)
	require.Equal(t, uint64(3), r.Largest())
	largest, ranges := r.Encode(0)
	require.Equal(t, uint64(3), largest)
	require.Equal(t, []uint64{3}, ranges)
	require.True(t, r.Contains(1))
	require.True(t, r.Contains(2))
	require.True(t, r.Contains(3))
	require.False(t, r.Contains(4))
}

func TestRangesWithGap(t *testing.T) {
	var r Ranges
	r.Add(1)
	r.Add(2)
	r.Add(5) // gap: 3,4 missing
	_, ranges := r.Encode(0)
	// run=1 (just 5), gap=2 (4,3 missing), run=2 (2,1)
	require.Equal(t, []uint64{1, 2, 2}, ranges)
	require.False(t, r.Contains(3))
	require.False(t, r.Contains(4))
	require.True(t, r.Contains(5))
}

func TestRangesFillGapAtBoundaries(t *testing.T) {
	var r Ranges
	r.Add(1)
	r.Add(2)
	r.Add(5)
	// fill top of gap (adjacent to the run ending at 5)
	r.Add(4)
	_, ranges := r.Encode(0)
	require.Equal(t, []uint64{2, 1, 2}, ranges)

	// fill remaining gap entry (3), merging everything into one run
	r.Add(3)
	_, ranges = r.Encode(0)
	require.Equal(t, []uint64{5}, ranges)
}

func TestRangesFillGapInterior(t *testing.T) {
	var r Ranges
	r.Add(1)
	r.Add(10) // largest=10, gap 2..9 (length 8)
	_, ranges := r.Encode(0)
	require.Equal(t, []uint64{1, 8, 1}, ranges)

	r.Add(5) // interior of the gap
	_, ranges = r.Encode(0)
	// run=1 (10), upper gap (9-5=4): {6,7,8,9}, run=1 (5), lower gap (5-2=3): {2,3,4}, run=1 (1)
	require.Equal(t, []uint64{1, 4, 1, 3, 1}, ranges)
	require.True(t, r.Contains(5))
	require.False(t, r.Contains(4))
	require.False(t, r.Contains(6))
}

func TestRangesDuplicateIsNoop(t *testing.T) {
	var r Ranges
	r.Add(1)
	r.Add(2)
	before, beforeRanges := r.Encode(0)
	r.Add(2)
	after, afterRanges := r.Encode(0)
	require.Equal(t, before, after)
	require.Equal(t, beforeRanges, afterRanges)
}

func TestRangesNewLeadingRunWithGap(t *testing.T) {
	var r Ranges
	r.Add(5)
	r.Add(10) // jump ahead, gap of 6..9 (length 4)
	require.Equal(t, uint64(10), r.Largest())
	_, ranges := r.Encode(0)
	require.Equal(t, []uint64{1, 4, 1}, ranges)
}

func TestRangesEncodeCap(t *testing.T) {
	var r Ranges
	for i := uint64(1); i <= 20; i += 2 {
		r.Add(i)
	}
	_, ranges := r.Encode(3)
	require.Len(t, ranges, 3)
}

// TestRangesInteriorSplitOverflowIsCapped drives len(r.ranges) well past
// maxRanges purely through interior-gap splits, without ever advancing
// largest, and pins that the 1001-entry bound still holds.
func TestRangesInteriorSplitOverflowIsCapped(t *testing.T) {
	var r Ranges
	r.Add(0)
	r.Add(4000) // one huge gap: 1..3999

	// Fill every other packet number inside the gap, oldest-to-newest.
	// pn=1 extends the run at 0 and pn=3999 the run at 4000; every other
	// Add lands strictly interior to a remaining gap (its neighbours on
	// both sides are still unacked) and splits it into upperGap,1,lowerGap:
	// +2 entries per call, none of which touch largest.
	for pn := uint64(1); pn < 4000; pn += 2 {
		r.Add(pn)
	}

	require.LessOrEqual(t, r.Len(), maxRanges)
	require.Equal(t, maxRanges, r.Len())
}

// TestRangesBelowWindowOverflowIsCapped drives the same bound through the
// below-tracked-window fallback branch, again without advancing largest.
func TestRangesBelowWindowOverflowIsCapped(t *testing.T) {
	var r Ranges
	r.Add(1 << 20)
	// Each pn here lands strictly below the tracked window (the window's
	// floor is never below the previous pn), exercising the
	// below-window fallback on every call.
	for pn := uint64(4000); ; pn -= 2 {
		r.Add(pn)
		if pn < 2 {
			break
		}
	}
	require.LessOrEqual(t, r.Len(), maxRanges)
	require.Equal(t, maxRanges, r.Len())
}

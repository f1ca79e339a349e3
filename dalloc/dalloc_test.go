// Grounded on dalloc.go's own doc comment: a round trip through
// Allocate/Free that crosses the retrieval/insertion cache boundary
// (original_source/SOFS11's soReplenish/soDeplete), exercised over a
// real formatted volume via testvolume.
package dalloc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/dalloc"
	"github.com/mlaz/OperatingSystemsFS/testvolume"
)

func TestAllocateFreeRoundTrip(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	before := sb.DzoneFree

	n, err := dalloc.Allocate(c, sb, 42)
	require.NoError(t, err)
	require.Equal(t, before-1, sb.DzoneFree)

	require.NoError(t, dalloc.Free(c, sb, n))
	require.Equal(t, before, sb.DzoneFree)
}

func TestAllocateManyDrivesReplenishment(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	var allocated []uint32
	for i := 0; i < 20; i++ {
		n, err := dalloc.Allocate(c, sb, 1)
		require.NoError(t, err)
		allocated = append(allocated, n)
	}
	seen := make(map[uint32]bool)
	for _, n := range allocated {
		require.False(t, seen[n], "cluster %d allocated twice", n)
		seen[n] = true
	}
}

func TestAllocateExhaustsDataZone(t *testing.T) {
	c, sb := testvolume.Fresh(t, 64, 32)
	var err error
	for sb.DzoneFree > 0 {
		_, err = dalloc.Allocate(c, sb, 1)
		require.NoError(t, err)
	}
	_, err = dalloc.Allocate(c, sb, 1)
	require.ErrorIs(t, err, common.ErrNoSpace)
}

func TestFreeAndReallocateCyclesThroughInsertionCache(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	var allocated []uint32
	for i := 0; i < 10; i++ {
		n, err := dalloc.Allocate(c, sb, 1)
		require.NoError(t, err)
		allocated = append(allocated, n)
	}
	for _, n := range allocated {
		require.NoError(t, dalloc.Free(c, sb, n))
	}
	for i := 0; i < 10; i++ {
		_, err := dalloc.Allocate(c, sb, 1)
		require.NoError(t, err)
	}
}

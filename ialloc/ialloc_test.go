// Grounded on alloctbl/alloctbl.go's allocate/free round trip,
// exercised here over a real formatted volume via testvolume instead
// of a bitmap fixture.
package ialloc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/ialloc"
	"github.com/mlaz/OperatingSystemsFS/testvolume"
)

func TestAllocateStartsAtZeroRefcount(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)

	n, ip, err := ialloc.Allocate(c, sb, common.Mode{Type: common.TypeRegular, Perm: 0o644}, 1, 1)
	require.NoError(t, err)
	require.EqualValues(t, 0, ip.Refcount)
	require.Equal(t, common.TypeRegular, ip.Mode.Type)

	reread, err := ialloc.ReadInode(c, sb, n)
	require.NoError(t, err)
	require.EqualValues(t, 0, reread.Refcount)
}

func TestAllocateDecrementsFreeCountAndThreadsList(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	before := sb.Ifree

	_, _, err := ialloc.Allocate(c, sb, common.Mode{Type: common.TypeRegular, Perm: 0o644}, 0, 0)
	require.NoError(t, err)
	require.Equal(t, before-1, sb.Ifree)
}

func TestFreeReturnsInodeToListAsFreeDirty(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	n, ip, err := ialloc.Allocate(c, sb, common.Mode{Type: common.TypeRegular, Perm: 0o644}, 0, 0)
	require.NoError(t, err)
	ip.Refcount = 1

	before := sb.Ifree
	require.NoError(t, ialloc.Free(c, sb, n, ip))
	require.Equal(t, before+1, sb.Ifree)

	freed, err := ialloc.ReadInode(c, sb, n)
	require.NoError(t, err)
	require.True(t, freed.IsFree())
	require.EqualValues(t, 1, freed.Refcount) // free-dirty: stale bookkeeping left behind
}

func TestCleanZeroesFreeDirtyInode(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	n, ip, err := ialloc.Allocate(c, sb, common.Mode{Type: common.TypeRegular, Perm: 0o644}, 0, 0)
	require.NoError(t, err)
	ip.Refcount = 1
	require.NoError(t, ialloc.Free(c, sb, n, ip))

	require.NoError(t, ialloc.Clean(c, sb, n))
	clean, err := ialloc.ReadInode(c, sb, n)
	require.NoError(t, err)
	require.EqualValues(t, 0, clean.Refcount)
	require.EqualValues(t, 0, clean.Size)
}

func TestAllocateExhaustsFreeList(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 8)
	var err error
	for sb.Ifree > 0 {
		_, _, err = ialloc.Allocate(c, sb, common.Mode{Type: common.TypeRegular, Perm: 0o644}, 0, 0)
		require.NoError(t, err)
	}
	_, _, err = ialloc.Allocate(c, sb, common.Mode{Type: common.TypeRegular, Perm: 0o644}, 0, 0)
	require.ErrorIs(t, err, common.ErrNoSpace)
}

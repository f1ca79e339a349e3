// Grounded on fmap.go's own doc comment (ported from the original
// SOFS11 soHandleFileCluster/soHandleFileClusters): alloc/get/free
// round trips across the direct tier and into the single-indirect
// tier, exercised against a freshly allocated regular-file inode over
// a real formatted volume via testvolume.
package fmap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlaz/OperatingSystemsFS/bcache"
	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/fmap"
	"github.com/mlaz/OperatingSystemsFS/ialloc"
	"github.com/mlaz/OperatingSystemsFS/testvolume"
)

// freshFile allocates a regular-file inode and stamps it with its
// first name's refcount directly (bypassing dir.Add, which this
// package-local test has no need for) so it satisfies
// consist.InodeInUse before fmap.Handle touches it.
func freshFile(t *testing.T, c *bcache.Cache, sb *common.Superblock) uint32 {
	t.Helper()
	n, ip, err := ialloc.Allocate(c, sb, common.Mode{Type: common.TypeRegular, Perm: 0o644}, 0, 0)
	require.NoError(t, err)
	ip.Refcount = 1
	require.NoError(t, ialloc.WriteInode(c, sb, n, ip))
	return n
}

func TestAllocGetFreeCleanDirectSlot(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	n := freshFile(t, c, sb)

	logical, err := fmap.Handle(c, sb, n, 3, fmap.OpAlloc)
	require.NoError(t, err)
	require.NotEqual(t, common.NullCluster, logical)

	got, err := fmap.Handle(c, sb, n, 3, fmap.OpGet)
	require.NoError(t, err)
	require.Equal(t, logical, got)

	_, err = fmap.Handle(c, sb, n, 3, fmap.OpFreeClean)
	require.NoError(t, err)

	ip, err := ialloc.ReadInode(c, sb, n)
	require.NoError(t, err)
	require.Equal(t, common.NullCluster, ip.Direct[3])
}

func TestGetUnallocatedDirectSlotReturnsNull(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	n := freshFile(t, c, sb)

	got, err := fmap.Handle(c, sb, n, 5, fmap.OpGet)
	require.NoError(t, err)
	require.Equal(t, common.NullCluster, got)
}

func TestAllocPastDirectRangeReachesSingleIndirect(t *testing.T) {
	c, sb := testvolume.Fresh(t, 2048, 64)
	n := freshFile(t, c, sb)

	idx := uint32(common.NDirect + 2)
	logical, err := fmap.Handle(c, sb, n, idx, fmap.OpAlloc)
	require.NoError(t, err)
	require.NotEqual(t, common.NullCluster, logical)

	got, err := fmap.Handle(c, sb, n, idx, fmap.OpGet)
	require.NoError(t, err)
	require.Equal(t, logical, got)

	ip, err := ialloc.ReadInode(c, sb, n)
	require.NoError(t, err)
	require.NotEqual(t, common.NullCluster, ip.Indirect1)
}

func TestHandleRangeFreesEveryAllocatedCluster(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	n := freshFile(t, c, sb)
	for i := uint32(0); i < 3; i++ {
		_, err := fmap.Handle(c, sb, n, i, fmap.OpAlloc)
		require.NoError(t, err)
	}

	require.NoError(t, fmap.HandleRange(c, sb, n, 0, fmap.OpFreeClean))

	ip, err := ialloc.ReadInode(c, sb, n)
	require.NoError(t, err)
	for _, d := range ip.Direct {
		require.Equal(t, common.NullCluster, d)
	}
}

// Grounded on consist.go's own doc comment: one check per spec §4.3
// predicate, exercised directly against literal structs since this
// package is pure and side-effect-free -- no volume fixture needed.
package consist_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/consist"
)

func freshInode(ftype common.InodeType, refcount uint16) *common.Inode {
	ip := &common.Inode{Mode: common.Mode{Type: ftype, Perm: 0o644}, Refcount: refcount}
	for i := range ip.Direct {
		ip.Direct[i] = common.NullCluster
	}
	ip.Indirect1 = common.NullCluster
	ip.Indirect2 = common.NullCluster
	return ip
}

func TestInodeInUseRejectsBelowMinLinks(t *testing.T) {
	require.Error(t, consist.InodeInUse(freshInode(common.TypeRegular, 0), 64))
	require.NoError(t, consist.InodeInUse(freshInode(common.TypeRegular, 1), 64))

	require.Error(t, consist.InodeInUse(freshInode(common.TypeDirectory, 1), 64))
	require.NoError(t, consist.InodeInUse(freshInode(common.TypeDirectory, 2), 64))
}

func TestInodeInUseRejectsFreeType(t *testing.T) {
	require.Error(t, consist.InodeInUse(freshInode(common.TypeFree, 1), 64))
}

func TestInodeInUseRejectsOutOfRangeReference(t *testing.T) {
	ip := freshInode(common.TypeRegular, 1)
	ip.Direct[0] = 100
	require.Error(t, consist.InodeInUse(ip, 64))
}

func TestInodeInUseAllowsClucountAboveMaxFileClustersWithinIndexOverhead(t *testing.T) {
	// A fully populated file's Clucount also counts its index clusters
	// (Indirect1, Indirect2's top cluster, and up to RPC second-level
	// clusters under it) on top of every leaf MaxFileClusters counts --
	// legitimate, not a sign of corruption.
	ip := freshInode(common.TypeRegular, 1)
	ip.Clucount = common.MaxFileClusters + 2 + common.RPC
	require.NoError(t, consist.InodeInUse(ip, 64))

	ip.Clucount++
	require.Error(t, consist.InodeInUse(ip, 64))
}

func TestInodeFreeCleanRequiresZeroedBookkeeping(t *testing.T) {
	ip := &common.Inode{Mode: common.Mode{Type: common.TypeFree}, Prev: common.NullInode, Next: common.NullInode}
	for i := range ip.Direct {
		ip.Direct[i] = common.NullCluster
	}
	ip.Indirect1 = common.NullCluster
	ip.Indirect2 = common.NullCluster
	require.NoError(t, consist.InodeFreeClean(ip, 64))

	dirty := *ip
	dirty.Refcount = 1
	require.Error(t, consist.InodeFreeClean(&dirty, 64))
}

func TestInodeFreeCleanRejectsWrongType(t *testing.T) {
	ip := &common.Inode{Mode: common.Mode{Type: common.TypeRegular}, Prev: common.NullInode, Next: common.NullInode}
	require.Error(t, consist.InodeFreeClean(ip, 64))
}

func TestInodeFreeDirtyAllowsNonzeroBookkeeping(t *testing.T) {
	ip := &common.Inode{Mode: common.Mode{Type: common.TypeFree}, Refcount: 3, Prev: common.NullInode, Next: 5}
	require.NoError(t, consist.InodeFreeDirty(ip, 64))
}

func TestInodeFreeDirtyRejectsOutOfRangeLinkage(t *testing.T) {
	ip := &common.Inode{Mode: common.Mode{Type: common.TypeFree}, Prev: common.NullInode, Next: 1000}
	require.Error(t, consist.InodeFreeDirty(ip, 64))
}

func TestSuperblockChecksArithmetic(t *testing.T) {
	sb := &common.Superblock{
		Magic:       common.Magic,
		Version:     common.Version,
		ITableStart: common.ITableStart,
		ITableSize:  2,
		DzoneStart:  common.ITableStart + 2,
		DzoneTotal:  10,
		Itotal:      2 * common.IPB,
	}
	sb.Ntotal = 1 + sb.ITableSize + sb.DzoneTotal*common.BlocksPerCluster
	sb.Checksum = common.SuperblockChecksum(sb)
	require.NoError(t, consist.Superblock(sb))

	bad := *sb
	bad.Ntotal++
	bad.Checksum = common.SuperblockChecksum(&bad)
	require.Error(t, consist.Superblock(&bad))
}

func TestRefListRejectsOutOfRange(t *testing.T) {
	require.NoError(t, consist.RefList([]uint32{0, 5, common.NullCluster}, 10))
	require.Error(t, consist.RefList([]uint32{0, 10}, 10))
}

func TestDataClusterAllocatedRequiresOwnerMatch(t *testing.T) {
	h := &common.ClusterHeader{Prev: common.NullCluster, Next: common.NullCluster, Stat: 7}
	require.NoError(t, consist.DataCluster(h, consist.ClusterAllocated, 7, 64))
	require.Error(t, consist.DataCluster(h, consist.ClusterAllocated, 8, 64))
}

func TestDataClusterFreeCleanRejectsNonNullHeader(t *testing.T) {
	clean := &common.ClusterHeader{Prev: common.NullCluster, Next: common.NullCluster, Stat: common.NullInode}
	require.NoError(t, consist.DataCluster(clean, consist.ClusterFreeClean, 0, 64))

	dirty := &common.ClusterHeader{Prev: 3, Next: common.NullCluster, Stat: common.NullInode}
	require.Error(t, consist.DataCluster(dirty, consist.ClusterFreeClean, 0, 64))
}

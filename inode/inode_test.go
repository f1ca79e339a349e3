// Grounded on inode.go's own doc comment: the read/write gate and the
// owner/group/other permission triad check, exercised over a real
// formatted volume via testvolume for Read/Write and directly against
// literal inodes for AccessCheck (a pure function).
package inode_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/ialloc"
	"github.com/mlaz/OperatingSystemsFS/inode"
	"github.com/mlaz/OperatingSystemsFS/testvolume"
)

func TestReadRejectsNotYetLinkedInode(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	n, _, err := ialloc.Allocate(c, sb, common.Mode{Type: common.TypeRegular, Perm: 0o644}, 0, 0)
	require.NoError(t, err)

	_, err = inode.Read(c, sb, n)
	require.Error(t, err) // Refcount 0: not yet named by dir.Add
}

func TestWriteRejectsBelowMinLinks(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	ip, err := ialloc.ReadInode(c, sb, common.RootInode)
	require.NoError(t, err)
	ip.Refcount = 0
	require.Error(t, inode.Write(c, sb, common.RootInode, ip))
}

func TestReadWriteRoundTrip(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	ip, err := inode.Read(c, sb, common.RootInode)
	require.NoError(t, err)

	ip.Owner = 99
	require.NoError(t, inode.Write(c, sb, common.RootInode, ip))

	reread, err := inode.Read(c, sb, common.RootInode)
	require.NoError(t, err)
	require.EqualValues(t, 99, reread.Owner)
}

func TestTouchStampsTimes(t *testing.T) {
	ip := &common.Inode{}
	inode.Touch(ip, 1000, true)
	require.EqualValues(t, 1000, ip.Mtime)
	require.EqualValues(t, 1000, ip.Atime)

	inode.Touch(ip, 2000, false)
	require.EqualValues(t, 2000, ip.Mtime)
	require.EqualValues(t, 1000, ip.Atime)
}

func TestAccessCheckOwnerGroupOther(t *testing.T) {
	ip := &common.Inode{Owner: 1, Group: 2, Mode: common.Mode{Perm: 0o640}}

	require.NoError(t, inode.AccessCheck(ip, 1, 2, common.R|common.W))
	require.NoError(t, inode.AccessCheck(ip, 9, 2, common.R))
	require.Error(t, inode.AccessCheck(ip, 9, 2, common.W))
	require.Error(t, inode.AccessCheck(ip, 9, 9, common.R))
}

func TestAccessCheckRootBypassesTriadButNotExecBit(t *testing.T) {
	noExec := &common.Inode{Owner: 1, Group: 1, Mode: common.Mode{Perm: 0o600}}
	require.NoError(t, inode.AccessCheck(noExec, inode.RootUID, 0, common.R|common.W))
	require.Error(t, inode.AccessCheck(noExec, inode.RootUID, 0, common.X))

	withExec := &common.Inode{Owner: 1, Group: 1, Mode: common.Mode{Perm: 0o700}}
	require.NoError(t, inode.AccessCheck(withExec, inode.RootUID, 0, common.X))
}

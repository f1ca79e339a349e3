// Grounded on cmd/fsck/main.go's own pass/fail reporting shape, driven
// here over a volume built by mkfs.Format through testvolume instead of
// a static fixture image -- a freshly formatted, freshly mounted volume
// must check out perfectly clean (spec §4.9/§4.10's mkfs-produces-a-
// consistent-volume guarantee) and a corrupted one must be caught.
package fsck_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/dir"
	"github.com/mlaz/OperatingSystemsFS/fsck"
	"github.com/mlaz/OperatingSystemsFS/ialloc"
	"github.com/mlaz/OperatingSystemsFS/testvolume"
)

func TestCheckFreshVolumeIsClean(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	require.NoError(t, c.StoreSuperblock(sb))

	report, err := fsck.Check(c)
	require.NoError(t, err)
	for _, p := range report.Phases {
		require.Truef(t, p.OK(), "phase %s: %v", p.Name, p.Findings)
	}
	require.True(t, report.OK())
}

func TestCheckPopulatedVolumeIsClean(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)

	n, _, err := ialloc.Allocate(c, sb, common.Mode{Type: common.TypeDirectory, Perm: 0o755}, 0, 0)
	require.NoError(t, err)
	require.NoError(t, dir.Add(c, sb, common.RootInode, "sub", n, 0, 0))
	require.NoError(t, c.StoreSuperblock(sb))

	report, err := fsck.Check(c)
	require.NoError(t, err)
	require.True(t, report.OK())
}

func TestCheckDetectsDanglingDirEntry(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)

	n, _, err := ialloc.Allocate(c, sb, common.Mode{Type: common.TypeRegular, Perm: 0o644}, 0, 0)
	require.NoError(t, err)
	require.NoError(t, dir.Add(c, sb, common.RootInode, "orphaned", n, 0, 0))

	// Free the inode behind the directory entry's back, leaving a
	// dangling reference for phase 6 to catch.
	ip, err := ialloc.ReadInode(c, sb, n)
	require.NoError(t, err)
	require.NoError(t, ialloc.Free(c, sb, n, ip))
	require.NoError(t, c.StoreSuperblock(sb))

	report, err := fsck.Check(c)
	require.NoError(t, err)
	require.False(t, report.OK())
}

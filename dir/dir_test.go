// Grounded on the teacher's fs/dirops.go LOOKUP/ENTER/DELETE/IS_EMPTY
// modes, exercised directly against this package's Add/Remove/
// LookupByName/Rename/Emptiness/Attach/Detach split, over a real
// formatted volume via testvolume.
package dir_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlaz/OperatingSystemsFS/bcache"
	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/dir"
	"github.com/mlaz/OperatingSystemsFS/ialloc"
	"github.com/mlaz/OperatingSystemsFS/testvolume"
)

func mkfile(t *testing.T, c *bcache.Cache, sb *common.Superblock) uint32 {
	t.Helper()
	n, _, err := ialloc.Allocate(c, sb, common.Mode{Type: common.TypeRegular, Perm: 0o644}, 0, 0)
	require.NoError(t, err)
	return n
}

func TestAddLookupRoundTrip(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	n := mkfile(t, c, sb)

	require.NoError(t, dir.Add(c, sb, common.RootInode, "a.txt", n, 0, 0))

	_, got, err := dir.LookupByName(c, sb, common.RootInode, "a.txt", 0, 0)
	require.NoError(t, err)
	require.Equal(t, n, got)
}

func TestAddRejectsDuplicateName(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	n1 := mkfile(t, c, sb)
	n2 := mkfile(t, c, sb)

	require.NoError(t, dir.Add(c, sb, common.RootInode, "dup", n1, 0, 0))
	err := dir.Add(c, sb, common.RootInode, "dup", n2, 0, 0)
	require.ErrorIs(t, err, common.ErrAlreadyExists)
}

func TestAddDirectorySeedsDotEntriesAndBumpsParent(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	rootBefore, err := ialloc.ReadInode(c, sb, common.RootInode)
	require.NoError(t, err)

	n, _, err := ialloc.Allocate(c, sb, common.Mode{Type: common.TypeDirectory, Perm: 0o755}, 0, 0)
	require.NoError(t, err)
	require.NoError(t, dir.Add(c, sb, common.RootInode, "sub", n, 0, 0))

	sub, err := ialloc.ReadInode(c, sb, n)
	require.NoError(t, err)
	require.EqualValues(t, 2, sub.Refcount)

	_, dotInode, err := dir.LookupByName(c, sb, n, ".", 0, 0)
	require.NoError(t, err)
	require.Equal(t, n, dotInode)
	_, dotdotInode, err := dir.LookupByName(c, sb, n, "..", 0, 0)
	require.NoError(t, err)
	require.Equal(t, common.RootInode, dotdotInode)

	rootAfter, err := ialloc.ReadInode(c, sb, common.RootInode)
	require.NoError(t, err)
	require.Equal(t, rootBefore.Refcount+1, rootAfter.Refcount)
}

func TestRemoveFreesSingleNamedFile(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	n := mkfile(t, c, sb)
	require.NoError(t, dir.Add(c, sb, common.RootInode, "a.txt", n, 0, 0))

	require.NoError(t, dir.Remove(c, sb, common.RootInode, "a.txt", 0, 0))

	_, _, err := dir.LookupByName(c, sb, common.RootInode, "a.txt", 0, 0)
	require.Error(t, err)

	freed, err := ialloc.ReadInode(c, sb, n)
	require.NoError(t, err)
	require.True(t, freed.IsFree())
}

func TestRemoveDecrementsHardLinkedFileWithoutFreeing(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	n := mkfile(t, c, sb)
	require.NoError(t, dir.Add(c, sb, common.RootInode, "a.txt", n, 0, 0))
	require.NoError(t, dir.Add(c, sb, common.RootInode, "b.txt", n, 0, 0))

	require.NoError(t, dir.Remove(c, sb, common.RootInode, "a.txt", 0, 0))

	still, err := ialloc.ReadInode(c, sb, n)
	require.NoError(t, err)
	require.False(t, still.IsFree())
	require.EqualValues(t, 1, still.Refcount)
}

func TestRemoveRefusesNonEmptyDirectory(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	sub, _, err := ialloc.Allocate(c, sb, common.Mode{Type: common.TypeDirectory, Perm: 0o755}, 0, 0)
	require.NoError(t, err)
	require.NoError(t, dir.Add(c, sb, common.RootInode, "sub", sub, 0, 0))

	child := mkfile(t, c, sb)
	require.NoError(t, dir.Add(c, sb, sub, "child", child, 0, 0))

	require.Error(t, dir.Remove(c, sb, common.RootInode, "sub", 0, 0))
}

func TestRenameWithinDirectory(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	n := mkfile(t, c, sb)
	require.NoError(t, dir.Add(c, sb, common.RootInode, "old", n, 0, 0))

	require.NoError(t, dir.Rename(c, sb, common.RootInode, "old", "new", 0, 0))

	_, _, err := dir.LookupByName(c, sb, common.RootInode, "old", 0, 0)
	require.Error(t, err)
	_, got, err := dir.LookupByName(c, sb, common.RootInode, "new", 0, 0)
	require.NoError(t, err)
	require.Equal(t, n, got)
}

func TestEmptinessAcceptsFreshDirAndRejectsPopulated(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	sub, _, err := ialloc.Allocate(c, sb, common.Mode{Type: common.TypeDirectory, Perm: 0o755}, 0, 0)
	require.NoError(t, err)
	require.NoError(t, dir.Add(c, sb, common.RootInode, "sub", sub, 0, 0))
	require.NoError(t, dir.Emptiness(c, sb, sub))

	child := mkfile(t, c, sb)
	require.NoError(t, dir.Add(c, sb, sub, "child", child, 0, 0))
	require.ErrorIs(t, dir.Emptiness(c, sb, sub), common.ErrNotEmpty)
}

func TestMoveAcrossDirectoriesRewritesDotDotForSubdirectory(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	srcParent, _, err := ialloc.Allocate(c, sb, common.Mode{Type: common.TypeDirectory, Perm: 0o755}, 0, 0)
	require.NoError(t, err)
	require.NoError(t, dir.Add(c, sb, common.RootInode, "srcparent", srcParent, 0, 0))

	dstParent, _, err := ialloc.Allocate(c, sb, common.Mode{Type: common.TypeDirectory, Perm: 0o755}, 0, 0)
	require.NoError(t, err)
	require.NoError(t, dir.Add(c, sb, common.RootInode, "dstparent", dstParent, 0, 0))

	moved, _, err := ialloc.Allocate(c, sb, common.Mode{Type: common.TypeDirectory, Perm: 0o755}, 0, 0)
	require.NoError(t, err)
	require.NoError(t, dir.Add(c, sb, srcParent, "moved", moved, 0, 0))

	require.NoError(t, dir.Move(c, sb, srcParent, "moved", dstParent, "moved", 0, 0))

	_, _, err = dir.LookupByName(c, sb, srcParent, "moved", 0, 0)
	require.Error(t, err)
	_, got, err := dir.LookupByName(c, sb, dstParent, "moved", 0, 0)
	require.NoError(t, err)
	require.Equal(t, moved, got)

	_, dotdot, err := dir.LookupByName(c, sb, moved, "..", 0, 0)
	require.NoError(t, err)
	require.Equal(t, dstParent, dotdot)
}

func TestResolvePathWalksNestedDirectories(t *testing.T) {
	c, sb := testvolume.Fresh(t, 512, 64)
	sub, _, err := ialloc.Allocate(c, sb, common.Mode{Type: common.TypeDirectory, Perm: 0o755}, 0, 0)
	require.NoError(t, err)
	require.NoError(t, dir.Add(c, sb, common.RootInode, "sub", sub, 0, 0))

	n := mkfile(t, c, sb)
	require.NoError(t, dir.Add(c, sb, sub, "leaf.txt", n, 0, 0))

	parent, entry, err := dir.ResolvePath(c, sb, "/sub/leaf.txt", 0, 0)
	require.NoError(t, err)
	require.Equal(t, sub, parent)
	require.Equal(t, n, entry)
}

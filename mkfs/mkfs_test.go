// Grounded on cmd/mkfs/main.go's flag-driven image construction: a
// Format call produces a layout satisfying spec §4.10's arithmetic,
// and the resulting volume mounts and checks out clean.
package mkfs_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlaz/OperatingSystemsFS/bcache"
	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/device"
	"github.com/mlaz/OperatingSystemsFS/fsck"
	"github.com/mlaz/OperatingSystemsFS/mkfs"
	"github.com/mlaz/OperatingSystemsFS/super"
)

func TestFormatSettlesExactArithmetic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.img")
	layout, err := mkfs.Format(path, 512, mkfs.Options{VolumeName: "vol", InodeCount: 64})
	require.NoError(t, err)

	require.Equal(t, layout.Ntotal, 1+layout.ITableSize+layout.DzoneTotal*common.BlocksPerCluster)
	require.Equal(t, layout.ITableStart+layout.ITableSize, layout.DzoneStart)
	require.EqualValues(t, layout.ITableSize*common.IPB, layout.Itotal)
}

func TestFormatRoundsDownRequestedNtotal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.img")
	// 514's data blocks (509, after the 1+4-block header/table) don't
	// divide evenly by BlocksPerCluster(4); Format must round down.
	layout, err := mkfs.Format(path, 514, mkfs.Options{VolumeName: "vol", InodeCount: 64})
	require.NoError(t, err)
	require.Less(t, layout.Ntotal, uint32(514))
}

func TestFormatRejectsZeroInodeCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.img")
	_, err := mkfs.Format(path, 512, mkfs.Options{VolumeName: "vol", InodeCount: 0})
	require.Error(t, err)
}

func TestFormatRejectsTooSmallVolume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.img")
	_, err := mkfs.Format(path, 2, mkfs.Options{VolumeName: "vol", InodeCount: 64})
	require.Error(t, err)
}

func TestFormattedVolumeMountsAndChecksClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.img")
	_, err := mkfs.Format(path, 512, mkfs.Options{VolumeName: "vol", InodeCount: 64, ZeroFill: true})
	require.NoError(t, err)

	dev, err := device.Open(path)
	require.NoError(t, err)
	defer dev.Close()
	c := bcache.New(dev)
	mgr := super.New(c)
	sb, err := mgr.Mount()
	require.NoError(t, err)
	defer mgr.Unmount(sb)

	report, err := fsck.Check(c)
	require.NoError(t, err)
	require.True(t, report.OK())
}

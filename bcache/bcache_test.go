// Grounded on bcache.go's own doc comment: the four distinguished
// slots (superblock, inode-table block, direct-refs cluster,
// single-indirect-refs cluster) plus the dirty-slot guard against
// clobbering an unstored mutation, exercised over a plain device.Create
// file standing in for a real volume.
package bcache_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlaz/OperatingSystemsFS/bcache"
	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/device"
)

func freshCache(t *testing.T) *bcache.Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dev.img")
	dev, err := device.Create(path, 16)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return bcache.New(dev)
}

func TestITableBlockLoadMutateStoreRoundTrip(t *testing.T) {
	c := freshCache(t)
	require.NoError(t, c.LoadITableBlock(1))

	blk, err := c.ITableBlock()
	require.NoError(t, err)
	blk[0] = 0x42

	require.NoError(t, c.StoreITableBlock())

	raw, err := c.ReadBlockDirect(1)
	require.NoError(t, err)
	require.EqualValues(t, 0x42, raw[0])
}

func TestLoadITableBlockRefusesToDiscardDirtySlot(t *testing.T) {
	c := freshCache(t)
	require.NoError(t, c.LoadITableBlock(1))
	_, err := c.ITableBlock()
	require.NoError(t, err)

	err = c.LoadITableBlock(2)
	require.ErrorIs(t, err, common.ErrSlotDirty)
}

func TestLoadITableBlockSameAddressIsNoop(t *testing.T) {
	c := freshCache(t)
	require.NoError(t, c.LoadITableBlock(1))
	_, err := c.ITableBlock()
	require.NoError(t, err)

	require.NoError(t, c.LoadITableBlock(1))
}

func TestDirectClusterLoadMutateFlush(t *testing.T) {
	c := freshCache(t)
	require.NoError(t, c.LoadDirectCluster(4))

	buf, err := c.DirectCluster()
	require.NoError(t, err)
	buf[0] = 0x7

	require.NoError(t, c.Flush())

	raw, err := c.ReadClusterDirect(4)
	require.NoError(t, err)
	require.EqualValues(t, 0x7, raw[0])
}

func TestSuperblockRequiresLoadBeforeAccess(t *testing.T) {
	c := freshCache(t)
	_, err := c.Superblock()
	require.Error(t, err)
}

func TestStoreSuperblockStampsChecksumAndPersists(t *testing.T) {
	c := freshCache(t)
	sb := &common.Superblock{
		Magic: common.Magic, Version: common.Version, ITableStart: common.ITableStart,
		ITableSize: 1, DzoneStart: common.ITableStart + 1, DzoneTotal: 2,
		Itotal: common.IPB, Ntotal: 1 + 1 + 2*common.BlocksPerCluster,
	}
	require.NoError(t, c.StoreSuperblock(sb))

	require.NoError(t, c.LoadSuperblock())
	reread, err := c.Superblock()
	require.NoError(t, err)
	require.Equal(t, sb.Ntotal, reread.Ntotal)
	require.True(t, common.VerifySuperblockChecksum(reread))
}

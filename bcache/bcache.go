// Package bcache implements C1: the process's single source of truth
// for on-disk content. It holds four distinguished in-memory slots
// (superblock, current inode-table block, current direct-refs
// cluster, current single-indirect-refs cluster) plus a pass-through
// path for the whole-volume scans mkfs and fsck need.
//
// Spec §5 rules out concurrent use of the core, so unlike the
// teacher's bcache/bcache.go (a goroutine running an LRU chain behind
// a channel request/response protocol), this cache is a plain struct
// with synchronous methods -- the LRU chain and hash-bucket lookup
// that pattern needed for an unbounded pool of generic blocks are not
// needed here because the distinguished-slot design in spec §4.1
// already bounds the working set to four roles.
package bcache

import (
	"fmt"

	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/device"
)

const noAddr = ^uint32(0)

// sbSlot holds the single superblock record at block 0.
type sbSlot struct {
	loaded bool
	dirty  bool
	data   common.Block
}

// block1Slot holds one generically-addressed block (used for the
// current inode-table block).
type block1Slot struct {
	addr  uint32
	dirty bool
	data  common.Block
}

// clusterSlot holds one generically-addressed, BPC-block-wide cluster
// (used for both the direct-refs and single-indirect-refs roles --
// they share the same physical shape).
type clusterSlot struct {
	addr  uint32 // physical block number of the cluster's first block
	dirty bool
	data  common.ClusterBuf
}

// Cache is the C1 block/cluster cache.
type Cache struct {
	dev device.Device

	sb       sbSlot
	itab     block1Slot
	direct   clusterSlot
	indirect clusterSlot
}

// New wraps dev with a fresh, empty cache.
func New(dev device.Device) *Cache {
	c := &Cache{dev: dev}
	c.itab.addr = noAddr
	c.direct.addr = noAddr
	c.indirect.addr = noAddr
	return c
}

// Device exposes the wrapped device, for callers (mkfs, fsck) that
// need whole-volume geometry.
func (c *Cache) Device() device.Device { return c.dev }

// --- superblock slot ---

// LoadSuperblock reads block 0 into the superblock slot. It returns
// common.ErrSlotDirty instead if the slot holds an unstored mutation.
func (c *Cache) LoadSuperblock() error {
	if c.sb.loaded && c.sb.dirty {
		return common.ErrSlotDirty
	}
	if err := c.dev.ReadBlock(0, &c.sb.data); err != nil {
		return err
	}
	c.sb.loaded = true
	c.sb.dirty = false
	return nil
}

// Superblock decodes the slot's current content. Callers mutate the
// returned value and call StoreSuperblock to persist it.
func (c *Cache) Superblock() (*common.Superblock, error) {
	if !c.sb.loaded {
		return nil, fmt.Errorf("%w: superblock slot not loaded", common.ErrDeviceNotOpen)
	}
	return common.DecodeSuperblock(&c.sb.data), nil
}

// StoreSuperblock encodes sb, stamps its checksum, writes it into the
// slot and flushes it to block 0.
func (c *Cache) StoreSuperblock(sb *common.Superblock) error {
	sb.Checksum = common.SuperblockChecksum(sb)
	c.sb.data = common.EncodeSuperblock(sb)
	common.PutChecksum(&c.sb.data, sb.Checksum)
	if err := c.dev.WriteBlock(0, &c.sb.data); err != nil {
		return err
	}
	c.sb.loaded = true
	c.sb.dirty = false
	return nil
}

// --- inode-table block slot ---

// LoadITableBlock brings physical block bno (which must lie within the
// inode table) into the slot.
func (c *Cache) LoadITableBlock(bno uint32) error {
	if c.itab.addr == bno {
		return nil
	}
	if c.itab.dirty {
		return common.ErrSlotDirty
	}
	if err := c.dev.ReadBlock(bno, &c.itab.data); err != nil {
		return err
	}
	c.itab.addr = bno
	c.itab.dirty = false
	return nil
}

// ITableBlock returns a pointer to the slot's raw bytes for in-place
// inode encode/decode.
func (c *Cache) ITableBlock() (*common.Block, error) {
	if c.itab.addr == noAddr {
		return nil, fmt.Errorf("%w: inode-table slot not loaded", common.ErrDeviceNotOpen)
	}
	c.itab.dirty = true
	return &c.itab.data, nil
}

// StoreITableBlock flushes the slot to its current physical address.
func (c *Cache) StoreITableBlock() error {
	if c.itab.addr == noAddr {
		return nil
	}
	if err := c.dev.WriteBlock(c.itab.addr, &c.itab.data); err != nil {
		return err
	}
	c.itab.dirty = false
	return nil
}

// --- direct-refs cluster slot ---

func (c *Cache) LoadDirectCluster(bno uint32) error {
	return loadCluster(c.dev, &c.direct, bno)
}

func (c *Cache) DirectCluster() (*common.ClusterBuf, error) {
	return getCluster(&c.direct)
}

func (c *Cache) StoreDirectCluster() error {
	return storeCluster(c.dev, &c.direct)
}

// --- single-indirect-refs cluster slot ---

func (c *Cache) LoadIndirectCluster(bno uint32) error {
	return loadCluster(c.dev, &c.indirect, bno)
}

func (c *Cache) IndirectCluster() (*common.ClusterBuf, error) {
	return getCluster(&c.indirect)
}

func (c *Cache) StoreIndirectCluster() error {
	return storeCluster(c.dev, &c.indirect)
}

func loadCluster(dev device.Device, s *clusterSlot, bno uint32) error {
	if s.addr == bno {
		return nil
	}
	if s.dirty {
		return common.ErrSlotDirty
	}
	if err := readCluster(dev, bno, &s.data); err != nil {
		return err
	}
	s.addr = bno
	s.dirty = false
	return nil
}

func getCluster(s *clusterSlot) (*common.ClusterBuf, error) {
	if s.addr == noAddr {
		return nil, fmt.Errorf("%w: cluster slot not loaded", common.ErrDeviceNotOpen)
	}
	s.dirty = true
	return &s.data, nil
}

func storeCluster(dev device.Device, s *clusterSlot) error {
	if s.addr == noAddr {
		return nil
	}
	if err := writeCluster(dev, s.addr, &s.data); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// readCluster/writeCluster move one BPC-block-wide cluster between the
// device and a ClusterBuf, block by block.
func readCluster(dev device.Device, bno uint32, buf *common.ClusterBuf) error {
	var blk common.Block
	for i := 0; i < common.BlocksPerCluster; i++ {
		if err := dev.ReadBlock(bno+uint32(i), &blk); err != nil {
			return err
		}
		copy(buf[i*common.BlockSize:(i+1)*common.BlockSize], blk[:])
	}
	return nil
}

func writeCluster(dev device.Device, bno uint32, buf *common.ClusterBuf) error {
	var blk common.Block
	for i := 0; i < common.BlocksPerCluster; i++ {
		copy(blk[:], buf[i*common.BlockSize:(i+1)*common.BlockSize])
		if err := dev.WriteBlock(bno+uint32(i), &blk); err != nil {
			return err
		}
	}
	return nil
}

// --- pass-through path for whole-volume scans (mkfs, fsck) ---

// ReadBlockDirect reads a block without disturbing the four
// distinguished slots.
func (c *Cache) ReadBlockDirect(bno uint32) (*common.Block, error) {
	var blk common.Block
	if err := c.dev.ReadBlock(bno, &blk); err != nil {
		return nil, err
	}
	return &blk, nil
}

// WriteBlockDirect writes a block without disturbing the four
// distinguished slots.
func (c *Cache) WriteBlockDirect(bno uint32, blk *common.Block) error {
	return c.dev.WriteBlock(bno, blk)
}

// ReadClusterDirect reads a whole cluster without disturbing the slots.
func (c *Cache) ReadClusterDirect(bno uint32) (*common.ClusterBuf, error) {
	var buf common.ClusterBuf
	if err := readCluster(c.dev, bno, &buf); err != nil {
		return nil, err
	}
	return &buf, nil
}

// WriteClusterDirect writes a whole cluster without disturbing the slots.
func (c *Cache) WriteClusterDirect(bno uint32, buf *common.ClusterBuf) error {
	return writeCluster(c.dev, bno, buf)
}

// Flush writes back every dirty slot and syncs the device. super's
// Unmount and mkfs.Format call it; the individual operations do not.
func (c *Cache) Flush() error {
	if c.sb.dirty {
		if err := c.dev.WriteBlock(0, &c.sb.data); err != nil {
			return err
		}
		c.sb.dirty = false
	}
	if err := c.StoreITableBlock(); err != nil {
		return err
	}
	if err := c.StoreDirectCluster(); err != nil {
		return err
	}
	if err := c.StoreIndirectCluster(); err != nil {
		return err
	}
	return c.dev.Sync()
}

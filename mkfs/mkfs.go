// Package mkfs implements C10: construction of a fresh volume exactly
// as spec §4.10 -- superblock, inode table, root directory, and the
// initial inode/cluster free lists -- over a backing file sized and
// truncated by the device package.
//
// Grounded on cmd/mkfs/main.go's flag-driven, block-by-block image
// construction, re-targeted from minix's bitmap+zone layout onto
// SOFS11's free-list+cluster layout; the boot-block write and
// "query an existing image" mode have no SOFS11 counterpart (there is
// no boot block, and querying is super.Mount's job) and are dropped.
package mkfs

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mlaz/OperatingSystemsFS/bcache"
	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/device"
)

var log = logrus.WithField("layer", "mkfs")

// Options parameterizes Format beyond the backing file's requested
// total block count.
type Options struct {
	// VolumeName is stored in the superblock header, truncated to
	// common.PartitionNameSize-1 bytes.
	VolumeName string
	// InodeCount is the requested inode-table size; the actual table
	// is rounded to a whole number of blocks (spec §4.10's itable_size).
	InodeCount uint32
	// ZeroFill, when true, explicitly overwrites every block of every
	// free cluster with zeroes instead of relying on the backing file's
	// already-zeroed extension from device.Create.
	ZeroFill bool
}

// Layout is the block/cluster geometry Format settles on, reported back
// to the caller (the CLI prints it; tests assert against it) since the
// requested values are rounded to satisfy spec §4.10's exact
// arithmetic: ntotal down, inodeCount up to a whole number of blocks.
type Layout struct {
	Ntotal      uint32
	ITableStart uint32
	ITableSize  uint32
	Itotal      uint32
	DzoneStart  uint32
	DzoneTotal  uint32
	UUID        uuid.UUID
}

// Format creates path as a fresh SOFS11 volume. requestedNtotal is the
// desired total block count; it is rounded down to the nearest value
// satisfying `ntotal == 1 + itable_size + dzone_total*BPC` (spec
// §4.10). Returns the settled layout.
func Format(path string, requestedNtotal uint32, opts Options) (*Layout, error) {
	if opts.InodeCount == 0 {
		return nil, fmt.Errorf("%w: inode count must be positive", common.ErrInvalidSuperblock)
	}
	itableSize := (opts.InodeCount + common.IPB - 1) / common.IPB
	itotal := itableSize * common.IPB

	if requestedNtotal < 1+itableSize+common.BlocksPerCluster {
		return nil, fmt.Errorf("%w: ntotal %d too small for an inode table of %d blocks plus one data cluster", common.ErrInvalidSuperblock, requestedNtotal, itableSize)
	}
	dataBlocks := requestedNtotal - 1 - itableSize
	dzoneTotal := dataBlocks / common.BlocksPerCluster
	ntotal := 1 + itableSize + dzoneTotal*common.BlocksPerCluster

	if requestedNtotal != ntotal {
		log.WithFields(logrus.Fields{"requested": requestedNtotal, "settled": ntotal}).
			Info("rounded ntotal down to satisfy cluster/table arithmetic")
	}

	dev, err := device.Create(path, ntotal)
	if err != nil {
		return nil, err
	}
	defer dev.Close()
	c := bcache.New(dev)

	sb := &common.Superblock{
		Magic:       common.Magic,
		Version:     common.Version,
		Ntotal:      ntotal,
		Mstat:       common.ProperlyUnmounted,
		ITableStart: common.ITableStart,
		ITableSize:  itableSize,
		Itotal:      itotal,
		DzoneStart:  common.ITableStart + itableSize,
		DzoneTotal:  dzoneTotal,
	}
	copy(sb.Name[:common.PartitionNameSize-1], []byte(opts.VolumeName))
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generating volume uuid: %w", err)
	}
	copy(sb.UUID[:], id[:])

	if err := writeInodeTable(c, sb); err != nil {
		return nil, err
	}
	if err := writeRootCluster(c, sb); err != nil {
		return nil, err
	}
	if err := writeFreeClusterList(c, sb, opts.ZeroFill); err != nil {
		return nil, err
	}

	if err := c.StoreSuperblock(sb); err != nil {
		return nil, err
	}
	if err := c.Flush(); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"ntotal": ntotal, "itotal": itotal, "dzone_total": dzoneTotal, "uuid": id,
	}).Info("formatted volume")

	return &Layout{
		Ntotal: ntotal, ITableStart: sb.ITableStart, ITableSize: itableSize,
		Itotal: itotal, DzoneStart: sb.DzoneStart, DzoneTotal: dzoneTotal, UUID: id,
	}, nil
}

// writeInodeTable stamps inode 0 as the in-use root directory and
// chains every remaining inode into a free-clean doubly-linked list
// rooted at sb.Ihead/sb.Itail, writing it block by block.
func writeInodeTable(c *bcache.Cache, sb *common.Superblock) error {
	if sb.Itotal > 1 {
		sb.Ifree = sb.Itotal - 1
		sb.Ihead = 1
		sb.Itail = sb.Itotal - 1
	} else {
		sb.Ifree = 0
		sb.Ihead = common.NullInode
		sb.Itail = common.NullInode
	}

	for bno := uint32(0); bno < sb.ITableSize; bno++ {
		var blk common.Block
		for slot := uint32(0); slot < common.IPB; slot++ {
			n := bno*common.IPB + slot
			var ip *common.Inode
			if n == common.RootInode {
				ip = &common.Inode{
					Mode:     common.Mode{Type: common.TypeDirectory, Perm: 0o777},
					Refcount: 2,
					Size:     common.ClusterSize,
					Clucount: 1,
					Indirect1: common.NullCluster,
					Indirect2: common.NullCluster,
				}
				for i := range ip.Direct {
					ip.Direct[i] = common.NullCluster
				}
				ip.Direct[0] = common.RootCluster
			} else {
				prev, next := n-1, n+1
				if n == sb.Ihead {
					prev = common.NullInode
				}
				if n == sb.Itail {
					next = common.NullInode
				}
				ip = &common.Inode{
					Mode:      common.Mode{Type: common.TypeFree},
					Prev:      prev,
					Next:      next,
					Indirect1: common.NullCluster,
					Indirect2: common.NullCluster,
				}
				for i := range ip.Direct {
					ip.Direct[i] = common.NullCluster
				}
			}
			enc := common.EncodeInode(ip)
			copy(blk[slot*common.InodeSize:(slot+1)*common.InodeSize], enc[:])
		}
		if err := c.WriteBlockDirect(common.ITableStart+bno, &blk); err != nil {
			return err
		}
	}
	return nil
}

// writeRootCluster writes logical cluster 0 with "." and ".." both
// pointing at inode 0 and every other slot a clean NullInode record.
func writeRootCluster(c *bcache.Cache, sb *common.Superblock) error {
	var buf common.ClusterBuf
	h := &common.ClusterHeader{Prev: common.NullCluster, Next: common.NullCluster, Stat: common.RootInode}
	enc := common.EncodeClusterHeader(h)
	copy(buf[:common.ClusterHeaderSize], enc[:])

	for i := uint32(0); i < common.DPC; i++ {
		e := &common.DirEntry{NInode: common.NullInode}
		switch i {
		case 0:
			e.NInode = common.RootInode
			e.SetName(".")
		case 1:
			e.NInode = common.RootInode
			e.SetName("..")
		}
		eenc := common.EncodeDirEntry(e)
		off := common.ClusterHeaderSize + int(i)*common.DirEntrySize
		copy(buf[off:off+common.DirEntrySize], eenc[:])
	}

	phys := sb.DzoneStart + common.RootCluster*common.BlocksPerCluster
	return c.WriteClusterDirect(phys, &buf)
}

// writeFreeClusterList chains logical clusters 1..dzoneTotal-1 into the
// general free list (sb.Dhead/sb.Dtail), leaving the retrieval and
// insertion caches empty so the first allocation after mount triggers
// one REPLENISH, matching spec §8's boundary-behaviour property.
func writeFreeClusterList(c *bcache.Cache, sb *common.Superblock, zeroFill bool) error {
	sb.Retrieval.Idx = common.DzoneCacheSize
	sb.Insertion.Idx = 0

	if sb.DzoneTotal <= 1 {
		sb.DzoneFree = 0
		sb.Dhead = common.NullCluster
		sb.Dtail = common.NullCluster
		return nil
	}
	sb.DzoneFree = sb.DzoneTotal - 1
	sb.Dhead = 1
	sb.Dtail = sb.DzoneTotal - 1

	for logical := uint32(1); logical < sb.DzoneTotal; logical++ {
		prev, next := logical-1, logical+1
		if logical == sb.Dhead {
			prev = common.NullCluster
		}
		if logical == sb.Dtail {
			next = common.NullCluster
		}
		h := &common.ClusterHeader{Prev: prev, Next: next, Stat: common.NullInode}
		phys := sb.DzoneStart + logical*common.BlocksPerCluster

		if zeroFill {
			var buf common.ClusterBuf
			enc := common.EncodeClusterHeader(h)
			copy(buf[:common.ClusterHeaderSize], enc[:])
			if err := c.WriteClusterDirect(phys, &buf); err != nil {
				return err
			}
			continue
		}

		var blk common.Block
		enc := common.EncodeClusterHeader(h)
		copy(blk[:common.ClusterHeaderSize], enc[:])
		if err := c.WriteBlockDirect(phys, &blk); err != nil {
			return err
		}
	}
	return nil
}

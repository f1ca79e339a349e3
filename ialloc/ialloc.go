// Package ialloc implements C4: allocation and release of inodes over
// the doubly-linked free list threaded through the inode table (spec
// §4.4), plus the raw inode-table read/write primitives every higher
// layer builds on.
//
// The teacher's alloctbl/alloctbl.go allocates inodes from a bitmap
// (IMAP) searched bit by bit from a rolling i_search cursor, behind a
// goroutine/channel request-response loop. Spec §4.4 replaces the
// bitmap with an explicit ihead/itail free list threaded through the
// free inodes themselves -- there is no bitmap to search, so alloc_bit
// has no counterpart here; what survives from the teacher is the
// allocate/free entry-point shape and the out-of-space error path.
package ialloc

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mlaz/OperatingSystemsFS/bcache"
	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/consist"
	"github.com/mlaz/OperatingSystemsFS/super"
)

var log = logrus.WithField("layer", "ialloc")

// ReadInode loads and decodes inode n through the inode-table block
// slot of cache. ITableBlock marks the slot dirty on every access, so
// ReadInode stores it back before returning; otherwise a later load of
// a different table block would fail with common.ErrSlotDirty.
func ReadInode(c *bcache.Cache, sb *common.Superblock, n uint32) (*common.Inode, error) {
	if n >= sb.Itotal {
		return nil, fmt.Errorf("%w: %d", common.ErrInvalidInode, n)
	}
	bno, off := super.InodeBlockAndOffset(sb, n)
	if err := c.LoadITableBlock(bno); err != nil {
		return nil, err
	}
	blk, err := c.ITableBlock()
	if err != nil {
		return nil, err
	}
	ip := common.DecodeInode(blk[off : off+common.InodeSize])
	if err := c.StoreITableBlock(); err != nil {
		return nil, err
	}
	return ip, nil
}

// WriteInode encodes ip and stores it back into the inode-table block
// slot, flushing that block immediately.
func WriteInode(c *bcache.Cache, sb *common.Superblock, n uint32, ip *common.Inode) error {
	if n >= sb.Itotal {
		return fmt.Errorf("%w: %d", common.ErrInvalidInode, n)
	}
	bno, off := super.InodeBlockAndOffset(sb, n)
	if err := c.LoadITableBlock(bno); err != nil {
		return err
	}
	blk, err := c.ITableBlock()
	if err != nil {
		return err
	}
	enc := common.EncodeInode(ip)
	copy(blk[off:off+common.InodeSize], enc[:])
	return c.StoreITableBlock()
}

// clean resets a free inode's content to the free-clean shape required
// by consist.InodeFreeClean: zeroed bookkeeping fields and every
// reference set to NullCluster. Prev/Next (the free-list linkage) are
// left untouched -- the caller has already set them.
func clean(ip *common.Inode) {
	ip.Refcount = 0
	ip.Size = 0
	ip.Clucount = 0
	for i := range ip.Direct {
		ip.Direct[i] = common.NullCluster
	}
	ip.Indirect1 = common.NullCluster
	ip.Indirect2 = common.NullCluster
}

// Allocate pops the head of the free list, cleans it if it was left
// free-dirty by a prior Free, stamps the given type/permission/owner
// and returns the new in-use inode together with its number. It
// returns common.ErrNoSpace if the free list is empty.
func Allocate(c *bcache.Cache, sb *common.Superblock, mode common.Mode, owner, group uint16) (uint32, *common.Inode, error) {
	if sb.Ifree == 0 || sb.Ihead == common.NullInode {
		log.Warn("out of inodes")
		return 0, nil, common.ErrNoSpace
	}
	n := sb.Ihead
	ip, err := ReadInode(c, sb, n)
	if err != nil {
		return 0, nil, err
	}
	if err := consist.InodeFreeDirty(ip, sb.Itotal); err != nil {
		return 0, nil, err
	}

	sb.Ihead = ip.Next
	if sb.Ihead == common.NullInode {
		sb.Itail = common.NullInode
	} else {
		next, err := ReadInode(c, sb, sb.Ihead)
		if err != nil {
			return 0, nil, err
		}
		next.Prev = common.NullInode
		if err := WriteInode(c, sb, sb.Ihead, next); err != nil {
			return 0, nil, err
		}
	}
	sb.Ifree--

	clean(ip)
	ip.Mode = mode
	// Refcount starts at 0: this inode has no name yet. dir.Add stamps
	// the post-link count (1 per name for regular/symlink files, a
	// fixed 2 -- self "." plus the parent's name -- for a directory,
	// which can only ever be named once) before anything gated on
	// consist.InodeInUse gets to see it.
	ip.Refcount = 0
	ip.Owner = owner
	ip.Group = group
	for i := range ip.Direct {
		ip.Direct[i] = common.NullCluster
	}
	ip.Indirect1 = common.NullCluster
	ip.Indirect2 = common.NullCluster

	if err := WriteInode(c, sb, n, ip); err != nil {
		return 0, nil, err
	}
	return n, ip, nil
}

// Free unlinks inode n from use and appends it, still dirty, to the
// tail of the free list. The caller (fmap, via inode) must already
// have released every data cluster it referenced, or have left them
// for fsck to reclaim -- Free itself does not walk references.
func Free(c *bcache.Cache, sb *common.Superblock, n uint32, ip *common.Inode) error {
	ip.Mode = common.Mode{Type: common.TypeFree}
	ip.Prev = sb.Itail
	ip.Next = common.NullInode

	if sb.Itail == common.NullInode {
		sb.Ihead = n
	} else {
		tail, err := ReadInode(c, sb, sb.Itail)
		if err != nil {
			return err
		}
		tail.Next = n
		if err := WriteInode(c, sb, sb.Itail, tail); err != nil {
			return err
		}
	}
	sb.Itail = n
	sb.Ifree++

	return WriteInode(c, sb, n, ip)
}

// Clean zeroes a free-dirty inode's content in place, transitioning it
// to free-clean without moving it on the free list.
func Clean(c *bcache.Cache, sb *common.Superblock, n uint32) error {
	ip, err := ReadInode(c, sb, n)
	if err != nil {
		return err
	}
	if !ip.IsFree() {
		return fmt.Errorf("%w: inode %d is in use", common.ErrInvalidStatus, n)
	}
	clean(ip)
	return WriteInode(c, sb, n, ip)
}

// Package consist implements C3: pure, side-effect-free consistency
// predicates over already-loaded structures. inode's Read and Write,
// fmap, and ialloc's Allocate call these on entry (dir reaches them
// through inode; dalloc checks nothing through them), super's Mount
// validates the header with them, and fsck calls them while walking
// the whole volume (spec §4.3).
//
// No direct teacher analog -- the teacher trusts on-disk content and
// panics on the rare sanity check it does inline (alloctbl.go's
// log.Printf calls). These predicates pull that trust boundary out
// into reusable, testable functions, one per check named in spec
// §4.3, each returning a distinct error so fsck and mount can report
// a specific diagnostic (spec §7).
package consist

import (
	"fmt"

	"github.com/mlaz/OperatingSystemsFS/common"
)

// Superblock checks the header and size arithmetic of spec §3: magic,
// version, the checksum, itable_start, ntotal == 1 + itable_size +
// dzone_total*BPC, and dzone_start directly after the inode table. The
// itotal == itable_size*IPB rule is checked by InodeTableSizes.
func Superblock(sb *common.Superblock) error {
	if sb.Magic != common.Magic {
		return fmt.Errorf("%w: bad magic 0x%x", common.ErrInvalidSuperblock, sb.Magic)
	}
	if sb.Version != common.Version {
		return fmt.Errorf("%w: unsupported version 0x%x", common.ErrInvalidSuperblock, sb.Version)
	}
	if !common.VerifySuperblockChecksum(sb) {
		return fmt.Errorf("%w: checksum mismatch", common.ErrInvalidSuperblock)
	}
	if sb.ITableStart != common.ITableStart {
		return fmt.Errorf("%w: itable_start must be %d", common.ErrInvalidSuperblock, common.ITableStart)
	}
	want := 1 + sb.ITableSize + sb.DzoneTotal*common.BlocksPerCluster
	if sb.Ntotal != want {
		return fmt.Errorf("%w: ntotal(%d) != 1+itable_size+dzone_total*BPC(%d)", common.ErrInvalidSuperblock, sb.Ntotal, want)
	}
	if sb.DzoneStart != common.ITableStart+sb.ITableSize {
		return fmt.Errorf("%w: dzone_start does not immediately follow the inode table", common.ErrInvalidSuperblock)
	}
	return nil
}

// InodeTableSizes checks that itotal matches itable_size*IPB and that
// ifree is a plausible count within [0, itotal].
func InodeTableSizes(sb *common.Superblock) error {
	if sb.Itotal != sb.ITableSize*common.IPB {
		return fmt.Errorf("%w: itotal != itable_size*IPB", common.ErrInvalidSuperblock)
	}
	if sb.Ifree > sb.Itotal {
		return fmt.Errorf("%w: ifree(%d) > itotal(%d)", common.ErrInvalidSuperblock, sb.Ifree, sb.Itotal)
	}
	if sb.Ifree == 0 {
		if sb.Ihead != common.NullInode || sb.Itail != common.NullInode {
			return fmt.Errorf("%w: ifree == 0 but free list is non-empty", common.ErrInvalidSuperblock)
		}
	} else if sb.Ihead >= sb.Itotal || sb.Itail >= sb.Itotal {
		return fmt.Errorf("%w: ihead/itail out of range", common.ErrInvalidSuperblock)
	}
	return nil
}

// InodeInUse checks that an in-use inode's type bit is one of the
// three legal file types and that refcount/size/clucount/reference
// fields are plausible given the volume's cluster total.
func InodeInUse(ip *common.Inode, dzoneTotal uint32) error {
	switch ip.Mode.Type {
	case common.TypeRegular, common.TypeSymlink, common.TypeDirectory:
	default:
		return fmt.Errorf("%w: in-use inode has illegal type %d", common.ErrInconsistentInodeInUse, ip.Mode.Type)
	}
	minLinks := uint16(1)
	if ip.Mode.Type == common.TypeDirectory {
		minLinks = 2
	}
	if ip.Refcount < minLinks {
		return fmt.Errorf("%w: refcount %d below minimum %d for type", common.ErrInconsistentInodeInUse, ip.Refcount, minLinks)
	}
	if ip.Clucount > common.MaxClucount {
		return fmt.Errorf("%w: clucount %d exceeds MaxClucount", common.ErrInconsistentInodeInUse, ip.Clucount)
	}
	for _, d := range ip.Direct {
		if err := refInRange(d, dzoneTotal); err != nil {
			return wrapRefList(err)
		}
	}
	if err := refInRange(ip.Indirect1, dzoneTotal); err != nil {
		return wrapRefList(err)
	}
	if err := refInRange(ip.Indirect2, dzoneTotal); err != nil {
		return wrapRefList(err)
	}
	return nil
}

// InodeFreeClean checks that a free-clean inode has every reference
// field set to NullCluster, zeroed bookkeeping counters, and prev/next
// within range.
func InodeFreeClean(ip *common.Inode, itotal uint32) error {
	if ip.Mode.Type != common.TypeFree {
		return fmt.Errorf("%w: not marked free", common.ErrInconsistentFreeClean)
	}
	if ip.Refcount != 0 || ip.Size != 0 || ip.Clucount != 0 {
		return fmt.Errorf("%w: free-clean inode has nonzero bookkeeping fields", common.ErrInconsistentFreeClean)
	}
	for _, d := range ip.Direct {
		if d != common.NullCluster {
			return fmt.Errorf("%w: free-clean inode has a non-null direct reference", common.ErrInconsistentFreeClean)
		}
	}
	if ip.Indirect1 != common.NullCluster || ip.Indirect2 != common.NullCluster {
		return fmt.Errorf("%w: free-clean inode has a non-null indirect reference", common.ErrInconsistentFreeClean)
	}
	return freeListLinkage(ip.Prev, ip.Next, itotal, common.ErrInconsistentFreeClean)
}

// InodeFreeDirty checks only that prev/next are within range; the
// reference fields of a free-dirty inode are allowed to hold stale
// content until C4.Clean runs.
func InodeFreeDirty(ip *common.Inode, itotal uint32) error {
	if ip.Mode.Type != common.TypeFree {
		return fmt.Errorf("%w: not marked free", common.ErrInconsistentFreeDirty)
	}
	return freeListLinkage(ip.Prev, ip.Next, itotal, common.ErrInconsistentFreeDirty)
}

func freeListLinkage(prev, next, bound uint32, base error) error {
	if prev != common.NullInode && prev >= bound {
		return fmt.Errorf("%w: prev out of range", base)
	}
	if next != common.NullInode && next >= bound {
		return fmt.Errorf("%w: next out of range", base)
	}
	return nil
}

// RefList checks that every non-null entry of a list of cluster
// references (an inode's direct array, or the payload of a reference
// cluster) lies within [0, dzoneTotal).
func RefList(refs []uint32, dzoneTotal uint32) error {
	for _, r := range refs {
		if err := refInRange(r, dzoneTotal); err != nil {
			return wrapRefList(err)
		}
	}
	return nil
}

func refInRange(r, dzoneTotal uint32) error {
	if r != common.NullCluster && r >= dzoneTotal {
		return fmt.Errorf("reference %d out of range [0,%d)", r, dzoneTotal)
	}
	return nil
}

func wrapRefList(err error) error {
	return fmt.Errorf("%w: %v", common.ErrInconsistentRefList, err)
}

// ClusterState is the expected header shape of a data cluster, used by
// DataCluster below.
type ClusterState int

const (
	ClusterAllocated ClusterState = iota
	ClusterFreeClean
	ClusterFreeDirty
)

// DataCluster checks a cluster's header against its expected state
// (spec §3's three data-cluster states).
func DataCluster(h *common.ClusterHeader, want ClusterState, owner uint32, dzoneTotal uint32) error {
	switch want {
	case ClusterAllocated:
		if h.Prev != common.NullCluster || h.Next != common.NullCluster {
			return fmt.Errorf("%w: allocated cluster has non-null list linkage", common.ErrInconsistentCluster)
		}
		if h.Stat != owner {
			return fmt.Errorf("%w: allocated cluster stat %d != owning inode %d", common.ErrInconsistentCluster, h.Stat, owner)
		}
	case ClusterFreeClean:
		if h.Prev != common.NullCluster || h.Next != common.NullCluster || h.Stat != common.NullInode {
			return fmt.Errorf("%w: free-clean cluster has non-null header field", common.ErrInconsistentCluster)
		}
	case ClusterFreeDirty:
		if h.Prev != common.NullCluster && h.Prev >= dzoneTotal {
			return fmt.Errorf("%w: free-dirty cluster prev out of range", common.ErrInconsistentCluster)
		}
		if h.Next != common.NullCluster && h.Next >= dzoneTotal {
			return fmt.Errorf("%w: free-dirty cluster next out of range", common.ErrInconsistentCluster)
		}
	default:
		return fmt.Errorf("%w: unknown expected cluster state", common.ErrInconsistentCluster)
	}
	return nil
}

// DirectoryContents checks that a directory's size is a multiple of
// one cluster's worth of entries and that its first cluster's slots 0
// and 1 are "." and ".." referencing the given self/parent inodes.
func DirectoryContents(size uint32, firstCluster [2]*common.DirEntry, self, parent uint32) error {
	if size%uint32(common.DPC*common.DirEntrySize) != 0 {
		return fmt.Errorf("%w: size %d is not a multiple of one cluster's entries", common.ErrInconsistentDirectory, size)
	}
	dot, dotdot := firstCluster[0], firstCluster[1]
	if dot.NameString() != "." || dot.NInode != self {
		return fmt.Errorf("%w: entry 0 is not '.' -> self", common.ErrInconsistentDirectory)
	}
	if dotdot.NameString() != ".." || dotdot.NInode != parent {
		return fmt.Errorf("%w: entry 1 is not '..' -> parent", common.ErrInconsistentDirectory)
	}
	return nil
}

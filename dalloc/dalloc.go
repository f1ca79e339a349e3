// Package dalloc implements C5: allocation and release of data
// clusters through the two bounded, superblock-resident caches of
// spec §4.5 -- a retrieval cache that hands out clusters top-down and
// an insertion cache that collects freed ones bottom-up -- backed by
// the general doubly-linked free list (dhead/dtail) threaded through
// the clusters themselves.
//
// Grounded directly on the original SOFS11 soAllocDataCluster /
// soFreeDataCluster and their soReplenish/soDeplete helpers
// (original_source/SOFS11/src/sofs11/sofs_ifuncs_1_adc.c and
// sofs_ifuncs_1_fdc_gil.c), which spec.md's §4.5 distills; the
// teacher's alloctbl.go covers the analogous role for zones with a
// bitmap instead, so the cache machinery here has no teacher
// counterpart and is ported from the original source almost verbatim,
// re-expressed as direct bcache reads/writes instead of a C buffer
// cache.
package dalloc

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mlaz/OperatingSystemsFS/bcache"
	"github.com/mlaz/OperatingSystemsFS/common"
)

var log = logrus.WithField("layer", "dalloc")

func physical(sb *common.Superblock, logical uint32) uint32 {
	return sb.DzoneStart + logical*common.BlocksPerCluster
}

func readHeader(c *bcache.Cache, sb *common.Superblock, logical uint32) (*common.ClusterHeader, *common.ClusterBuf, error) {
	buf, err := c.ReadClusterDirect(physical(sb, logical))
	if err != nil {
		return nil, nil, err
	}
	return common.DecodeClusterHeader(buf[:common.ClusterHeaderSize]), buf, nil
}

func writeHeader(c *bcache.Cache, sb *common.Superblock, logical uint32, h *common.ClusterHeader, buf *common.ClusterBuf) error {
	enc := common.EncodeClusterHeader(h)
	copy(buf[:common.ClusterHeaderSize], enc[:])
	return c.WriteClusterDirect(physical(sb, logical), buf)
}

// Allocate pops the next free cluster off the retrieval cache
// (replenishing it from the general free list first if it is empty),
// cleans it if it was left dirty by a prior Free, and stamps owner
// into its header. It returns common.ErrNoSpace if the volume is full.
func Allocate(c *bcache.Cache, sb *common.Superblock, owner uint32) (uint32, error) {
	if sb.DzoneFree == 0 {
		log.Warn("out of data clusters")
		return 0, common.ErrNoSpace
	}
	if sb.Retrieval.Idx == common.DzoneCacheSize {
		if err := replenish(c, sb); err != nil {
			return 0, err
		}
	}

	logical := sb.Retrieval.Cache[sb.Retrieval.Idx]
	h, buf, err := readHeader(c, sb, logical)
	if err != nil {
		return 0, err
	}
	if h.Prev != common.NullCluster || h.Next != common.NullCluster {
		return 0, fmt.Errorf("%w: cached free cluster %d has non-null list linkage", common.ErrInconsistentCluster, logical)
	}

	sb.DzoneFree--
	sb.Retrieval.Idx++

	if h.Stat != common.NullInode {
		for i := range buf {
			buf[i] = 0
		}
		h = &common.ClusterHeader{Prev: common.NullCluster, Next: common.NullCluster}
	}
	h.Prev = common.NullCluster
	h.Next = common.NullCluster
	h.Stat = owner
	if err := writeHeader(c, sb, logical, h, buf); err != nil {
		return 0, err
	}
	return logical, nil
}

// Free pushes logical onto the insertion cache (depleting it into the
// general free list first if it is full), leaving the cluster's stat
// field untouched -- a freed-but-not-yet-cleaned ("dirty") cluster
// still names its former owner until it is cleaned.
func Free(c *bcache.Cache, sb *common.Superblock, logical uint32) error {
	if logical == common.RootCluster {
		return fmt.Errorf("%w: the root directory's first cluster can never be freed", common.ErrInvalidCluster)
	}
	if logical >= sb.DzoneTotal {
		return fmt.Errorf("%w: %d", common.ErrInvalidCluster, logical)
	}
	h, buf, err := readHeader(c, sb, logical)
	if err != nil {
		return err
	}
	if h.Stat == common.NullInode {
		return fmt.Errorf("%w: cluster %d is not allocated", common.ErrNotAllocated, logical)
	}
	if h.Prev != common.NullCluster || h.Next != common.NullCluster {
		return fmt.Errorf("%w: allocated cluster %d has non-null list linkage", common.ErrInconsistentCluster, logical)
	}

	if sb.Insertion.Idx == common.DzoneCacheSize {
		if err := deplete(c, sb); err != nil {
			return err
		}
	}

	h.Prev = common.NullCluster
	h.Next = common.NullCluster
	if err := writeHeader(c, sb, logical, h, buf); err != nil {
		return err
	}

	sb.Insertion.Cache[sb.Insertion.Idx] = logical
	sb.Insertion.Idx++
	sb.DzoneFree++
	return nil
}

// replenish refills the retrieval cache from the head of the general
// free list, depleting the insertion cache into that list first if it
// has run dry.
func replenish(c *bcache.Cache, sb *common.Superblock) error {
	if sb.DzoneFree == 0 {
		return common.ErrNoSpace
	}
	if sb.Dhead == common.NullCluster {
		if err := deplete(c, sb); err != nil {
			return err
		}
	}

	var aux [common.DzoneCacheSize]uint32
	n := 0
	for n != common.DzoneCacheSize && sb.Dhead != common.NullCluster {
		cur, curBuf, err := readHeader(c, sb, sb.Dhead)
		if err != nil {
			return err
		}
		if cur.Next != common.NullCluster {
			next, nextBuf, err := readHeader(c, sb, cur.Next)
			if err != nil {
				return err
			}
			next.Prev = common.NullCluster
			if err := writeHeader(c, sb, cur.Next, next, nextBuf); err != nil {
				return err
			}
		}
		aux[n] = sb.Dhead
		n++
		sb.Dhead = cur.Next
		cur.Next = common.NullCluster
		if err := writeHeader(c, sb, aux[n-1], cur, curBuf); err != nil {
			return err
		}
		if sb.Dhead == common.NullCluster {
			sb.Dtail = common.NullCluster
		}
		if n != common.DzoneCacheSize && sb.Dhead == common.NullCluster {
			if int(common.DzoneCacheSize-uint32(n)) < int(sb.DzoneFree) {
				if err := deplete(c, sb); err != nil {
					return err
				}
			}
		}
	}

	for n > 0 {
		n--
		sb.Retrieval.Idx--
		sb.Retrieval.Cache[sb.Retrieval.Idx] = aux[n]
	}
	return nil
}

// deplete appends every cluster queued in the insertion cache onto the
// tail of the general free list and empties the cache.
func deplete(c *bcache.Cache, sb *common.Superblock) error {
	if sb.Insertion.Idx == 0 {
		return nil
	}

	index := uint32(0)
	if sb.Dhead == common.NullCluster {
		sb.Dhead = sb.Insertion.Cache[0]
		sb.Dtail = sb.Dhead
		index = 1
	}

	for index < sb.Insertion.Idx {
		next := sb.Insertion.Cache[index]
		tail, tailBuf, err := readHeader(c, sb, sb.Dtail)
		if err != nil {
			return err
		}
		ins, insBuf, err := readHeader(c, sb, next)
		if err != nil {
			return err
		}
		tail.Next = next
		ins.Prev = sb.Dtail
		ins.Next = common.NullCluster
		if err := writeHeader(c, sb, sb.Dtail, tail, tailBuf); err != nil {
			return err
		}
		if err := writeHeader(c, sb, next, ins, insBuf); err != nil {
			return err
		}
		sb.Dtail = next
		index++
	}

	sb.Insertion.Idx = 0
	return nil
}

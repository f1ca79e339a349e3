package fsck

import (
	"encoding/binary"
	"fmt"

	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/consist"
	"github.com/mlaz/OperatingSystemsFS/ialloc"
)

var le = binary.LittleEndian

func physical(sb *common.Superblock, logical uint32) uint32 {
	return sb.DzoneStart + logical*common.BlocksPerCluster
}

func readClusterHeader(ctx *checkContext, logical uint32) (*common.ClusterHeader, *common.ClusterBuf, error) {
	buf, err := ctx.c.ReadClusterDirect(physical(ctx.sb, logical))
	if err != nil {
		return nil, nil, err
	}
	return common.DecodeClusterHeader(buf[:common.ClusterHeaderSize]), buf, nil
}

func refAt(buf *common.ClusterBuf, idx uint32) uint32 {
	off := common.ClusterHeaderSize + int(idx)*common.RefSize
	return le.Uint32(buf[off : off+4])
}

// checkDataZone is phase 3 of spec §4.9: walk the general free list
// from dhead to dtail and verify every node on it carries in-range
// prev/next linkage, with prev matching walk order. A node's stat is
// either NullInode (not used since mkfs, or already cleaned) or its
// former owner (free-dirty); the linkage check is the same for both.
func checkDataZone(ctx *checkContext) PhaseResult {
	phase := PhaseResult{Name: "data zone"}
	sb := ctx.sb

	// Clusters already dequeued into the retrieval cache, or queued in
	// the insertion cache, are free but not on the list; the general
	// list's expected length excludes them.
	retrievalValid := common.DzoneCacheSize - sb.Retrieval.Idx
	insertionValid := sb.Insertion.Idx
	expected := int64(sb.DzoneFree) - int64(retrievalValid) - int64(insertionValid)

	prev := common.NullCluster
	cur := sb.Dhead
	var walked int64

	for cur != common.NullCluster {
		if walked > int64(sb.DzoneTotal) {
			phase.Findings = append(phase.Findings, Finding{
				Subject: "data free list",
				Err:     fmt.Errorf("%w: free list walk exceeds dzone_total, likely a cycle", common.ErrInconsistentCluster),
			})
			break
		}
		if cur >= sb.DzoneTotal {
			phase.Findings = append(phase.Findings, Finding{
				Subject: fmt.Sprintf("cluster %d", cur),
				Err:     fmt.Errorf("%w: free-list pointer out of range", common.ErrInvalidCluster),
			})
			break
		}
		h, _, err := readClusterHeader(ctx, cur)
		if err != nil {
			phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("cluster %d", cur), Err: err})
			break
		}
		if h.Prev != prev {
			phase.Findings = append(phase.Findings, Finding{
				Subject: fmt.Sprintf("cluster %d", cur),
				Err:     fmt.Errorf("%w: prev linkage does not match walk order", common.ErrInconsistentCluster),
			})
		}
		if h.Stat == common.NullInode {
			if err := consist.DataCluster(h, consist.ClusterFreeDirty, 0, sb.DzoneTotal); err != nil {
				phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("cluster %d", cur), Err: err})
			}
			ctx.clu[cur].state = clusterFreeCached
		} else {
			if err := consist.DataCluster(h, consist.ClusterFreeDirty, 0, sb.DzoneTotal); err != nil {
				phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("cluster %d", cur), Err: err})
			}
			ctx.clu[cur].state = clusterFreeListed
		}
		walked++
		prev = cur
		cur = h.Next
	}
	if prev != common.NullCluster && prev != sb.Dtail {
		phase.Findings = append(phase.Findings, Finding{
			Subject: "superblock",
			Err:     fmt.Errorf("%w: free list tail does not match dtail", common.ErrInconsistentCluster),
		})
	}
	if walked != expected {
		phase.Findings = append(phase.Findings, Finding{
			Subject: "superblock",
			Err:     fmt.Errorf("%w: general free list length %d != expected %d (dzone_free - cached entries)", common.ErrInconsistentCluster, walked, expected),
		})
	}
	return phase
}

// checkCaches is phase 4 of spec §4.9: every unconsumed retrieval-cache
// entry must name a free-clean cluster and every queued insertion-cache
// entry must name a free (but possibly still dirty) cluster, and
// neither cache may name a cluster the general free-list walk already
// claimed.
func checkCaches(ctx *checkContext) PhaseResult {
	phase := PhaseResult{Name: "free-cluster caches"}
	sb := ctx.sb

	for idx := sb.Retrieval.Idx; idx < common.DzoneCacheSize; idx++ {
		logical := sb.Retrieval.Cache[idx]
		if logical >= sb.DzoneTotal {
			phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("retrieval cache[%d]", idx), Err: fmt.Errorf("%w: %d", common.ErrInvalidCluster, logical)})
			continue
		}
		if ctx.clu[logical].state != clusterUnknown {
			phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("cluster %d", logical), Err: fmt.Errorf("%w: also present on the general free list", common.ErrInconsistentCluster)})
		}
		h, _, err := readClusterHeader(ctx, logical)
		if err != nil {
			phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("cluster %d", logical), Err: err})
			continue
		}
		if err := consist.DataCluster(h, consist.ClusterFreeClean, 0, sb.DzoneTotal); err != nil {
			phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("cluster %d", logical), Err: err})
		}
		ctx.clu[logical].state = clusterFreeCached
	}

	for idx := uint32(0); idx < sb.Insertion.Idx; idx++ {
		logical := sb.Insertion.Cache[idx]
		if logical >= sb.DzoneTotal {
			phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("insertion cache[%d]", idx), Err: fmt.Errorf("%w: %d", common.ErrInvalidCluster, logical)})
			continue
		}
		if ctx.clu[logical].state != clusterUnknown {
			phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("cluster %d", logical), Err: fmt.Errorf("%w: also present on the general free list or retrieval cache", common.ErrInconsistentCluster)})
		}
		h, _, err := readClusterHeader(ctx, logical)
		if err != nil {
			phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("cluster %d", logical), Err: err})
			continue
		}
		if err := consist.DataCluster(h, consist.ClusterFreeDirty, 0, sb.DzoneTotal); err != nil {
			phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("cluster %d", logical), Err: err})
		}
		ctx.clu[logical].state = clusterFreeCached
	}
	return phase
}

// markReferenced records that inode owner claims logical, flagging a
// double reference (spec §4.9's one hard cross-reference error) if
// another inode already claimed it, or a free/referenced clash if the
// general-list or cache walk already classified it as free.
func markReferenced(ctx *checkContext, phase *PhaseResult, owner, logical uint32) {
	sb := ctx.sb
	if logical >= sb.DzoneTotal {
		phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("inode %d", owner), Err: fmt.Errorf("%w: reference %d", common.ErrInvalidCluster, logical)})
		return
	}
	info := &ctx.clu[logical]
	switch info.state {
	case clusterFreeListed, clusterFreeCached:
		phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("cluster %d", logical), Err: fmt.Errorf("%w: referenced by inode %d but also on the free list", common.ErrInconsistentCluster, owner)})
		return
	case clusterReferenced:
		phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("cluster %d", logical), Err: fmt.Errorf("%w: referenced by both inode %d and inode %d", common.ErrInconsistentCluster, info.owner, owner)})
		return
	}
	h, _, err := readClusterHeader(ctx, logical)
	if err != nil {
		phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("cluster %d", logical), Err: err})
		return
	}
	if err := consist.DataCluster(h, consist.ClusterAllocated, owner, sb.DzoneTotal); err != nil {
		phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("cluster %d", logical), Err: err})
	}
	info.state = clusterReferenced
	info.owner = owner
	info.ownerFound = true
}

// checkCrossReference is phase 5 of spec §4.9: mark every cluster an
// in-use inode's direct, single-indirect and double-indirect reference
// tree names, down through the index clusters themselves, and flag any
// cluster two inodes both claim.
func checkCrossReference(ctx *checkContext) PhaseResult {
	phase := PhaseResult{Name: "cross-reference"}
	sb := ctx.sb

	for n := uint32(0); n < sb.Itotal; n++ {
		if !ctx.inUse[n] {
			continue
		}
		ip, err := ialloc.ReadInode(ctx.c, sb, n)
		if err != nil {
			phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("inode %d", n), Err: err})
			continue
		}
		for _, d := range ip.Direct {
			if d != common.NullCluster {
				markReferenced(ctx, &phase, n, d)
			}
		}
		if ip.Indirect1 != common.NullCluster {
			markReferenced(ctx, &phase, n, ip.Indirect1)
			_, buf, err := readClusterHeader(ctx, ip.Indirect1)
			if err != nil {
				phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("cluster %d", ip.Indirect1), Err: err})
				continue
			}
			for i := uint32(0); i < common.RPC; i++ {
				if leaf := refAt(buf, i); leaf != common.NullCluster {
					markReferenced(ctx, &phase, n, leaf)
				}
			}
		}
		if ip.Indirect2 != common.NullCluster {
			markReferenced(ctx, &phase, n, ip.Indirect2)
			_, topBuf, err := readClusterHeader(ctx, ip.Indirect2)
			if err != nil {
				phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("cluster %d", ip.Indirect2), Err: err})
				continue
			}
			for i := uint32(0); i < common.RPC; i++ {
				mid := refAt(topBuf, i)
				if mid == common.NullCluster {
					continue
				}
				markReferenced(ctx, &phase, n, mid)
				_, midBuf, err := readClusterHeader(ctx, mid)
				if err != nil {
					phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("cluster %d", mid), Err: err})
					continue
				}
				for j := uint32(0); j < common.RPC; j++ {
					if leaf := refAt(midBuf, j); leaf != common.NullCluster {
						markReferenced(ctx, &phase, n, leaf)
					}
				}
			}
		}
	}

	for logical := uint32(0); logical < sb.DzoneTotal; logical++ {
		if ctx.clu[logical].state == clusterUnknown {
			phase.Findings = append(phase.Findings, Finding{
				Subject: fmt.Sprintf("cluster %d", logical),
				Err:     fmt.Errorf("%w: neither referenced nor on the free list", common.ErrInconsistentCluster),
			})
		}
	}
	return phase
}

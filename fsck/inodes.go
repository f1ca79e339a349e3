package fsck

import (
	"fmt"

	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/consist"
	"github.com/mlaz/OperatingSystemsFS/ialloc"
)

// checkInodeTable is phase 2 of spec §4.9: walk the free list exactly
// ifree nodes from ihead to itail, verify every node visited is
// free-clean or free-dirty, and verify every inode the walk never
// reaches is a well-formed in-use inode. Populates ctx.inUse/ctx.isDir
// for the later phases.
func checkInodeTable(ctx *checkContext) PhaseResult {
	phase := PhaseResult{Name: "inode table"}
	sb := ctx.sb

	onFreeList := make([]bool, sb.Itotal)
	walked := uint32(0)
	prev := common.NullInode
	cur := sb.Ihead

	for cur != common.NullInode {
		if walked >= sb.Itotal {
			phase.Findings = append(phase.Findings, Finding{
				Subject: "inode free list",
				Err:     fmt.Errorf("%w: free list walk exceeds itotal, likely a cycle", common.ErrInconsistentFreeClean),
			})
			break
		}
		if cur >= sb.Itotal {
			phase.Findings = append(phase.Findings, Finding{
				Subject: fmt.Sprintf("inode %d", cur),
				Err:     fmt.Errorf("%w: free-list pointer out of range", common.ErrInvalidInode),
			})
			break
		}
		ip, err := ialloc.ReadInode(ctx.c, sb, cur)
		if err != nil {
			phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("inode %d", cur), Err: err})
			break
		}
		if ip.Prev != prev {
			phase.Findings = append(phase.Findings, Finding{
				Subject: fmt.Sprintf("inode %d", cur),
				Err:     fmt.Errorf("%w: prev linkage does not match walk order", common.ErrInconsistentFreeClean),
			})
		}
		if err := consist.InodeFreeDirty(ip, sb.Itotal); err != nil {
			phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("inode %d", cur), Err: err})
		}
		onFreeList[cur] = true
		walked++
		prev = cur
		cur = ip.Next
	}
	if prev != common.NullInode && prev != sb.Itail {
		phase.Findings = append(phase.Findings, Finding{
			Subject: "superblock",
			Err:     fmt.Errorf("%w: free list tail does not match itail", common.ErrInconsistentFreeClean),
		})
	}
	if walked != sb.Ifree {
		phase.Findings = append(phase.Findings, Finding{
			Subject: "superblock",
			Err:     fmt.Errorf("%w: free list length %d != ifree %d", common.ErrInconsistentFreeClean, walked, sb.Ifree),
		})
	}

	for n := uint32(0); n < sb.Itotal; n++ {
		if onFreeList[n] {
			continue
		}
		ip, err := ialloc.ReadInode(ctx.c, sb, n)
		if err != nil {
			phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("inode %d", n), Err: err})
			continue
		}
		if err := consist.InodeInUse(ip, sb.DzoneTotal); err != nil {
			phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("inode %d", n), Err: err})
			continue
		}
		ctx.inUse[n] = true
		ctx.isDir[n] = ip.Mode.Type == common.TypeDirectory
	}

	if !ctx.inUse[common.RootInode] || !ctx.isDir[common.RootInode] {
		phase.Findings = append(phase.Findings, Finding{
			Subject: "inode 0",
			Err:     fmt.Errorf("%w: root inode is not an in-use directory", common.ErrInconsistentDirectory),
		})
	}
	return phase
}

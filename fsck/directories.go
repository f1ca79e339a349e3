package fsck

import (
	"fmt"

	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/consist"
	"github.com/mlaz/OperatingSystemsFS/fmap"
	"github.com/mlaz/OperatingSystemsFS/ialloc"
)

// readDirEntries loads every populated slot of directory inode n,
// walking its cluster list through fmap exactly as dir.go's
// readDirCluster does. The cluster count comes from the size field
// alone; clucount is not consulted.
func readDirEntries(ctx *checkContext, n uint32, ip *common.Inode) ([]*common.DirEntry, error) {
	nClusters := ip.Size / common.ClusterSize
	entries := make([]*common.DirEntry, 0, nClusters*common.DPC)
	for ci := uint32(0); ci < nClusters; ci++ {
		logical, err := fmap.Handle(ctx.c, ctx.sb, n, ci, fmap.OpGet)
		if err != nil {
			return entries, err
		}
		if logical == common.NullCluster {
			return entries, fmt.Errorf("%w: directory cluster %d of inode %d missing", common.ErrInconsistentDirectory, ci, n)
		}
		buf, err := ctx.c.ReadClusterDirect(physical(ctx.sb, logical))
		if err != nil {
			return entries, err
		}
		for slot := uint32(0); slot < common.DPC; slot++ {
			off := common.ClusterHeaderSize + int(slot)*common.DirEntrySize
			entries = append(entries, common.DecodeDirEntry(buf[off:off+common.DirEntrySize]))
		}
	}
	return entries, nil
}

// checkDirectoryReachability is phase 6 of spec §4.9: a stack-based DFS
// from the root directory verifying "." and ".." at every step and
// detecting both dangling entries and revisit loops, plus -- beyond
// the directory tree itself -- that every other in-use inode (regular
// file or symlink) is named by some reachable directory.
func checkDirectoryReachability(ctx *checkContext) PhaseResult {
	phase := PhaseResult{Name: "directory reachability"}
	sb := ctx.sb

	visitedDir := make([]bool, sb.Itotal)
	reachable := make([]bool, sb.Itotal)

	top := push(nil, common.RootInode, common.RootInode)
	reachable[common.RootInode] = true

	for top != nil {
		var n, expectParent uint32
		n, expectParent, top = pop(top)
		if visitedDir[n] {
			phase.Findings = append(phase.Findings, Finding{
				Subject: fmt.Sprintf("inode %d", n),
				Err:     fmt.Errorf("%w: directory revisited, the tree contains a cycle", common.ErrInconsistentDirectory),
			})
			continue
		}
		visitedDir[n] = true

		ip, err := ialloc.ReadInode(ctx.c, sb, n)
		if err != nil {
			phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("inode %d", n), Err: err})
			continue
		}
		entries, err := readDirEntries(ctx, n, ip)
		if err != nil {
			phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("inode %d", n), Err: err})
			continue
		}
		if len(entries) < 2 {
			phase.Findings = append(phase.Findings, Finding{
				Subject: fmt.Sprintf("inode %d", n),
				Err:     fmt.Errorf("%w: directory has no room for '.' and '..'", common.ErrInconsistentDirectory),
			})
			continue
		}
		if err := consist.DirectoryContents(ip.Size, [2]*common.DirEntry{entries[0], entries[1]}, n, expectParent); err != nil {
			phase.Findings = append(phase.Findings, Finding{Subject: fmt.Sprintf("inode %d", n), Err: err})
		}

		for i, e := range entries {
			if i == 0 || i == 1 || e.IsEmptySlot() {
				continue
			}
			target := e.NInode
			if target >= sb.Itotal || !ctx.inUse[target] {
				phase.Findings = append(phase.Findings, Finding{
					Subject: fmt.Sprintf("inode %d entry %q", n, e.NameString()),
					Err:     fmt.Errorf("%w: entry names inode %d which is not in use", common.ErrInconsistentDirectory, target),
				})
				continue
			}
			reachable[target] = true
			if ctx.isDir[target] {
				top = push(top, target, n)
			}
		}
	}

	for n := uint32(0); n < sb.Itotal; n++ {
		if ctx.inUse[n] && !reachable[n] {
			phase.Findings = append(phase.Findings, Finding{
				Subject: fmt.Sprintf("inode %d", n),
				Err:     fmt.Errorf("%w: in-use inode is not reachable from the root directory", common.ErrInconsistentDirectory),
			})
		}
	}
	return phase
}

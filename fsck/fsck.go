// Package fsck implements C9: the six-phase offline consistency check
// of spec §4.9, read-only except for the inode-table/data-zone walk
// every phase shares.
//
// Grounded on cmd/fsck/main.go's single-pass, bitmap-accumulating
// check (chksuper/chktree/chkmap's shape of "build an expected table,
// compare against the on-disk one") restructured around SOFS11's
// doubly-linked free lists instead of minix's imap/zmap bitmaps, and
// on original_source/SOFS11/src/fsck11's phase split, mirrored here as
// one file per phase (superblock.go, inodes.go, dataclusters.go,
// directories.go) plus a reusable DFS stack (stack.go) instead of one
// fsck11_main.c driver.
package fsck

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mlaz/OperatingSystemsFS/bcache"
	"github.com/mlaz/OperatingSystemsFS/common"
)

var log = logrus.WithField("layer", "fsck")

// Finding is one diagnostic raised during a phase. Findings accumulate
// within a phase instead of aborting it, so a single pass reports every
// problem it can see. Only two things cut a check short: a superblock
// that cannot be loaded (Check returns an error) and a failing
// superblock phase (the remaining phases are skipped).
type Finding struct {
	Subject string // "inode 7", "cluster 12", "/a/b"
	Err     error
}

// PhaseResult is one phase's outcome.
type PhaseResult struct {
	Name     string
	Findings []Finding
}

// OK reports whether the phase raised no findings.
func (p PhaseResult) OK() bool { return len(p.Findings) == 0 }

// Report is the accumulated result of a full check.
type Report struct {
	Phases []PhaseResult
}

// OK reports whether every phase was clean.
func (r *Report) OK() bool {
	for _, p := range r.Phases {
		if !p.OK() {
			return false
		}
	}
	return true
}

// clusterState classifies one data cluster for the phase 3/4/5
// cross-reference table.
type clusterState int

const (
	clusterUnknown clusterState = iota
	clusterFreeListed
	clusterFreeCached
	clusterReferenced
)

// clusterInfo tracks one logical cluster's accumulated classification
// and (once referenced) which inode claims it, to detect the phase 5
// double-reference hard error.
type clusterInfo struct {
	state      clusterState
	owner      uint32
	ownerFound bool
}

// checkContext carries the per-volume tables every phase after 1
// reads or writes.
type checkContext struct {
	c   *bcache.Cache
	sb  *common.Superblock
	clu []clusterInfo // indexed by logical cluster number

	// populated by checkInodeTable (phase 2), consumed by later phases.
	inUse []bool // true if inode n is in-use
	isDir []bool // true if inode n is an in-use directory
}

// Check runs all six phases of spec §4.9 against cache. It loads the
// superblock itself, without the header validation Mount applies, since
// fsck must tolerate a superblock that fails validation. It returns
// the accumulated Report on a clean or soft-failing run, and a non-nil
// error only when the superblock cannot be loaded.
func Check(c *bcache.Cache) (*Report, error) {
	if err := c.LoadSuperblock(); err != nil {
		return nil, fmt.Errorf("loading superblock: %w", err)
	}
	sb, err := c.Superblock()
	if err != nil {
		return nil, err
	}

	report := &Report{}

	sbPhase := checkSuperblock(sb)
	report.Phases = append(report.Phases, sbPhase)
	if !sbPhase.OK() {
		log.Warn("superblock phase failed, aborting remaining phases")
		return report, nil
	}

	ctx := &checkContext{
		c:     c,
		sb:    sb,
		clu:   make([]clusterInfo, sb.DzoneTotal),
		inUse: make([]bool, sb.Itotal),
		isDir: make([]bool, sb.Itotal),
	}

	report.Phases = append(report.Phases, checkInodeTable(ctx))
	report.Phases = append(report.Phases, checkDataZone(ctx))
	report.Phases = append(report.Phases, checkCaches(ctx))
	report.Phases = append(report.Phases, checkCrossReference(ctx))
	report.Phases = append(report.Phases, checkDirectoryReachability(ctx))

	return report, nil
}

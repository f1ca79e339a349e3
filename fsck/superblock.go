package fsck

import (
	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/consist"
)

// checkSuperblock is phase 1 of spec §4.9: the header fields and the
// ntotal/itotal size arithmetic, reusing the exact predicate every
// mutating layer calls on mount.
func checkSuperblock(sb *common.Superblock) PhaseResult {
	phase := PhaseResult{Name: "superblock"}
	if err := consist.Superblock(sb); err != nil {
		phase.Findings = append(phase.Findings, Finding{Subject: "superblock", Err: err})
		return phase
	}
	if err := consist.InodeTableSizes(sb); err != nil {
		phase.Findings = append(phase.Findings, Finding{Subject: "superblock", Err: err})
	}
	return phase
}

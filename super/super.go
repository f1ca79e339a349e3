// Package super implements C2: a thin typed accessor over the
// superblock slot of bcache, plus the mount/unmount lifecycle of spec
// §4.2.
//
// Grounded on the teacher's super.go (read_superblock, reworked from a
// fixed 1024-byte boot-block offset into the cluster-addressed layout
// of spec §6) and on the field layout of the original SOFS11
// soSuperBlock (original_source/SOFS11/src/sofs11/sofs_superblock.h).
package super

import (
	"fmt"

	"github.com/mlaz/OperatingSystemsFS/bcache"
	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/consist"
)

// Manager owns the mount lifecycle of one volume's superblock.
type Manager struct {
	cache *bcache.Cache
}

// New wraps cache with a superblock manager.
func New(cache *bcache.Cache) *Manager {
	return &Manager{cache: cache}
}

// NeedsFsckError is returned by Mount for a volume that was not
// properly unmounted; fsck must run before Mount succeeds.
type NeedsFsckError struct{ Reason string }

func (e *NeedsFsckError) Error() string {
	return fmt.Sprintf("sofs11: volume requires fsck before mount: %s", e.Reason)
}

// Mount loads block 0, validates the header, and -- on success --
// stamps NotProperlyUnmounted and stores it back (spec §4.2). If the
// header is corrupt it returns ErrInvalidSuperblock; if the volume was
// not properly unmounted it returns *NeedsFsckError so the caller can
// invoke fsck before retrying.
func (m *Manager) Mount() (*common.Superblock, error) {
	if err := m.cache.LoadSuperblock(); err != nil {
		return nil, err
	}
	sb, err := m.cache.Superblock()
	if err != nil {
		return nil, err
	}
	if err := m.validateHeader(sb); err != nil {
		return nil, err
	}
	if sb.Mstat != common.ProperlyUnmounted {
		return nil, &NeedsFsckError{Reason: "mstat != PROPERLY_UNMOUNTED"}
	}
	sb.Mstat = common.NotProperlyUnmounted
	if err := m.cache.StoreSuperblock(sb); err != nil {
		return nil, err
	}
	return sb, nil
}

// Unmount marks the volume cleanly unmounted and releases the cache's
// hold on it.
func (m *Manager) Unmount(sb *common.Superblock) error {
	sb.Mstat = common.ProperlyUnmounted
	if err := m.cache.StoreSuperblock(sb); err != nil {
		return err
	}
	return m.cache.Flush()
}

// validateHeader delegates to the C3 predicates shared with fsck: the
// header/size arithmetic of spec §3 and the inode-table size invariant.
func (m *Manager) validateHeader(sb *common.Superblock) error {
	if err := consist.Superblock(sb); err != nil {
		return err
	}
	return consist.InodeTableSizes(sb)
}

// ClusterBlock returns the physical first block of logical data
// cluster n.
func ClusterBlock(sb *common.Superblock, logical uint32) uint32 {
	return sb.DzoneStart + logical*common.BlocksPerCluster
}

// InodeBlockAndOffset returns the physical block holding inode n and
// its byte offset within that block.
func InodeBlockAndOffset(sb *common.Superblock, n uint32) (block uint32, offset int) {
	block = sb.ITableStart + n/common.IPB
	offset = int(n%common.IPB) * common.InodeSize
	return
}

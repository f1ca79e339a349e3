package common

import "errors"

// Sentinel errors, grouped by the taxonomy of spec §7. Each is a
// distinct value so callers (including fsck) can branch on the exact
// failure instead of a string. This mirrors the teacher's flat
// package-level `var Exxx = errors.New(...)` set (common/errors.go in
// the teacher repo) widened to the SOFS11 categories.
var (
	// Argument errors.
	ErrInvalidInode   = errors.New("sofs11: invalid inode number")
	ErrInvalidCluster = errors.New("sofs11: invalid cluster number")
	ErrNilBuffer      = errors.New("sofs11: nil buffer")
	ErrNotAbsolute    = errors.New("sofs11: path is not absolute")
	ErrNameTooLong    = errors.New("sofs11: name too long")
	ErrInvalidMode    = errors.New("sofs11: invalid inode type for operation")
	ErrInvalidStatus  = errors.New("sofs11: unknown inode status")
	ErrUnknownOp      = errors.New("sofs11: unknown operation")
	ErrBadName        = errors.New("sofs11: name is not a base name")

	// Space errors.
	ErrNoSpace       = errors.New("sofs11: no free inode or data cluster")
	ErrFileTooBig    = errors.New("sofs11: file would exceed maximum size")
	ErrDirTooBig     = errors.New("sofs11: directory would exceed maximum size")
	ErrTooManyLinks  = errors.New("sofs11: link count would overflow")
	ErrAlreadyAlloc  = errors.New("sofs11: cluster slot already allocated")
	ErrRefsOutstand  = errors.New("sofs11: inode still has outstanding references")
	ErrNotAllocated  = errors.New("sofs11: cluster is not allocated")
	ErrWrongInodeTag = errors.New("sofs11: cluster stat does not match owning inode")

	// Name errors.
	ErrNotFound      = errors.New("sofs11: entry not found")
	ErrAlreadyExists = errors.New("sofs11: entry already exists")
	ErrNotEmpty      = errors.New("sofs11: directory not empty")
	ErrNotADir       = errors.New("sofs11: not a directory")
	ErrIsADir        = errors.New("sofs11: is a directory")
	ErrLoop          = errors.New("sofs11: too many symbolic links encountered")

	// Permission errors: kept distinct on purpose (spec §4.6/§9): the
	// host adaptor maps the first to EACCES and the second to EPERM.
	ErrAccessDeniedPath   = errors.New("sofs11: execute permission denied on path component")
	ErrAccessDeniedTarget = errors.New("sofs11: permission denied on target")

	// Consistency errors (spec §4.3, §7): one per predicate so fsck and
	// mount report a specific diagnostic.
	ErrInvalidSuperblock      = errors.New("sofs11: superblock is inconsistent")
	ErrInconsistentInodeInUse = errors.New("sofs11: in-use inode is inconsistent")
	ErrInconsistentFreeDirty  = errors.New("sofs11: free-dirty inode is inconsistent")
	ErrInconsistentFreeClean  = errors.New("sofs11: free-clean inode is inconsistent")
	ErrInconsistentRefList    = errors.New("sofs11: cluster reference list is inconsistent")
	ErrInconsistentCluster    = errors.New("sofs11: data cluster header is inconsistent")
	ErrInconsistentDirectory  = errors.New("sofs11: directory contents are malformed")
	ErrRefAlreadyOnList       = errors.New("sofs11: reference is already on a free list")
	ErrRefNotOnList           = errors.New("sofs11: reference is not on the expected free list")

	// I/O errors (spec §6).
	ErrDeviceNotOpen = errors.New("sofs11: backing device is not open")
	ErrIOError       = errors.New("sofs11: backing device I/O error")

	// Cache errors (spec §4.1).
	ErrSlotDirty = errors.New("sofs11: cache slot has an unstored mutation")
)

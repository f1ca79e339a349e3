// Package common holds the on-disk layout shared by every layer of the
// SOFS11 core: block/cluster geometry, the superblock, inode and
// directory-entry record shapes, and the sentinel error taxonomy of
// spec §7. Nothing in this package touches the backing file directly;
// that is the job of the device and bcache packages.
package common

const (
	// BlockSize is the smallest unit of backing-file I/O.
	BlockSize = 1024
	// BlocksPerCluster (BPC) is the number of contiguous blocks that
	// form one allocation unit in the data zone.
	BlocksPerCluster = 4
	// ClusterSize is the size in bytes of one data cluster.
	ClusterSize = BlockSize * BlocksPerCluster

	// ClusterHeaderSize is the size in bytes of the prev/next/stat
	// header that precedes every data cluster's payload. Chosen as a
	// multiple of both the directory-entry and reference record sizes
	// so DPC and RPC come out exact.
	ClusterHeaderSize = 64
	// ClusterPayloadSize is what remains of a cluster after its header.
	ClusterPayloadSize = ClusterSize - ClusterHeaderSize

	// InodeSize is the size in bytes of one on-disk inode record.
	InodeSize = 64
	// IPB is the number of inodes that fit in one block.
	IPB = BlockSize / InodeSize
	// NDirect is the number of direct cluster references stored
	// inline in an inode.
	NDirect = 8

	// DirEntrySize is the size in bytes of one directory-entry record.
	DirEntrySize = 64
	// MaxNameLen is the longest base name a directory entry can hold,
	// leaving room for the nul terminator.
	MaxNameLen = DirEntrySize - 4 - 1
	// DPC is the number of directory entries that fit in one cluster.
	DPC = ClusterPayloadSize / DirEntrySize

	// RefSize is the size in bytes of one cluster reference stored in
	// an indirect reference cluster.
	RefSize = 4
	// RPC is the number of cluster references that fit in one
	// reference cluster.
	RPC = ClusterPayloadSize / RefSize

	// MaxFileClusters bounds the logical cluster index space: direct
	// zone, single-indirect zone, double-indirect zone.
	MaxFileClusters = NDirect + RPC + RPC*RPC

	// MaxClucount bounds Inode.Clucount, which (unlike MaxFileClusters)
	// also counts the index clusters fmap allocates to hold references:
	// the single-indirect cluster, the double-indirect top cluster, and
	// up to RPC double-indirect second-level clusters.
	MaxClucount = MaxFileClusters + 2 + RPC

	// DzoneCacheSize is the capacity of the superblock-resident
	// retrieval and insertion caches (mirrors the original SOFS11
	// DZONE_CACHE_SIZE).
	DzoneCacheSize = 50

	// PartitionNameSize is the fixed width of the volume-name field.
	PartitionNameSize = 24

	// Magic and Version identify the on-disk format.
	Magic   = 0x65FE
	Version = 0x2011

	// Mount status values.
	ProperlyUnmounted    = 0
	NotProperlyUnmounted = 1

	// NullInode and NullCluster mark absent references.
	NullInode   = ^uint32(0)
	NullCluster = ^uint32(0)

	// RootInode is always inode 0, the root directory.
	RootInode = 0
	// RootCluster is the always-allocated logical cluster 0.
	RootCluster = 0

	// ITableStart is the fixed physical block where the inode table begins.
	ITableStart = 1
)

// InodeType is the file-type tag carried by the high bits of an
// inode's mode word.
type InodeType uint8

const (
	TypeFree InodeType = iota
	TypeRegular
	TypeDirectory
	TypeSymlink
)

// Permission op bits, used by AccessCheck.
const (
	R = 0o4
	W = 0o2
	X = 0o1
)

// MaxSymlinkHops bounds path-resolution symlink expansion (spec §4.8:
// exactly one level).
const MaxSymlinkHops = 1

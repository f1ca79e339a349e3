package common

import "hash/crc32"

// SuperblockChecksum computes a CRC-32 over the encoded superblock
// image, excluding the trailing checksum field itself. Used by super
// (write side) and fsck (verify side) to flag a corrupted header
// distinctly from a bad magic/version (SPEC_FULL.md's Domain Stack).
func SuperblockChecksum(sb *Superblock) uint32 {
	tmp := *sb
	tmp.Checksum = 0
	blk := EncodeSuperblock(&tmp)
	return crc32.ChecksumIEEE(blk[:])
}

// VerifySuperblockChecksum reports whether sb's stored Checksum field
// matches a fresh recomputation.
func VerifySuperblockChecksum(sb *Superblock) bool {
	return sb.Checksum == SuperblockChecksum(sb)
}

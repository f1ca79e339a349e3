// Grounded on codec.go's own doc comments: the fixed-size encode/decode
// pairs for each on-disk record (spec §3/§9), exercised as round trips
// on literal structs -- this package is pure, no volume needed.
package common_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlaz/OperatingSystemsFS/common"
)

func TestModeEncodeDecodeRoundTrip(t *testing.T) {
	m := common.Mode{Type: common.TypeDirectory, Perm: 0o755}
	require.Equal(t, m, common.DecodeMode(m.Encode()))
}

func TestModeBitsExtractsTriads(t *testing.T) {
	m := common.Mode{Perm: 0o741}
	require.EqualValues(t, 0o7, m.Bits(common.TriadUser))
	require.EqualValues(t, 0o4, m.Bits(common.TriadGroup))
	require.EqualValues(t, 0o1, m.Bits(common.TriadOther))
}

func TestEncodeDecodeInodeInUseRoundTrip(t *testing.T) {
	ip := &common.Inode{
		Mode: common.Mode{Type: common.TypeRegular, Perm: 0o644}, Refcount: 1,
		Owner: 7, Group: 8, Size: 4096, Clucount: 4, Atime: 111, Mtime: 222,
	}
	ip.Direct[0] = 5
	ip.Indirect1 = 9
	ip.Indirect2 = common.NullCluster

	b := common.EncodeInode(ip)
	got := common.DecodeInode(b[:])
	require.Equal(t, ip, got)
}

func TestEncodeDecodeInodeFreeRoundTrip(t *testing.T) {
	ip := &common.Inode{Mode: common.Mode{Type: common.TypeFree}, Prev: 3, Next: 9}
	for i := range ip.Direct {
		ip.Direct[i] = common.NullCluster
	}
	ip.Indirect1 = common.NullCluster
	ip.Indirect2 = common.NullCluster

	b := common.EncodeInode(ip)
	got := common.DecodeInode(b[:])
	require.Equal(t, ip, got)
}

func TestEncodeDecodeDirEntryRoundTrip(t *testing.T) {
	e := &common.DirEntry{NInode: 42}
	e.SetName("hello.txt")

	b := common.EncodeDirEntry(e)
	got := common.DecodeDirEntry(b[:])
	require.Equal(t, e.NInode, got.NInode)
	require.Equal(t, "hello.txt", got.NameString())
}

func TestEncodeDecodeClusterHeaderRoundTrip(t *testing.T) {
	h := &common.ClusterHeader{Prev: 1, Next: 2, Stat: 3}
	b := common.EncodeClusterHeader(h)
	require.Equal(t, h, common.DecodeClusterHeader(b[:]))
}

func TestEncodeDecodeSuperblockRoundTrip(t *testing.T) {
	sb := &common.Superblock{
		Magic: common.Magic, Version: common.Version, Ntotal: 512,
		ITableStart: common.ITableStart, ITableSize: 4, Itotal: 64,
		Ifree: 60, Ihead: 1, Itail: 63,
		DzoneStart: 5, DzoneTotal: 127, DzoneFree: 120,
		Dhead: 0, Dtail: 126,
	}
	copy(sb.Name[:], "vol")

	blk := common.EncodeSuperblock(sb)
	got := common.DecodeSuperblock(&blk)
	require.Equal(t, sb.Magic, got.Magic)
	require.Equal(t, sb.Ntotal, got.Ntotal)
	require.Equal(t, sb.ITableSize, got.ITableSize)
	require.Equal(t, sb.DzoneTotal, got.DzoneTotal)
	require.Equal(t, "vol", got.NameString())
}

func TestSuperblockChecksumDetectsTamper(t *testing.T) {
	sb := &common.Superblock{
		Magic: common.Magic, Version: common.Version, ITableStart: common.ITableStart,
		ITableSize: 1, DzoneStart: 2, DzoneTotal: 10, Itotal: common.IPB, Ntotal: 43,
	}
	sb.Checksum = common.SuperblockChecksum(sb)
	require.True(t, common.VerifySuperblockChecksum(sb))

	sb.Ntotal++
	require.False(t, common.VerifySuperblockChecksum(sb))
}

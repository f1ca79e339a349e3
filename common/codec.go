package common

import "encoding/binary"

// Block is one fixed-size unit of backing-file I/O.
type Block [BlockSize]byte

// ClusterBuf is the raw byte image of one data cluster (header + payload).
type ClusterBuf [ClusterSize]byte

var le = binary.LittleEndian

// EncodeInode serialises ip into a fixed InodeSize-byte record.
func EncodeInode(ip *Inode) [InodeSize]byte {
	var b [InodeSize]byte
	le.PutUint16(b[0:2], ip.Mode.Encode())
	le.PutUint16(b[2:4], ip.Refcount)
	le.PutUint16(b[4:6], ip.Owner)
	le.PutUint16(b[6:8], ip.Group)
	le.PutUint32(b[8:12], ip.Size)
	le.PutUint32(b[12:16], ip.Clucount)
	if ip.IsFree() {
		le.PutUint32(b[16:20], ip.Prev)
		le.PutUint32(b[20:24], ip.Next)
	} else {
		le.PutUint32(b[16:20], ip.Atime)
		le.PutUint32(b[20:24], ip.Mtime)
	}
	off := 24
	for i := 0; i < NDirect; i++ {
		le.PutUint32(b[off:off+4], ip.Direct[i])
		off += 4
	}
	le.PutUint32(b[off:off+4], ip.Indirect1)
	off += 4
	le.PutUint32(b[off:off+4], ip.Indirect2)
	return b
}

// DecodeInode deserialises a fixed InodeSize-byte record.
func DecodeInode(b []byte) *Inode {
	ip := &Inode{}
	raw := le.Uint16(b[0:2])
	ip.Mode = DecodeMode(raw)
	ip.Refcount = le.Uint16(b[2:4])
	ip.Owner = le.Uint16(b[4:6])
	ip.Group = le.Uint16(b[6:8])
	ip.Size = le.Uint32(b[8:12])
	ip.Clucount = le.Uint32(b[12:16])
	if ip.IsFree() {
		ip.Prev = le.Uint32(b[16:20])
		ip.Next = le.Uint32(b[20:24])
	} else {
		ip.Atime = le.Uint32(b[16:20])
		ip.Mtime = le.Uint32(b[20:24])
	}
	off := 24
	for i := 0; i < NDirect; i++ {
		ip.Direct[i] = le.Uint32(b[off : off+4])
		off += 4
	}
	ip.Indirect1 = le.Uint32(b[off : off+4])
	off += 4
	ip.Indirect2 = le.Uint32(b[off : off+4])
	return ip
}

// EncodeDirEntry serialises e into a fixed DirEntrySize-byte record.
func EncodeDirEntry(e *DirEntry) [DirEntrySize]byte {
	var b [DirEntrySize]byte
	le.PutUint32(b[0:4], e.NInode)
	copy(b[4:], e.Name[:])
	return b
}

// DecodeDirEntry deserialises a fixed DirEntrySize-byte record.
func DecodeDirEntry(b []byte) *DirEntry {
	e := &DirEntry{}
	e.NInode = le.Uint32(b[0:4])
	copy(e.Name[:], b[4:4+len(e.Name)])
	return e
}

// EncodeClusterHeader serialises h into the fixed ClusterHeaderSize-byte
// prefix of a cluster.
func EncodeClusterHeader(h *ClusterHeader) [ClusterHeaderSize]byte {
	var b [ClusterHeaderSize]byte
	le.PutUint32(b[0:4], h.Prev)
	le.PutUint32(b[4:8], h.Next)
	le.PutUint32(b[8:12], h.Stat)
	return b
}

// DecodeClusterHeader deserialises the fixed ClusterHeaderSize-byte prefix.
func DecodeClusterHeader(b []byte) *ClusterHeader {
	return &ClusterHeader{
		Prev: le.Uint32(b[0:4]),
		Next: le.Uint32(b[4:8]),
		Stat: le.Uint32(b[8:12]),
	}
}

// EncodeSuperblock serialises sb into one BlockSize-wide image, padded
// with zeroes (spec §3: "padded to block size").
func EncodeSuperblock(sb *Superblock) Block {
	var blk Block
	b := blk[:]
	le.PutUint32(b[0:4], sb.Magic)
	le.PutUint32(b[4:8], sb.Version)
	copy(b[8:8+PartitionNameSize], sb.Name[:])
	off := 8 + PartitionNameSize
	copy(b[off:off+16], sb.UUID[:])
	off += 16
	le.PutUint32(b[off:off+4], sb.Ntotal)
	off += 4
	le.PutUint32(b[off:off+4], sb.Mstat)
	off += 4
	le.PutUint32(b[off:off+4], sb.ITableStart)
	off += 4
	le.PutUint32(b[off:off+4], sb.ITableSize)
	off += 4
	le.PutUint32(b[off:off+4], sb.Itotal)
	off += 4
	le.PutUint32(b[off:off+4], sb.Ifree)
	off += 4
	le.PutUint32(b[off:off+4], sb.Ihead)
	off += 4
	le.PutUint32(b[off:off+4], sb.Itail)
	off += 4
	le.PutUint32(b[off:off+4], sb.DzoneStart)
	off += 4
	le.PutUint32(b[off:off+4], sb.DzoneTotal)
	off += 4
	le.PutUint32(b[off:off+4], sb.DzoneFree)
	off += 4
	off = encodeCache(b, off, &sb.Retrieval)
	off = encodeCache(b, off, &sb.Insertion)
	le.PutUint32(b[off:off+4], sb.Dhead)
	off += 4
	le.PutUint32(b[off:off+4], sb.Dtail)
	off += 4
	le.PutUint32(b[off:off+4], sb.Checksum)
	return blk
}

// checksumOffset is the byte offset of the Checksum field within the
// encoded superblock image, used by bcache to rewrite it in place
// after SuperblockChecksum has been computed over the rest.
const checksumOffset = 8 + PartitionNameSize + 16 + 4 + 4 + 4*6 + 4*3 + (4+4*DzoneCacheSize)*2 + 4*2

// PutChecksum rewrites the checksum field of an already-encoded
// superblock image in place.
func PutChecksum(blk *Block, checksum uint32) {
	le.PutUint32(blk[checksumOffset:checksumOffset+4], checksum)
}

func encodeCache(b []byte, off int, c *FreeClusterCache) int {
	le.PutUint32(b[off:off+4], c.Idx)
	off += 4
	for i := 0; i < DzoneCacheSize; i++ {
		le.PutUint32(b[off:off+4], c.Cache[i])
		off += 4
	}
	return off
}

func decodeCache(b []byte, off int, c *FreeClusterCache) int {
	c.Idx = le.Uint32(b[off : off+4])
	off += 4
	for i := 0; i < DzoneCacheSize; i++ {
		c.Cache[i] = le.Uint32(b[off : off+4])
		off += 4
	}
	return off
}

// DecodeSuperblock deserialises the BlockSize-wide image at block 0.
func DecodeSuperblock(blk *Block) *Superblock {
	b := blk[:]
	sb := &Superblock{}
	sb.Magic = le.Uint32(b[0:4])
	sb.Version = le.Uint32(b[4:8])
	copy(sb.Name[:], b[8:8+PartitionNameSize])
	off := 8 + PartitionNameSize
	copy(sb.UUID[:], b[off:off+16])
	off += 16
	sb.Ntotal = le.Uint32(b[off : off+4])
	off += 4
	sb.Mstat = le.Uint32(b[off : off+4])
	off += 4
	sb.ITableStart = le.Uint32(b[off : off+4])
	off += 4
	sb.ITableSize = le.Uint32(b[off : off+4])
	off += 4
	sb.Itotal = le.Uint32(b[off : off+4])
	off += 4
	sb.Ifree = le.Uint32(b[off : off+4])
	off += 4
	sb.Ihead = le.Uint32(b[off : off+4])
	off += 4
	sb.Itail = le.Uint32(b[off : off+4])
	off += 4
	sb.DzoneStart = le.Uint32(b[off : off+4])
	off += 4
	sb.DzoneTotal = le.Uint32(b[off : off+4])
	off += 4
	sb.DzoneFree = le.Uint32(b[off : off+4])
	off += 4
	off = decodeCache(b, off, &sb.Retrieval)
	off = decodeCache(b, off, &sb.Insertion)
	sb.Dhead = le.Uint32(b[off : off+4])
	off += 4
	sb.Dtail = le.Uint32(b[off : off+4])
	off += 4
	sb.Checksum = le.Uint32(b[off : off+4])
	return sb
}

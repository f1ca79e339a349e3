// Package device implements the backing-file contract that the core
// consumes (spec §6): positional reads and writes of whole blocks,
// over a file whose size is a positive multiple of BlockSize.
//
// Grounded on _examples/mit-pdos-go-nfsd/cmd/fs-smallfile/main.go's use
// of golang.org/x/sys/unix for positional, offset-addressed I/O
// (Pread/Pwrite/Fsync) instead of the teacher's Seek+Read pair, which
// would otherwise mutate shared file-offset state across calls.
package device

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/mlaz/OperatingSystemsFS/common"
)

// Device is the interface the block/cluster cache (C1) consumes. It
// is intentionally tiny: the core never needs more than block-addressed
// read/write and a flush-to-stable-storage barrier.
type Device interface {
	// ReadBlock fills b with the contents of block bno.
	ReadBlock(bno uint32, b *common.Block) error
	// WriteBlock writes b to block bno.
	WriteBlock(bno uint32, b *common.Block) error
	// Sync forces previously written blocks to stable storage.
	Sync() error
	// Blocks reports the total number of blocks the device exposes.
	Blocks() uint32
	// Close releases the underlying file descriptor.
	Close() error
}

// File is a Device backed by a regular file, opened read+write.
type File struct {
	f      *os.File
	fd     int
	nblock uint32
}

// Open opens path for read+write and validates that its size is a
// positive multiple of BlockSize (spec §6).
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDeviceNotOpen, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", common.ErrIOError, err)
	}
	size := info.Size()
	if size <= 0 || size%common.BlockSize != 0 {
		f.Close()
		return nil, fmt.Errorf("%w: size %d is not a positive multiple of block size", common.ErrInvalidSuperblock, size)
	}
	return &File{f: f, fd: int(f.Fd()), nblock: uint32(size / common.BlockSize)}, nil
}

// Create creates (or truncates) path to hold nblocks blocks, ready for
// mkfs to populate.
func Create(path string, nblocks uint32) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDeviceNotOpen, err)
	}
	if err := f.Truncate(int64(nblocks) * common.BlockSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", common.ErrIOError, err)
	}
	return &File{f: f, fd: int(f.Fd()), nblock: nblocks}, nil
}

func (d *File) Blocks() uint32 { return d.nblock }

func (d *File) ReadBlock(bno uint32, b *common.Block) error {
	if d.f == nil {
		return common.ErrDeviceNotOpen
	}
	if bno >= d.nblock {
		return fmt.Errorf("%w: block %d out of range", common.ErrInvalidCluster, bno)
	}
	n, err := unix.Pread(d.fd, b[:], int64(bno)*common.BlockSize)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrIOError, err)
	}
	if n != common.BlockSize {
		return fmt.Errorf("%w: short read of block %d (%d bytes)", common.ErrIOError, bno, n)
	}
	return nil
}

func (d *File) WriteBlock(bno uint32, b *common.Block) error {
	if d.f == nil {
		return common.ErrDeviceNotOpen
	}
	if bno >= d.nblock {
		return fmt.Errorf("%w: block %d out of range", common.ErrInvalidCluster, bno)
	}
	n, err := unix.Pwrite(d.fd, b[:], int64(bno)*common.BlockSize)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrIOError, err)
	}
	if n != common.BlockSize {
		return fmt.Errorf("%w: short write of block %d (%d bytes)", common.ErrIOError, bno, n)
	}
	return nil
}

func (d *File) Sync() error {
	if d.f == nil {
		return common.ErrDeviceNotOpen
	}
	if err := unix.Fsync(d.fd); err != nil {
		return fmt.Errorf("%w: %v", common.ErrIOError, err)
	}
	return nil
}

func (d *File) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

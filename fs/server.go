// Package fs implements the file-system façade spec.md §6's operation
// surface presents to a host adaptor: mount/unmount plus the
// synchronous create/open/read/write/close, directory and link
// operations built from dir, inode, fmap, ialloc and dalloc.
//
// Grounded on fs/server.go's FileSystem/NewFileSystem (the device/cache
// wiring) and fs/syscalls.go's do_* dispatch (the operation surface),
// collapsed from the teacher's channel/goroutine request-response loop
// into direct synchronous calls per spec §5 -- there is exactly one
// caller active at a time, so there is nothing to arbitrate and no
// "FileSystem.loop" to run in a goroutine.
package fs

import (
	"github.com/mlaz/OperatingSystemsFS/bcache"
	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/device"
	"github.com/mlaz/OperatingSystemsFS/super"
)

// FileSystem owns one mounted volume's cache and superblock.
type FileSystem struct {
	dev   device.Device
	cache *bcache.Cache
	sb    *common.Superblock
	mgr   *super.Manager
}

// Mount opens path as a backing device and mounts the SOFS11 volume on
// it, per spec §4.2. A volume not properly unmounted is reported as a
// *super.NeedsFsckError; the caller must run fsck (cmd/fsck, or
// fsck.Check directly) before mounting again.
func Mount(path string) (*FileSystem, error) {
	dev, err := device.Open(path)
	if err != nil {
		return nil, err
	}
	cache := bcache.New(dev)
	mgr := super.New(cache)
	sb, err := mgr.Mount()
	if err != nil {
		dev.Close()
		return nil, err
	}
	return &FileSystem{dev: dev, cache: cache, sb: sb, mgr: mgr}, nil
}

// Unmount flushes every dirty block, stamps the volume properly
// unmounted, and closes the backing device.
func (fs *FileSystem) Unmount() error {
	if err := fs.mgr.Unmount(fs.sb); err != nil {
		return err
	}
	return fs.dev.Close()
}

// RootProcess returns a Process anchored at the root directory, running
// as uid/gid (0/0 for the superuser the interactive shell starts as).
func (fs *FileSystem) RootProcess(uid, gid uint16) *Process {
	return &Process{
		fs:    fs,
		Uid:   uid,
		Gid:   gid,
		Cwd:   common.RootInode,
		Umask: 0o022,
	}
}

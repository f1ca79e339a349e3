// Package testvolume builds a freshly formatted, mounted SOFS11 volume
// for the package test suites that need one. Grounded on the teacher's
// testutils/devices.go (a shared fixture-builder test helpers across
// package boundaries), repurposed from a ramdisk-device-with-test-T
// builder to a formatted-image-plus-mounted-cache one since SOFS11's
// tests need a real on-disk layout (superblock, inode table, free
// lists) rather than a block of synthetic bytes.
package testvolume

import (
	"path/filepath"
	"testing"

	"github.com/mlaz/OperatingSystemsFS/bcache"
	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/device"
	"github.com/mlaz/OperatingSystemsFS/mkfs"
	"github.com/mlaz/OperatingSystemsFS/super"
)

// Fresh formats a new volume of ntotal blocks with inodeCount inodes in
// a temp file, mounts it, and returns the mounted cache and superblock.
// It registers a cleanup with t that unmounts and closes the backing
// device when the test ends.
func Fresh(t *testing.T, ntotal, inodeCount uint32) (*bcache.Cache, *common.Superblock) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "volume.img")
	if _, err := mkfs.Format(path, ntotal, mkfs.Options{VolumeName: "test", InodeCount: inodeCount}); err != nil {
		t.Fatalf("mkfs.Format: %v", err)
	}

	dev, err := device.Open(path)
	if err != nil {
		t.Fatalf("device.Open: %v", err)
	}
	c := bcache.New(dev)
	mgr := super.New(c)
	sb, err := mgr.Mount()
	if err != nil {
		dev.Close()
		t.Fatalf("super.Mount: %v", err)
	}

	t.Cleanup(func() {
		if err := mgr.Unmount(sb); err != nil {
			t.Errorf("super.Unmount: %v", err)
		}
		dev.Close()
	})

	return c, sb
}

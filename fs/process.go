// Grounded on fs/process.go's Process (pid/umask/rootdir/workdir/files)
// and fs/syscalls.go's do_mkdir/do_rmdir/do_link/do_unlink/do_chdir,
// rebuilt as direct calls into dir/inode instead of requests sent down
// FileSystem.in -- spec §5 has exactly one process active on a mounted
// volume at a time, so there is no per-process goroutine to own a
// mailbox.
package fs

import (
	"github.com/sirupsen/logrus"

	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/dir"
	"github.com/mlaz/OperatingSystemsFS/ialloc"
	"github.com/mlaz/OperatingSystemsFS/inode"
)

var log = logrus.WithField("layer", "fs")

// Process is one caller's view of a mounted FileSystem: its identity
// for AccessCheck, its current directory, and its open file table.
type Process struct {
	fs    *FileSystem
	Uid   uint16
	Gid   uint16
	Cwd   uint32
	Umask uint16
	files []*filp
}

// Stat is the subset of an inode a caller needs back from the core:
// type, permissions, link count, owner, group and size. Cluster
// references, clucount and the timestamps are not included.
type Stat struct {
	Inode    uint32
	Type     common.InodeType
	Perm     uint16
	Refcount uint16
	Owner    uint16
	Group    uint16
	Size     uint32
}

func statFrom(n uint32, ip *common.Inode) *Stat {
	return &Stat{
		Inode: n, Type: ip.Mode.Type, Perm: ip.Mode.Perm,
		Refcount: ip.Refcount, Owner: ip.Owner, Group: ip.Group, Size: ip.Size,
	}
}

// resolve anchors path resolution at this process's current directory.
func (p *Process) resolve(path string) (parent, entry uint32, err error) {
	return dir.ResolveFrom(p.fs.cache, p.fs.sb, p.Cwd, path, p.Uid, p.Gid)
}

// Stat resolves path and returns the resolved entry's attributes.
func (p *Process) Stat(path string) (*Stat, error) {
	_, n, err := p.resolve(path)
	if err != nil {
		return nil, err
	}
	ip, err := inode.Read(p.fs.cache, p.fs.sb, n)
	if err != nil {
		return nil, err
	}
	return statFrom(n, ip), nil
}

// Chmod replaces path's permission bits; only the owner or the
// superuser may do so.
func (p *Process) Chmod(path string, perm uint16) error {
	_, n, err := p.resolve(path)
	if err != nil {
		return err
	}
	ip, err := inode.Read(p.fs.cache, p.fs.sb, n)
	if err != nil {
		return err
	}
	if p.Uid != inode.RootUID && p.Uid != ip.Owner {
		return common.ErrAccessDeniedTarget
	}
	ip.Mode.Perm = perm & 0o777
	return inode.Write(p.fs.cache, p.fs.sb, n, ip)
}

// Mkdir creates an empty directory at path.
func (p *Process) Mkdir(path string, perm uint16) error {
	parentPath, base := dirBase(path)
	_, parent, err := p.resolve(parentPath)
	if err != nil {
		return err
	}
	n, _, err := ialloc.Allocate(p.fs.cache, p.fs.sb, common.Mode{Type: common.TypeDirectory, Perm: perm & ^p.Umask & 0o777}, p.Uid, p.Gid)
	if err != nil {
		return err
	}
	if err := dir.Add(p.fs.cache, p.fs.sb, parent, base, n, p.Uid, p.Gid); err != nil {
		if freeErr := ialloc.Free(p.fs.cache, p.fs.sb, n, &common.Inode{Mode: common.Mode{Type: common.TypeFree}}); freeErr != nil {
			log.WithError(freeErr).Warn("rollback of mkdir's inode allocation failed")
		}
		return err
	}
	return nil
}

// Rmdir removes the empty directory at path.
func (p *Process) Rmdir(path string) error {
	parentPath, base := dirBase(path)
	_, parent, err := p.resolve(parentPath)
	if err != nil {
		return err
	}
	return dir.Remove(p.fs.cache, p.fs.sb, parent, base, p.Uid, p.Gid)
}

// Unlink removes a name from its directory, freeing the target once no
// directory entry references it.
func (p *Process) Unlink(path string) error {
	parentPath, base := dirBase(path)
	_, parent, err := p.resolve(parentPath)
	if err != nil {
		return err
	}
	return dir.Remove(p.fs.cache, p.fs.sb, parent, base, p.Uid, p.Gid)
}

// Link installs a second name for an already-existing regular file or
// symlink (hard links to directories are never allowed).
func (p *Process) Link(oldpath, newpath string) error {
	_, target, err := p.resolve(oldpath)
	if err != nil {
		return err
	}
	ip, err := inode.Read(p.fs.cache, p.fs.sb, target)
	if err != nil {
		return err
	}
	if ip.Mode.Type == common.TypeDirectory {
		return common.ErrIsADir
	}
	parentPath, base := dirBase(newpath)
	_, parent, err := p.resolve(parentPath)
	if err != nil {
		return err
	}
	return dir.Add(p.fs.cache, p.fs.sb, parent, base, target, p.Uid, p.Gid)
}

// Rename moves or renames oldpath to newpath, within or across
// directories (spec §4.8's cross-directory rename composite).
func (p *Process) Rename(oldpath, newpath string) error {
	srcParentPath, srcBase := dirBase(oldpath)
	_, srcParent, err := p.resolve(srcParentPath)
	if err != nil {
		return err
	}
	dstParentPath, dstBase := dirBase(newpath)
	_, dstParent, err := p.resolve(dstParentPath)
	if err != nil {
		return err
	}
	return dir.Move(p.fs.cache, p.fs.sb, srcParent, srcBase, dstParent, dstBase, p.Uid, p.Gid)
}

// Symlink creates a new symlink at linkpath whose stored target is the
// literal target string (not itself resolved).
func (p *Process) Symlink(target, linkpath string) error {
	parentPath, base := dirBase(linkpath)
	_, parent, err := p.resolve(parentPath)
	if err != nil {
		return err
	}
	n, _, err := ialloc.Allocate(p.fs.cache, p.fs.sb, common.Mode{Type: common.TypeSymlink, Perm: 0o777}, p.Uid, p.Gid)
	if err != nil {
		return err
	}
	// Link the name before writing the target: a freshly allocated
	// inode sits at Refcount 0 until dir.Add stamps its first name, and
	// writeSymlinkTarget's cluster write is gated on consist.InodeInUse.
	if err := dir.Add(p.fs.cache, p.fs.sb, parent, base, n, p.Uid, p.Gid); err != nil {
		if freeErr := ialloc.Free(p.fs.cache, p.fs.sb, n, &common.Inode{Mode: common.Mode{Type: common.TypeFree}}); freeErr != nil {
			log.WithError(freeErr).Warn("rollback of symlink's inode allocation failed")
		}
		return err
	}
	if err := writeSymlinkTarget(p.fs.cache, p.fs.sb, n, target); err != nil {
		if rmErr := dir.Remove(p.fs.cache, p.fs.sb, parent, base, p.Uid, p.Gid); rmErr != nil {
			log.WithError(rmErr).Warn("rollback of symlink's directory entry failed")
		}
		return err
	}
	return nil
}

// Readlink returns the literal target string a symlink holds. Only the
// parent path is resolved; the final component is looked up as-is, so
// the symlink itself is read rather than what it points at.
func (p *Process) Readlink(path string) (string, error) {
	parentPath, base := dirBase(path)
	_, parent, err := p.resolve(parentPath)
	if err != nil {
		return "", err
	}
	_, n, err := dir.LookupByName(p.fs.cache, p.fs.sb, parent, base, p.Uid, p.Gid)
	if err != nil {
		return "", err
	}
	return dir.ReadSymlink(p.fs.cache, p.fs.sb, n)
}

// ReadDir resolves path and lists its directory entries.
func (p *Process) ReadDir(path string) ([]dir.Entry, error) {
	_, n, err := p.resolve(path)
	if err != nil {
		return nil, err
	}
	return dir.ListEntries(p.fs.cache, p.fs.sb, n, p.Uid, p.Gid)
}

// Chdir changes the process's current directory to path, which must
// resolve to a directory the process may search.
func (p *Process) Chdir(path string) error {
	_, n, err := p.resolve(path)
	if err != nil {
		return err
	}
	ip, err := inode.Read(p.fs.cache, p.fs.sb, n)
	if err != nil {
		return err
	}
	if ip.Mode.Type != common.TypeDirectory {
		return common.ErrNotADir
	}
	if err := inode.AccessCheck(ip, p.Uid, p.Gid, common.X); err != nil {
		return err
	}
	p.Cwd = n
	return nil
}

// dirBase splits a (possibly relative) path into its parent path and
// base name, mirroring dir.go's splitDirBase without requiring the
// input to already be absolute.
func dirBase(path string) (string, string) {
	idx := -1
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ".", path
	}
	parent := path[:idx]
	if parent == "" {
		parent = "/"
	}
	return parent, path[idx+1:]
}

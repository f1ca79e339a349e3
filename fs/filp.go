// Grounded on fs/filp.go's filp (count/pos/file/inode/mode fields,
// Seek/Read/Write/Truncate/Fstat/Close methods) and fs/syscalls.go's
// do_open/do_creat/do_read/do_write, collapsed into direct calls over
// fmap/inode instead of a mutex-guarded struct shared across a process
// table -- spec §5's synchronous core has exactly one caller per open
// descriptor, so filp's sync.Mutex and refcount have no counterpart
// here; what survives is the cursor-plus-inode shape and the
// cluster-at-a-time read/write loop.
package fs

import (
	"fmt"
	"io"
	"time"

	"github.com/mlaz/OperatingSystemsFS/bcache"
	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/dir"
	"github.com/mlaz/OperatingSystemsFS/fmap"
	"github.com/mlaz/OperatingSystemsFS/ialloc"
	"github.com/mlaz/OperatingSystemsFS/inode"
)

// Open flags, the subset of POSIX open(2)'s the teacher's do_open
// switches on.
const (
	ORdOnly = 0
	OWrOnly = 1
	ORdWr   = 2
	OCreat  = 0o100
	OTrunc  = 0o1000
	OAppend = 0o2000
)

// filp is one open-file-table entry.
type filp struct {
	nInode uint32
	pos    uint32
	flags  int
}

func physical(sb *common.Superblock, logical uint32) uint32 {
	return sb.DzoneStart + logical*common.BlocksPerCluster
}

func now() uint32 { return uint32(time.Now().Unix()) }

// writeSymlinkTarget stores target as freshly allocated symlink inode
// n's sole content, allocating clusters as it goes.
func writeSymlinkTarget(c *bcache.Cache, sb *common.Superblock, n uint32, target string) error {
	return writeAt(c, sb, n, 0, []byte(target))
}

// writeAt writes data at byte offset off into inode n's content,
// allocating clusters past the inode's current allocated extent as
// needed, and grows the stored size to cover whatever the write
// reaches -- spec §6's write_file_cluster composed over whole clusters.
func writeAt(c *bcache.Cache, sb *common.Superblock, n uint32, off uint32, data []byte) error {
	ip, err := inode.Read(c, sb, n)
	if err != nil {
		return err
	}

	end := off + uint32(len(data))
	if end > common.MaxFileClusters*common.ClusterPayloadSize {
		return common.ErrFileTooBig
	}

	written := uint32(0)
	for written < uint32(len(data)) {
		pos := off + written
		clusterIdx := pos / common.ClusterPayloadSize
		coff := pos % common.ClusterPayloadSize

		logical, err := fmap.Handle(c, sb, n, clusterIdx, fmap.OpGet)
		if err != nil {
			return err
		}
		if logical == common.NullCluster {
			logical, err = fmap.Handle(c, sb, n, clusterIdx, fmap.OpAlloc)
			if err != nil {
				return err
			}
		}

		want := common.ClusterPayloadSize - coff
		if remaining := uint32(len(data)) - written; remaining < want {
			want = remaining
		}

		buf, err := c.ReadClusterDirect(physical(sb, logical))
		if err != nil {
			return err
		}
		copy(buf[common.ClusterHeaderSize+coff:common.ClusterHeaderSize+coff+want], data[written:written+want])
		if err := c.WriteClusterDirect(physical(sb, logical), buf); err != nil {
			return err
		}

		written += want
	}

	ip, err = inode.Read(c, sb, n)
	if err != nil {
		return err
	}
	if end > ip.Size {
		ip.Size = end
	}
	inode.Touch(ip, now(), false)
	return inode.Write(c, sb, n, ip)
}

// readAt copies up to len(buf) bytes starting at byte offset off of
// inode n's content, zero-filling any unallocated hole, and returns the
// number of bytes copied -- never more than the inode's stored size
// reaches past off.
func readAt(c *bcache.Cache, sb *common.Superblock, n uint32, off uint32, buf []byte) (int, error) {
	ip, err := inode.Read(c, sb, n)
	if err != nil {
		return 0, err
	}
	if off >= ip.Size {
		return 0, io.EOF
	}

	total := ip.Size - off
	if uint32(len(buf)) < total {
		total = uint32(len(buf))
	}

	read := uint32(0)
	for read < total {
		pos := off + read
		clusterIdx := pos / common.ClusterPayloadSize
		coff := pos % common.ClusterPayloadSize

		want := common.ClusterPayloadSize - coff
		if remaining := total - read; remaining < want {
			want = remaining
		}

		logical, err := fmap.Handle(c, sb, n, clusterIdx, fmap.OpGet)
		if err != nil {
			return int(read), err
		}
		if logical == common.NullCluster {
			for i := uint32(0); i < want; i++ {
				buf[read+i] = 0
			}
		} else {
			cbuf, err := c.ReadClusterDirect(physical(sb, logical))
			if err != nil {
				return int(read), err
			}
			copy(buf[read:read+want], cbuf[common.ClusterHeaderSize+coff:common.ClusterHeaderSize+coff+want])
		}
		read += want
	}

	inode.Touch(ip, now(), true)
	if err := inode.Write(c, sb, n, ip); err != nil {
		return int(read), err
	}
	return int(read), nil
}

// Open resolves path and installs a new descriptor against it, creating
// a regular file first when flags carries OCreat and no entry exists
// yet (spec §6's create/open composite).
func (p *Process) Open(path string, flags int, perm uint16) (int, error) {
	parentPath, base := dirBase(path)
	_, parent, err := p.resolve(parentPath)
	if err != nil {
		return -1, err
	}

	_, n, err := p.resolve(path)
	switch {
	case err == common.ErrNotFound:
		if flags&OCreat == 0 {
			return -1, err
		}
		n, _, err = ialloc.Allocate(p.fs.cache, p.fs.sb, common.Mode{Type: common.TypeRegular, Perm: perm & ^p.Umask & 0o777}, p.Uid, p.Gid)
		if err != nil {
			return -1, err
		}
		if err := dir.Add(p.fs.cache, p.fs.sb, parent, base, n, p.Uid, p.Gid); err != nil {
			if freeErr := ialloc.Free(p.fs.cache, p.fs.sb, n, &common.Inode{Mode: common.Mode{Type: common.TypeFree}}); freeErr != nil {
				log.WithError(freeErr).Warn("rollback of open(O_CREAT)'s inode allocation failed")
			}
			return -1, err
		}
	case err != nil:
		return -1, err
	}

	ip, err := inode.Read(p.fs.cache, p.fs.sb, n)
	if err != nil {
		return -1, err
	}
	if ip.Mode.Type == common.TypeDirectory {
		return -1, common.ErrIsADir
	}

	var want inode.Want
	switch flags & ORdWr {
	case ORdWr:
		want = common.R | common.W
	default:
		if flags&OWrOnly != 0 {
			want = common.W
		} else {
			want = common.R
		}
	}
	if err := inode.AccessCheck(ip, p.Uid, p.Gid, want); err != nil {
		return -1, err
	}

	if flags&OTrunc != 0 {
		if want&common.W == 0 {
			return -1, common.ErrAccessDeniedTarget
		}
		if err := fmap.HandleRange(p.fs.cache, p.fs.sb, n, 0, fmap.OpFreeClean); err != nil {
			return -1, err
		}
		// HandleRange cleared the references on disk; re-read so the
		// write below does not put the old ones back.
		ip, err = inode.Read(p.fs.cache, p.fs.sb, n)
		if err != nil {
			return -1, err
		}
		ip.Size = 0
		ip.Clucount = 0
		if err := inode.Write(p.fs.cache, p.fs.sb, n, ip); err != nil {
			return -1, err
		}
	}

	pos := uint32(0)
	if flags&OAppend != 0 {
		pos = ip.Size
	}

	for fd, f := range p.files {
		if f == nil {
			p.files[fd] = &filp{nInode: n, pos: pos, flags: flags}
			return fd, nil
		}
	}
	p.files = append(p.files, &filp{nInode: n, pos: pos, flags: flags})
	return len(p.files) - 1, nil
}

func (p *Process) at(fd int) (*filp, error) {
	if fd < 0 || fd >= len(p.files) || p.files[fd] == nil {
		return nil, fmt.Errorf("sofs11: bad file descriptor %d", fd)
	}
	return p.files[fd], nil
}

// Close discards a file descriptor. The teacher's filp refcounts
// shared opens across processes under a mutex; spec §5's single caller
// has nothing to share, so closing simply forgets the slot.
func (p *Process) Close(fd int) error {
	if _, err := p.at(fd); err != nil {
		return err
	}
	p.files[fd] = nil
	return nil
}

// Read copies up to len(buf) bytes from fd's cursor and advances it.
func (p *Process) Read(fd int, buf []byte) (int, error) {
	f, err := p.at(fd)
	if err != nil {
		return 0, err
	}
	n, err := readAt(p.fs.cache, p.fs.sb, f.nInode, f.pos, buf)
	f.pos += uint32(n)
	return n, err
}

// Write stores len(data) bytes at fd's cursor and advances it,
// repositioning the cursor to the file's end first when the descriptor
// was opened with OAppend.
func (p *Process) Write(fd int, data []byte) (int, error) {
	f, err := p.at(fd)
	if err != nil {
		return 0, err
	}
	if f.flags&OAppend != 0 {
		ip, err := inode.Read(p.fs.cache, p.fs.sb, f.nInode)
		if err != nil {
			return 0, err
		}
		f.pos = ip.Size
	}
	if err := writeAt(p.fs.cache, p.fs.sb, f.nInode, f.pos, data); err != nil {
		return 0, err
	}
	f.pos += uint32(len(data))
	return len(data), nil
}

// Seek whence values, mirroring io.Seeker's.
const (
	SeekStart   = 0
	SeekCurrent = 1
	SeekEnd     = 2
)

// Seek repositions fd's cursor and returns the new absolute offset.
func (p *Process) Seek(fd int, offset int64, whence int) (int64, error) {
	f, err := p.at(fd)
	if err != nil {
		return 0, err
	}
	var base int64
	switch whence {
	case SeekStart:
		base = 0
	case SeekCurrent:
		base = int64(f.pos)
	case SeekEnd:
		ip, err := inode.Read(p.fs.cache, p.fs.sb, f.nInode)
		if err != nil {
			return 0, err
		}
		base = int64(ip.Size)
	default:
		return 0, fmt.Errorf("sofs11: invalid whence %d", whence)
	}
	newPos := base + offset
	if newPos < 0 {
		return 0, fmt.Errorf("sofs11: negative seek result")
	}
	f.pos = uint32(newPos)
	return newPos, nil
}

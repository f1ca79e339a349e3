// Package dir implements C8: directory operations over the fixed-size
// entry records of spec §3/§4.8 -- lookup by name, path resolution with
// one-level symlink expansion, add, remove, rename, emptiness, and the
// attach/detach primitives a cross-directory move composes from.
//
// Grounded on the teacher's fs/dirops.go (search_dir's LOOKUP/ENTER/
// DELETE/IS_EMPTY modes become the separate lookup/Add/Remove/Emptiness
// functions below, since SOFS11's fixed nInode+name record replaces
// minix's variable directory-block abstraction) and fs/syscalls.go's
// eatPath (the dirname/basename recursion and relative-symlink-target
// normalisation, restructured around inode numbers instead of path
// strings since this layer owns no process/cwd state).
package dir

import (
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mlaz/OperatingSystemsFS/bcache"
	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/fmap"
	"github.com/mlaz/OperatingSystemsFS/ialloc"
	"github.com/mlaz/OperatingSystemsFS/inode"
)

var log = logrus.WithField("layer", "dir")

// --- raw directory-cluster payload access ---
//
// A directory's data clusters are ordinary leaf clusters in the sense
// of fmap's cleanLogicalCluster -- never held open in a bcache slot --
// so they are read and written through the cache's pass-through path.

func physical(sb *common.Superblock, logical uint32) uint32 {
	return sb.DzoneStart + logical*common.BlocksPerCluster
}

func readDirCluster(c *bcache.Cache, sb *common.Superblock, logical uint32) (*common.ClusterBuf, error) {
	return c.ReadClusterDirect(physical(sb, logical))
}

func writeDirCluster(c *bcache.Cache, sb *common.Superblock, logical uint32, buf *common.ClusterBuf) error {
	return c.WriteClusterDirect(physical(sb, logical), buf)
}

func dirEntryAt(buf *common.ClusterBuf, slot uint32) *common.DirEntry {
	off := common.ClusterHeaderSize + int(slot)*common.DirEntrySize
	return common.DecodeDirEntry(buf[off : off+common.DirEntrySize])
}

func putDirEntryAt(buf *common.ClusterBuf, slot uint32, e *common.DirEntry) {
	off := common.ClusterHeaderSize + int(slot)*common.DirEntrySize
	enc := common.EncodeDirEntry(e)
	copy(buf[off:off+common.DirEntrySize], enc[:])
}

func totalSlots(ip *common.Inode) uint32 {
	return ip.Size / common.ClusterSize * common.DPC
}

func validateName(name string) error {
	if name == "" || strings.ContainsRune(name, '/') {
		return common.ErrBadName
	}
	if len(name) > common.MaxNameLen {
		return common.ErrNameTooLong
	}
	return nil
}

const noIndex = ^uint32(0)

// scan walks every populated slot of dirIp looking for name, returning
// the matching entry inode if found. When not found it also reports
// where Add/Attach should place a new entry -- the first free-clean
// slot, else the first free-dirty slot, else the one-past-last index
// (signalling the caller must grow the directory by one cluster), per
// spec §4.8's lookup-by-name.
func scan(c *bcache.Cache, sb *common.Superblock, nInodeDir uint32, dirIp *common.Inode, name string) (found bool, entryInode, insertIdx uint32, needsGrowth bool, err error) {
	total := totalSlots(dirIp)
	freeClean, freeDirty := noIndex, noIndex

	var buf *common.ClusterBuf
	curCluster := noIndex
	for i := uint32(0); i < total; i++ {
		clusterIdx := i / common.DPC
		if clusterIdx != curCluster {
			logical, err := fmap.Handle(c, sb, nInodeDir, clusterIdx, fmap.OpGet)
			if err != nil {
				return false, 0, 0, false, err
			}
			if logical == common.NullCluster {
				return false, 0, 0, false, fmt.Errorf("%w: directory cluster %d unallocated within size", common.ErrInconsistentDirectory, clusterIdx)
			}
			buf, err = readDirCluster(c, sb, logical)
			if err != nil {
				return false, 0, 0, false, err
			}
			curCluster = clusterIdx
		}

		e := dirEntryAt(buf, i%common.DPC)
		if !e.IsEmptySlot() {
			if e.NameString() == name {
				return true, e.NInode, i, false, nil
			}
			continue
		}
		if e.IsCleanSlot() {
			if freeClean == noIndex {
				freeClean = i
			}
		} else if freeDirty == noIndex {
			freeDirty = i
		}
	}

	if freeClean != noIndex {
		return false, 0, freeClean, false, nil
	}
	if freeDirty != noIndex {
		return false, 0, freeDirty, false, nil
	}
	return false, 0, total, true, nil
}

// placeEntry writes a name->target record at insertIdx, allocating a
// fresh zero-initialised directory cluster first when needsGrowth is
// set (spec §4.8's add: "the directory grows by one cluster... the
// new entry is placed at offset 0").
func placeEntry(c *bcache.Cache, sb *common.Superblock, nInodeDir, insertIdx uint32, needsGrowth bool, name string, target uint32) error {
	clusterIdx := insertIdx / common.DPC
	op := fmap.OpGet
	if needsGrowth {
		op = fmap.OpAlloc
	}
	logical, err := fmap.Handle(c, sb, nInodeDir, clusterIdx, op)
	if err != nil {
		return err
	}

	buf, err := readDirCluster(c, sb, logical)
	if err != nil {
		return err
	}
	if needsGrowth {
		for i := uint32(0); i < common.DPC; i++ {
			putDirEntryAt(buf, i, &common.DirEntry{NInode: common.NullInode})
		}
	}
	e := &common.DirEntry{NInode: target}
	e.SetName(name)
	putDirEntryAt(buf, insertIdx%common.DPC, e)
	if err := writeDirCluster(c, sb, logical, buf); err != nil {
		return err
	}

	if !needsGrowth {
		return nil
	}
	dirIp, err := inode.Read(c, sb, nInodeDir)
	if err != nil {
		return err
	}
	dirIp.Size += common.ClusterSize
	return inode.Write(c, sb, nInodeDir, dirIp)
}

// clearSlot marks the entry at idx dirty-free: the first name byte is
// zeroed, the rest (and nInode) left untouched so an offline recovery
// tool can still tell the slot was once occupied (spec §4.8's remove).
func clearSlot(c *bcache.Cache, sb *common.Superblock, nInodeDir, idx uint32) error {
	clusterIdx := idx / common.DPC
	logical, err := fmap.Handle(c, sb, nInodeDir, clusterIdx, fmap.OpGet)
	if err != nil {
		return err
	}
	buf, err := readDirCluster(c, sb, logical)
	if err != nil {
		return err
	}
	e := dirEntryAt(buf, idx%common.DPC)
	e.Name[0] = 0
	putDirEntryAt(buf, idx%common.DPC, e)
	return writeDirCluster(c, sb, logical, buf)
}

// initDotEntries allocates a new directory inode's first cluster and
// seeds it with "." -> self and ".." -> base, leaving every other slot
// a clean NullInode record (spec §4.8's add, directory branch).
func initDotEntries(c *bcache.Cache, sb *common.Superblock, nInodeSub, nInodeBase uint32) error {
	logical, err := fmap.Handle(c, sb, nInodeSub, 0, fmap.OpAlloc)
	if err != nil {
		return err
	}
	buf, err := readDirCluster(c, sb, logical)
	if err != nil {
		return err
	}
	for i := uint32(0); i < common.DPC; i++ {
		putDirEntryAt(buf, i, &common.DirEntry{NInode: common.NullInode})
	}
	dot := &common.DirEntry{NInode: nInodeSub}
	dot.SetName(".")
	putDirEntryAt(buf, 0, dot)
	dotdot := &common.DirEntry{NInode: nInodeBase}
	dotdot.SetName("..")
	putDirEntryAt(buf, 1, dotdot)
	if err := writeDirCluster(c, sb, logical, buf); err != nil {
		return err
	}

	subIp, err := inode.Read(c, sb, nInodeSub)
	if err != nil {
		return err
	}
	subIp.Size = common.ClusterSize
	return inode.Write(c, sb, nInodeSub, subIp)
}

// rewriteDotDot overwrites the ".." entry of an already-built
// directory's first cluster to point at a new base, used by Attach
// when reparenting an existing subtree.
func rewriteDotDot(c *bcache.Cache, sb *common.Superblock, nInodeSub, nInodeNewBase uint32) error {
	logical, err := fmap.Handle(c, sb, nInodeSub, 0, fmap.OpGet)
	if err != nil {
		return err
	}
	if logical == common.NullCluster {
		return fmt.Errorf("%w: subdirectory has no first cluster", common.ErrInconsistentDirectory)
	}
	buf, err := readDirCluster(c, sb, logical)
	if err != nil {
		return err
	}
	e := dirEntryAt(buf, 1)
	if e.NameString() != ".." {
		return fmt.Errorf("%w: slot 1 is not '..'", common.ErrInconsistentDirectory)
	}
	e.NInode = nInodeNewBase
	putDirEntryAt(buf, 1, e)
	return writeDirCluster(c, sb, logical, buf)
}

// LookupByName resolves name within directory nInodeDir, checking that
// the directory is in use, of directory type, and that (uid, gid) hold
// X on it. Returns common.ErrNotFound when no entry matches.
func LookupByName(c *bcache.Cache, sb *common.Superblock, nInodeDir uint32, name string, uid, gid uint16) (dirIp *common.Inode, entryInode uint32, err error) {
	dirIp, err = inode.Read(c, sb, nInodeDir)
	if err != nil {
		return nil, 0, err
	}
	if dirIp.Mode.Type != common.TypeDirectory {
		return nil, 0, common.ErrNotADir
	}
	if err := inode.AccessCheck(dirIp, uid, gid, common.X); err != nil {
		return nil, 0, fmt.Errorf("%w", common.ErrAccessDeniedPath)
	}
	found, entIno, _, _, err := scan(c, sb, nInodeDir, dirIp, name)
	if err != nil {
		return nil, 0, err
	}
	if !found {
		return dirIp, 0, common.ErrNotFound
	}
	return dirIp, entIno, nil
}

// Entry is one populated directory slot, returned by ListEntries.
type Entry struct {
	Name  string
	Inode uint32
}

// ListEntries returns every populated (non-vacated) slot of directory
// nInodeDir, in on-disk order, including "." and "..". The caller must
// hold at least X on the directory to resolve into it in the first
// place; ListEntries itself additionally requires R, mirroring the
// host's `ls` needing read rather than merely search permission.
func ListEntries(c *bcache.Cache, sb *common.Superblock, nInodeDir uint32, uid, gid uint16) ([]Entry, error) {
	dirIp, err := inode.Read(c, sb, nInodeDir)
	if err != nil {
		return nil, err
	}
	if dirIp.Mode.Type != common.TypeDirectory {
		return nil, common.ErrNotADir
	}
	if err := inode.AccessCheck(dirIp, uid, gid, common.R); err != nil {
		return nil, err
	}

	var entries []Entry
	total := totalSlots(dirIp)
	var buf *common.ClusterBuf
	curCluster := noIndex
	for i := uint32(0); i < total; i++ {
		clusterIdx := i / common.DPC
		if clusterIdx != curCluster {
			logical, err := fmap.Handle(c, sb, nInodeDir, clusterIdx, fmap.OpGet)
			if err != nil {
				return nil, err
			}
			if logical == common.NullCluster {
				return nil, fmt.Errorf("%w: directory cluster %d unallocated within size", common.ErrInconsistentDirectory, clusterIdx)
			}
			buf, err = readDirCluster(c, sb, logical)
			if err != nil {
				return nil, err
			}
			curCluster = clusterIdx
		}
		e := dirEntryAt(buf, i%common.DPC)
		if e.IsEmptySlot() {
			continue
		}
		entries = append(entries, Entry{Name: e.NameString(), Inode: e.NInode})
	}
	return entries, nil
}

// splitDirBase splits an absolute path into its dirname and base name,
// the way ResolvePath's recursion consumes one component at a time.
// The empty base ("" for path "/") signals the terminal case.
func splitDirBase(path string) (dir, base string) {
	idx := strings.LastIndexByte(path, '/')
	dir = path[:idx]
	base = path[idx+1:]
	if dir == "" {
		dir = "/"
	}
	return dir, base
}

func readSymlinkTarget(c *bcache.Cache, sb *common.Superblock, nInode uint32, ip *common.Inode) (string, error) {
	var sb2 strings.Builder
	remaining := ip.Size
	for idx := uint32(0); remaining > 0; idx++ {
		logical, err := fmap.Handle(c, sb, nInode, idx, fmap.OpGet)
		if err != nil {
			return "", err
		}
		if logical == common.NullCluster {
			return "", fmt.Errorf("%w: symlink cluster %d unallocated within size", common.ErrInconsistentDirectory, idx)
		}
		buf, err := readDirCluster(c, sb, logical)
		if err != nil {
			return "", err
		}
		n := remaining
		if n > common.ClusterPayloadSize {
			n = common.ClusterPayloadSize
		}
		sb2.Write(buf[common.ClusterHeaderSize : common.ClusterHeaderSize+n])
		remaining -= n
	}
	return sb2.String(), nil
}

// ReadSymlink returns the target string stored in symlink inode n, for
// the readlink operation a host adaptor exposes directly (spec §6
// leaves symlink target retrieval to the directory layer that already
// owns readSymlinkTarget for path resolution).
func ReadSymlink(c *bcache.Cache, sb *common.Superblock, n uint32) (string, error) {
	ip, err := inode.Read(c, sb, n)
	if err != nil {
		return "", err
	}
	if ip.Mode.Type != common.TypeSymlink {
		return "", common.ErrInvalidMode
	}
	return readSymlinkTarget(c, sb, n, ip)
}

// normalize applies spec §4.8's relative-symlink-target rule, folding
// it into a recursive ResolvePath call anchored wherever the rule says
// "current directory" or "parent directory" should mean.
func normalize(c *bcache.Cache, sb *common.Superblock, target string, curDir uint32, uid, gid uint16, hops int) (uint32, uint32, error) {
	switch {
	case strings.HasPrefix(target, "/"):
		return resolve(c, sb, common.RootInode, target, uid, gid, hops)
	case strings.HasPrefix(target, "./"):
		return resolve(c, sb, curDir, "/"+target[2:], uid, gid, hops)
	case strings.HasPrefix(target, "../"):
		_, parent, err := LookupByName(c, sb, curDir, "..", uid, gid)
		if err != nil {
			return 0, 0, err
		}
		return resolve(c, sb, parent, "/"+target[3:], uid, gid, hops)
	default:
		return resolve(c, sb, curDir, "/"+target, uid, gid, hops)
	}
}

// resolve implements resolve-path anchored at root (which may itself
// be an intermediate directory during symlink-target normalisation,
// not necessarily the volume's true root inode).
func resolve(c *bcache.Cache, sb *common.Superblock, root uint32, ePath string, uid, gid uint16, hops int) (parent, entry uint32, err error) {
	if !strings.HasPrefix(ePath, "/") {
		return 0, 0, common.ErrNotAbsolute
	}
	if ePath == "/" {
		return common.NullInode, root, nil
	}

	dirPath, base := splitDirBase(ePath)
	if base == "" || strings.ContainsRune(base, '/') {
		return 0, 0, common.ErrBadName
	}
	if len(base) > common.MaxNameLen {
		return 0, 0, common.ErrNameTooLong
	}

	var dirIno uint32
	if dirPath == "/" {
		dirIno = root
	} else {
		_, dirIno, err = resolve(c, sb, root, dirPath, uid, gid, hops)
		if err != nil {
			return 0, 0, err
		}
	}

	_, entryIno, err := LookupByName(c, sb, dirIno, base, uid, gid)
	if err != nil {
		return dirIno, 0, err
	}

	entIp, err := inode.Read(c, sb, entryIno)
	if err != nil {
		return dirIno, 0, err
	}
	if entIp.Mode.Type != common.TypeSymlink {
		return dirIno, entryIno, nil
	}

	if hops >= common.MaxSymlinkHops {
		return 0, 0, common.ErrLoop
	}
	target, err := readSymlinkTarget(c, sb, entryIno, entIp)
	if err != nil {
		return 0, 0, err
	}
	return normalize(c, sb, target, dirIno, uid, gid, hops+1)
}

// ResolvePath resolves an absolute path from the volume root, returning
// the parent directory's inode number and the resolved entry's inode
// number. A symlink whose target leads to another symlink fails with
// common.ErrLoop. The hop count is not shared between path components:
// a symlink in the dirname and another as the base name are each
// expanded once.
func ResolvePath(c *bcache.Cache, sb *common.Superblock, ePath string, uid, gid uint16) (parent, entry uint32, err error) {
	return resolve(c, sb, common.RootInode, ePath, uid, gid, 0)
}

// ResolveFrom resolves ePath -- absolute or a bare/"./"/"../" relative
// form, exactly as a symlink target would be -- anchored at cwd instead
// of the volume root, the entry point a process's current working
// directory needs.
func ResolveFrom(c *bcache.Cache, sb *common.Superblock, cwd uint32, ePath string, uid, gid uint16) (parent, entry uint32, err error) {
	if strings.HasPrefix(ePath, "/") {
		return resolve(c, sb, common.RootInode, ePath, uid, gid, 0)
	}
	return normalize(c, sb, ePath, cwd, uid, gid, 0)
}

// Add inserts name -> nInodeEnt into directory nInodeDir, reusing the
// first free slot or growing the directory by one cluster, per spec
// §4.8. For a directory entry it additionally seeds nInodeEnt's own
// "."/".." and bumps both refcounts; for any other type it bumps only
// the entry's refcount (a hard link).
func Add(c *bcache.Cache, sb *common.Superblock, nInodeDir uint32, name string, nInodeEnt uint32, uid, gid uint16) error {
	if err := validateName(name); err != nil {
		return err
	}
	dirIp, err := inode.Read(c, sb, nInodeDir)
	if err != nil {
		return err
	}
	if dirIp.Mode.Type != common.TypeDirectory {
		return common.ErrNotADir
	}
	if err := inode.AccessCheck(dirIp, uid, gid, common.X); err != nil {
		return fmt.Errorf("%w", common.ErrAccessDeniedPath)
	}
	if err := inode.AccessCheck(dirIp, uid, gid, common.W); err != nil {
		return err
	}

	// Read raw rather than through inode.Read: a freshly allocated entry
	// sits at Refcount 0 (ialloc.Allocate's no-name-yet baseline) and
	// would fail consist.InodeInUse before we get a chance to stamp its
	// first name below.
	entIp, err := ialloc.ReadInode(c, sb, nInodeEnt)
	if err != nil {
		return err
	}
	isDir := entIp.Mode.Type == common.TypeDirectory
	if isDir {
		if dirIp.Refcount == math.MaxUint16 {
			return fmt.Errorf("%w: parent directory", common.ErrTooManyLinks)
		}
	} else if entIp.Refcount == math.MaxUint16 {
		return fmt.Errorf("%w: entry", common.ErrTooManyLinks)
	}

	found, _, insertIdx, needsGrowth, err := scan(c, sb, nInodeDir, dirIp, name)
	if err != nil {
		return err
	}
	if found {
		return common.ErrAlreadyExists
	}

	// Write the payload first: the new entry goes into the directory's
	// cluster before either inode changes.
	if err := placeEntry(c, sb, nInodeDir, insertIdx, needsGrowth, name, nInodeEnt); err != nil {
		return err
	}

	// Then stamp the entry's post-link refcount and persist it, before
	// initDotEntries runs: its fmap.Handle call to allocate the new
	// directory's first cluster requires the inode already satisfy
	// consist.InodeInUse's minimum of 2, and placeEntry never touches
	// nInodeEnt itself so there's nothing else to race against.
	if isDir {
		// A directory is only ever named once (hard links to
		// directories are never allowed) -- self "." plus the name
		// just placed is always exactly 2.
		entIp.Refcount = 2
	} else {
		entIp.Refcount++
	}
	if err := ialloc.WriteInode(c, sb, nInodeEnt, entIp); err != nil {
		return err
	}

	if isDir {
		if err := initDotEntries(c, sb, nInodeEnt, nInodeDir); err != nil {
			return err
		}
	}

	// Re-read: placeEntry's growth path mutates nInodeDir's size on
	// disk behind our backs.
	dirIp, err = inode.Read(c, sb, nInodeDir)
	if err != nil {
		return err
	}
	if isDir {
		// The new subdirectory's ".." is a reference to the parent.
		dirIp.Refcount++
	}
	return inode.Write(c, sb, nInodeDir, dirIp)
}

// Remove unlinks name from directory nInodeDir, per spec §4.8. A
// directory entry must be empty first. When the entry's refcount
// reaches zero, its clusters are bulk-freed and the inode itself is
// freed, becoming free-dirty until C4/C5 clean it lazily on reuse.
func Remove(c *bcache.Cache, sb *common.Superblock, nInodeDir uint32, name string, uid, gid uint16) error {
	dirIp, err := inode.Read(c, sb, nInodeDir)
	if err != nil {
		return err
	}
	if dirIp.Mode.Type != common.TypeDirectory {
		return common.ErrNotADir
	}
	if err := inode.AccessCheck(dirIp, uid, gid, common.X); err != nil {
		return fmt.Errorf("%w", common.ErrAccessDeniedPath)
	}
	if err := inode.AccessCheck(dirIp, uid, gid, common.W); err != nil {
		return err
	}

	found, entryIno, idx, _, err := scan(c, sb, nInodeDir, dirIp, name)
	if err != nil {
		return err
	}
	if !found {
		return common.ErrNotFound
	}

	entIp, err := inode.Read(c, sb, entryIno)
	if err != nil {
		return err
	}
	if entIp.Mode.Type == common.TypeDirectory {
		if err := Emptiness(c, sb, entryIno); err != nil {
			return err
		}
	}

	if err := clearSlot(c, sb, nInodeDir, idx); err != nil {
		return err
	}

	dec := uint16(1)
	if entIp.Mode.Type == common.TypeDirectory {
		dec = 2
		dirIp.Refcount--
	}
	remaining := entIp.Refcount - dec

	if remaining > 0 {
		entIp.Refcount = remaining
		if err := inode.Write(c, sb, entryIno, entIp); err != nil {
			return err
		}
	} else {
		// The on-disk inode is still in use (refcount untouched) so
		// fmap's own consistency check still passes while it walks
		// and frees every cluster the inode owns.
		if err := fmap.HandleRange(c, sb, entryIno, 0, fmap.OpFreeClean); err != nil {
			return err
		}
		freed, err := inode.Read(c, sb, entryIno)
		if err != nil {
			return err
		}
		if err := ialloc.Free(c, sb, entryIno, freed); err != nil {
			return err
		}
	}

	return inode.Write(c, sb, nInodeDir, dirIp)
}

// Rename rewrites the name field of oldName's entry to newName without
// touching its nInode, per spec §4.8 -- hard-link refcounts are
// unaffected.
func Rename(c *bcache.Cache, sb *common.Superblock, nInodeDir uint32, oldName, newName string, uid, gid uint16) error {
	if err := validateName(newName); err != nil {
		return err
	}
	dirIp, err := inode.Read(c, sb, nInodeDir)
	if err != nil {
		return err
	}
	if dirIp.Mode.Type != common.TypeDirectory {
		return common.ErrNotADir
	}
	if err := inode.AccessCheck(dirIp, uid, gid, common.X|common.W); err != nil {
		return err
	}

	found, _, idx, _, err := scan(c, sb, nInodeDir, dirIp, oldName)
	if err != nil {
		return err
	}
	if !found {
		return common.ErrNotFound
	}

	collide, _, _, _, err := scan(c, sb, nInodeDir, dirIp, newName)
	if err != nil {
		return err
	}
	if collide {
		return common.ErrAlreadyExists
	}

	clusterIdx := idx / common.DPC
	logical, err := fmap.Handle(c, sb, nInodeDir, clusterIdx, fmap.OpGet)
	if err != nil {
		return err
	}
	buf, err := readDirCluster(c, sb, logical)
	if err != nil {
		return err
	}
	e := dirEntryAt(buf, idx%common.DPC)
	e.SetName(newName)
	putDirEntryAt(buf, idx%common.DPC, e)
	return writeDirCluster(c, sb, logical, buf)
}

// Emptiness requires slots 0 and 1 to be "."/".." and every remaining
// populated slot to be vacated (name[0] == 0), per spec §4.8.
func Emptiness(c *bcache.Cache, sb *common.Superblock, nInodeDir uint32) error {
	ip, err := inode.Read(c, sb, nInodeDir)
	if err != nil {
		return err
	}
	if ip.Mode.Type != common.TypeDirectory {
		return common.ErrNotADir
	}
	total := totalSlots(ip)
	if total == 0 {
		return nil
	}

	var buf *common.ClusterBuf
	curCluster := noIndex
	for i := uint32(0); i < total; i++ {
		clusterIdx := i / common.DPC
		if clusterIdx != curCluster {
			logical, err := fmap.Handle(c, sb, nInodeDir, clusterIdx, fmap.OpGet)
			if err != nil {
				return err
			}
			if logical == common.NullCluster {
				return fmt.Errorf("%w: directory cluster %d unallocated within size", common.ErrInconsistentDirectory, clusterIdx)
			}
			buf, err = readDirCluster(c, sb, logical)
			if err != nil {
				return err
			}
			curCluster = clusterIdx
		}
		e := dirEntryAt(buf, i%common.DPC)
		switch i {
		case 0:
			if e.NameString() != "." {
				return fmt.Errorf("%w: slot 0 is not '.'", common.ErrInconsistentDirectory)
			}
		case 1:
			if e.NameString() != ".." {
				return fmt.Errorf("%w: slot 1 is not '..'", common.ErrInconsistentDirectory)
			}
		default:
			if e.Name[0] != 0 {
				return common.ErrNotEmpty
			}
		}
	}
	return nil
}

// Attach installs the base->sub edge (a new directory entry in
// nInodeDirBase named eName, pointing at the already-built directory
// nInodeDirSub) and rewrites sub's ".." to point at base, bumping both
// refcounts. Used by the moving-directory variant of cross-directory
// rename; unlike Add it never touches sub's own "."/".." beyond the
// ".." rewrite, since sub already has them.
func Attach(c *bcache.Cache, sb *common.Superblock, nInodeDirBase uint32, eName string, nInodeDirSub uint32, uid, gid uint16) error {
	if err := validateName(eName); err != nil {
		return err
	}
	baseIp, err := inode.Read(c, sb, nInodeDirBase)
	if err != nil {
		return err
	}
	if baseIp.Mode.Type != common.TypeDirectory {
		return common.ErrNotADir
	}
	if err := inode.AccessCheck(baseIp, uid, gid, common.X); err != nil {
		return fmt.Errorf("%w", common.ErrAccessDeniedPath)
	}
	if err := inode.AccessCheck(baseIp, uid, gid, common.W); err != nil {
		return err
	}
	subIp, err := inode.Read(c, sb, nInodeDirSub)
	if err != nil {
		return err
	}
	if subIp.Mode.Type != common.TypeDirectory {
		return common.ErrNotADir
	}
	if baseIp.Refcount == math.MaxUint16 || subIp.Refcount == math.MaxUint16 {
		return common.ErrTooManyLinks
	}

	found, _, insertIdx, needsGrowth, err := scan(c, sb, nInodeDirBase, baseIp, eName)
	if err != nil {
		return err
	}
	if found {
		return common.ErrAlreadyExists
	}

	if err := placeEntry(c, sb, nInodeDirBase, insertIdx, needsGrowth, eName, nInodeDirSub); err != nil {
		return err
	}
	if err := rewriteDotDot(c, sb, nInodeDirSub, nInodeDirBase); err != nil {
		return err
	}

	baseIp, err = inode.Read(c, sb, nInodeDirBase)
	if err != nil {
		return err
	}
	subIp, err = inode.Read(c, sb, nInodeDirSub)
	if err != nil {
		return err
	}
	baseIp.Refcount++
	subIp.Refcount++
	if err := inode.Write(c, sb, nInodeDirSub, subIp); err != nil {
		return err
	}
	return inode.Write(c, sb, nInodeDirBase, baseIp)
}

// Detach removes the base->sub edge eName installs, decrementing both
// refcounts. It never touches sub's ".." -- by the time a
// cross-directory directory move calls Detach, a prior Attach has
// already repointed it at the new base.
func Detach(c *bcache.Cache, sb *common.Superblock, nInodeDirBase uint32, eName string, uid, gid uint16) error {
	baseIp, err := inode.Read(c, sb, nInodeDirBase)
	if err != nil {
		return err
	}
	if baseIp.Mode.Type != common.TypeDirectory {
		return common.ErrNotADir
	}
	if err := inode.AccessCheck(baseIp, uid, gid, common.X); err != nil {
		return fmt.Errorf("%w", common.ErrAccessDeniedPath)
	}
	if err := inode.AccessCheck(baseIp, uid, gid, common.W); err != nil {
		return err
	}

	found, nInodeDirSub, idx, _, err := scan(c, sb, nInodeDirBase, baseIp, eName)
	if err != nil {
		return err
	}
	if !found {
		return common.ErrNotFound
	}

	if err := clearSlot(c, sb, nInodeDirBase, idx); err != nil {
		return err
	}

	subIp, err := inode.Read(c, sb, nInodeDirSub)
	if err != nil {
		return err
	}
	baseIp, err = inode.Read(c, sb, nInodeDirBase)
	if err != nil {
		return err
	}
	subIp.Refcount--
	baseIp.Refcount--
	if err := inode.Write(c, sb, nInodeDirSub, subIp); err != nil {
		return err
	}
	return inode.Write(c, sb, nInodeDirBase, baseIp)
}

// throwawayName derives a collision-proof placeholder for the
// destination-exists branch of Move.
func throwawayName(nInode uint32) string {
	return fmt.Sprintf(".sofs11-mv-%08x", nInode)
}

// Move implements spec §4.8's cross-directory rename composite: if the
// destination exists it is renamed out of the way first; if the source
// is a directory moving to a different parent, Attach/Detach reparent
// it, otherwise a plain Add/Remove re-links it; every step that can
// fail is rolled back, in reverse order, before the error is returned.
func Move(c *bcache.Cache, sb *common.Superblock, srcDir uint32, srcName string, dstDir uint32, dstName string, uid, gid uint16) error {
	_, srcEnt, err := LookupByName(c, sb, srcDir, srcName, uid, gid)
	if err != nil {
		return err
	}

	var throwaway string
	_, dstEnt, lookupErr := LookupByName(c, sb, dstDir, dstName, uid, gid)
	switch {
	case lookupErr == nil:
		throwaway = throwawayName(dstEnt)
		if err := Rename(c, sb, dstDir, dstName, throwaway, uid, gid); err != nil {
			return err
		}
	case lookupErr != common.ErrNotFound:
		return lookupErr
	}

	srcIp, err := inode.Read(c, sb, srcEnt)
	if err != nil {
		undoThrowaway(c, sb, dstDir, dstName, throwaway, uid, gid)
		return err
	}

	if srcDir != dstDir && srcIp.Mode.Type == common.TypeDirectory {
		if err := Attach(c, sb, dstDir, dstName, srcEnt, uid, gid); err != nil {
			undoThrowaway(c, sb, dstDir, dstName, throwaway, uid, gid)
			return err
		}
		if err := Detach(c, sb, srcDir, srcName, uid, gid); err != nil {
			if undoErr := Detach(c, sb, dstDir, dstName, uid, gid); undoErr != nil {
				log.WithError(undoErr).Warn("rollback of attach failed during move")
			}
			undoThrowaway(c, sb, dstDir, dstName, throwaway, uid, gid)
			return err
		}
	} else {
		if err := Add(c, sb, dstDir, dstName, srcEnt, uid, gid); err != nil {
			undoThrowaway(c, sb, dstDir, dstName, throwaway, uid, gid)
			return err
		}
		if err := Remove(c, sb, srcDir, srcName, uid, gid); err != nil {
			if undoErr := Remove(c, sb, dstDir, dstName, uid, gid); undoErr != nil {
				log.WithError(undoErr).Warn("rollback of add failed during move")
			}
			undoThrowaway(c, sb, dstDir, dstName, throwaway, uid, gid)
			return err
		}
	}

	if throwaway != "" {
		if err := Remove(c, sb, dstDir, throwaway, uid, gid); err != nil {
			log.WithError(err).Warn("failed to remove throwaway entry after move")
		}
	}
	return nil
}

func undoThrowaway(c *bcache.Cache, sb *common.Superblock, dstDir uint32, dstName, throwaway string, uid, gid uint16) {
	if throwaway == "" {
		return
	}
	if err := Rename(c, sb, dstDir, throwaway, dstName, uid, gid); err != nil {
		log.WithError(err).Warn("rollback of destination throwaway-rename failed during move")
	}
}

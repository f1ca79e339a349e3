// Grounded on fs/mount_test.go's OpenMinixImage-plus-assertions shape,
// rebuilt around mkfs.Format (there is no static test fixture image for
// a from-scratch on-disk format) and testify's require in place
// of the teacher's FatalHere helper.
package fs_test

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/fs"
	"github.com/mlaz/OperatingSystemsFS/mkfs"
)

func formatTemp(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "volume.img")
	_, err := mkfs.Format(path, 512, mkfs.Options{VolumeName: "test", InodeCount: 64})
	require.NoError(t, err)
	return path
}

func TestMountUnmountEmptyVolume(t *testing.T) {
	path := formatTemp(t)

	volume, err := fs.Mount(path)
	require.NoError(t, err)
	proc := volume.RootProcess(0, 0)

	entries, err := proc.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 2) // "." and ".."

	require.NoError(t, volume.Unmount())
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	path := formatTemp(t)
	volume, err := fs.Mount(path)
	require.NoError(t, err)
	defer volume.Unmount()

	proc := volume.RootProcess(0, 0)

	fd, err := proc.Open("/hello.txt", fs.OCreat|fs.ORdWr, 0o644)
	require.NoError(t, err)

	n, err := proc.Write(fd, []byte("hello, sofs11"))
	require.NoError(t, err)
	require.Equal(t, len("hello, sofs11"), n)
	require.NoError(t, proc.Close(fd))

	fd, err = proc.Open("/hello.txt", fs.ORdOnly, 0)
	require.NoError(t, err)
	buf, err := io.ReadAll(readerFor(proc, fd))
	require.NoError(t, err)
	require.Equal(t, "hello, sofs11", string(buf))
	require.NoError(t, proc.Close(fd))

	st, err := proc.Stat("/hello.txt")
	require.NoError(t, err)
	require.EqualValues(t, len("hello, sofs11"), st.Size)
}

func TestMkdirRmdirChdir(t *testing.T) {
	path := formatTemp(t)
	volume, err := fs.Mount(path)
	require.NoError(t, err)
	defer volume.Unmount()

	proc := volume.RootProcess(0, 0)

	require.NoError(t, proc.Mkdir("/sub", 0o755))
	require.NoError(t, proc.Chdir("/sub"))

	entries, err := proc.ReadDir(".")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NoError(t, proc.Chdir(".."))
	require.NoError(t, proc.Rmdir("/sub"))

	_, err = proc.Stat("/sub")
	require.Error(t, err)
}

func TestLinkUnlinkRefcount(t *testing.T) {
	path := formatTemp(t)
	volume, err := fs.Mount(path)
	require.NoError(t, err)
	defer volume.Unmount()

	proc := volume.RootProcess(0, 0)

	fd, err := proc.Open("/a", fs.OCreat|fs.OWrOnly, 0o644)
	require.NoError(t, err)
	require.NoError(t, proc.Close(fd))

	require.NoError(t, proc.Link("/a", "/b"))
	st, err := proc.Stat("/a")
	require.NoError(t, err)
	require.EqualValues(t, 2, st.Refcount)

	require.NoError(t, proc.Unlink("/a"))
	st, err = proc.Stat("/b")
	require.NoError(t, err)
	require.EqualValues(t, 1, st.Refcount)
}

func TestSymlinkReadlink(t *testing.T) {
	path := formatTemp(t)
	volume, err := fs.Mount(path)
	require.NoError(t, err)
	defer volume.Unmount()

	proc := volume.RootProcess(0, 0)

	fd, err := proc.Open("/target", fs.OCreat|fs.OWrOnly, 0o644)
	require.NoError(t, err)
	require.NoError(t, proc.Close(fd))

	require.NoError(t, proc.Symlink("/target", "/link"))
	got, err := proc.Readlink("/link")
	require.NoError(t, err)
	require.Equal(t, "/target", got)

	st, err := proc.Stat("/link")
	require.NoError(t, err)
	require.Equal(t, common.TypeSymlink, st.Type)
}

func TestRenameAcrossDirectories(t *testing.T) {
	path := formatTemp(t)
	volume, err := fs.Mount(path)
	require.NoError(t, err)
	defer volume.Unmount()

	proc := volume.RootProcess(0, 0)
	require.NoError(t, proc.Mkdir("/dst", 0o755))

	fd, err := proc.Open("/src.txt", fs.OCreat|fs.OWrOnly, 0o644)
	require.NoError(t, err)
	require.NoError(t, proc.Close(fd))

	require.NoError(t, proc.Rename("/src.txt", "/dst/moved.txt"))

	_, err = proc.Stat("/src.txt")
	require.Error(t, err)
	_, err = proc.Stat("/dst/moved.txt")
	require.NoError(t, err)
}

// readerFor adapts Process.Read to io.Reader for io.ReadAll.
type procReader struct {
	proc *fs.Process
	fd   int
}

func (r procReader) Read(p []byte) (int, error) { return r.proc.Read(r.fd, p) }

func readerFor(proc *fs.Process, fd int) io.Reader { return procReader{proc: proc, fd: fd} }

package fdtable

import (
	"testing"

	"github.com/galileo-os/corevm/defs"
	"github.com/galileo-os/corevm/fsiface"
	"github.com/galileo-os/corevm/memfs"
	"github.com/galileo-os/corevm/ustr"
	"github.com/stretchr/testify/require"
)

func openFile(t *testing.T, fs *memfs.FS, name string, data []byte) fsiface.File {
	fs.Seed(name, data)
	f, err := fs.Open(ustr.MkUstrSlice([]byte(name)))
	require.Zero(t, err)
	return f
}

func TestInsertStartsAtFirstUserFd(t *testing.T) {
	tab := New()
	fs := memfs.New()
	f := openFile(t, fs, "a", []byte("hello"))

	fd := tab.Insert(f)
	require.Equal(t, firstUserFd, fd)

	got, ok := tab.Lookup(fd)
	require.True(t, ok)
	require.Equal(t, f, got)

	fd2 := tab.Insert(f)
	require.Equal(t, firstUserFd+1, fd2)
}

func TestLookupMissingFd(t *testing.T) {
	tab := New()
	_, ok := tab.Lookup(99)
	require.False(t, ok)
}

func TestCloseRemovesAndClosesFile(t *testing.T) {
	tab := New()
	fs := memfs.New()
	f := openFile(t, fs, "a", []byte("hello"))
	fd := tab.Insert(f)

	err := tab.Close(fd)
	require.Zero(t, err)

	_, ok := tab.Lookup(fd)
	require.False(t, ok)

	require.Equal(t, -defs.EBADF, tab.Close(fd))
}

func TestSeekTellAdvance(t *testing.T) {
	tab := New()
	fs := memfs.New()
	f := openFile(t, fs, "a", []byte("hello world"))
	fd := tab.Insert(f)

	pos, ok := tab.Tell(fd)
	require.True(t, ok)
	require.Zero(t, pos)

	tab.Advance(fd, 5)
	pos, ok = tab.Tell(fd)
	require.True(t, ok)
	require.Equal(t, 5, pos)

	require.True(t, tab.Seek(fd, 2))
	pos, ok = tab.Tell(fd)
	require.True(t, ok)
	require.Equal(t, 2, pos)

	require.False(t, tab.Seek(99, 0))
	_, ok = tab.Tell(99)
	require.False(t, ok)
}

func TestCloseAllClosesEverything(t *testing.T) {
	tab := New()
	fs := memfs.New()
	f1 := openFile(t, fs, "a", []byte("x"))
	f2 := openFile(t, fs, "b", []byte("y"))
	tab.Insert(f1)
	tab.Insert(f2)

	tab.CloseAll()

	_, ok := tab.Lookup(firstUserFd)
	require.False(t, ok)
	_, ok = tab.Lookup(firstUserFd + 1)
	require.False(t, ok)
}

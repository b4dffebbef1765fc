package syscall

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/galileo-os/corevm/console"
	"github.com/galileo-os/corevm/defs"
	"github.com/galileo-os/corevm/kernel"
	"github.com/galileo-os/corevm/memfs"
	"github.com/galileo-os/corevm/proc"
	"github.com/galileo-os/corevm/spt"
	"github.com/stretchr/testify/require"
)

type memDev struct{ sectors [][]byte }

func newMemDev(n int) *memDev {
	d := &memDev{sectors: make([][]byte, n)}
	for i := range d.sectors {
		d.sectors[i] = make([]byte, defs.SECTOR_SIZE)
	}
	return d
}
func (d *memDev) ReadSector(s int, dst []byte) error  { copy(dst, d.sectors[s]); return nil }
func (d *memDev) WriteSector(s int, src []byte) error { copy(d.sectors[s], src); return nil }

func putWord(buf []byte, off int, v int) {
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(int32(v)))
}

func putCString(buf []byte, off int, s string) {
	copy(buf[off:], s)
	buf[off+len(s)] = 0
}

// fixture builds a context, a process, and a single eagerly-resident user
// stack page at esp so syscall argument reads never need to fault.
type fixture struct {
	ctx *kernel.Context
	p   *proc.Proc
	buf []byte
	esp int
	out *bytes.Buffer
	in  *strings.Reader
}

func newFixture(consoleInput string) *fixture {
	fs := memfs.New()
	var out bytes.Buffer
	in := strings.NewReader(consoleInput)
	con := console.New(&out, in)
	ctx := kernel.New(8, newMemDev(2*defs.SectorsPerPage), 2, fs, con)

	p := proc.New(1, "test", nil)
	page := p.SPT.Create(p, defs.STACK_INIT, true, spt.STACK)
	frame, buf, ok := ctx.Frames.Get(p, ctx.Clock.Evict)
	if !ok {
		panic("fixture: out of frames")
	}
	page.Frame = frame
	ctx.Clock.Add(page)
	p.ESP = defs.STACK_INIT + defs.PAGE_SIZE

	return &fixture{ctx: ctx, p: p, buf: buf, esp: defs.STACK_INIT, out: &out, in: in}
}

func TestDispatchHalt(t *testing.T) {
	f := newFixture("")
	putWord(f.buf, 0, HALT)

	_, killed := Dispatch(f.ctx, f.p, f.esp)
	require.NotNil(t, killed)
	require.Equal(t, 0, killed.Status)
}

func TestDispatchExit(t *testing.T) {
	f := newFixture("")
	putWord(f.buf, 0, EXIT)
	putWord(f.buf, 4, 42)

	_, killed := Dispatch(f.ctx, f.p, f.esp)
	require.NotNil(t, killed)
	require.Equal(t, 42, killed.Status)
}

func TestDispatchUnknownCallKills(t *testing.T) {
	f := newFixture("")
	putWord(f.buf, 0, 999)

	_, killed := Dispatch(f.ctx, f.p, f.esp)
	require.NotNil(t, killed)
	require.Equal(t, -1, killed.Status)
}

func TestDispatchWriteToConsole(t *testing.T) {
	f := newFixture("")
	putCString(f.buf, 200, "hello")
	putWord(f.buf, 0, WRITE)
	putWord(f.buf, 4, 1) // fd
	putWord(f.buf, 8, f.esp+200)
	putWord(f.buf, 12, 5)

	n, killed := Dispatch(f.ctx, f.p, f.esp)
	require.Nil(t, killed)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", f.out.String())
}

func TestDispatchReadFromConsole(t *testing.T) {
	f := newFixture("hi")
	putWord(f.buf, 0, READ)
	putWord(f.buf, 4, 0) // fd
	putWord(f.buf, 8, f.esp+300)
	putWord(f.buf, 12, 2)

	n, killed := Dispatch(f.ctx, f.p, f.esp)
	require.Nil(t, killed)
	require.Equal(t, 2, n)
	require.Equal(t, []byte("hi"), f.buf[300:302])
}

func TestDispatchCreateOpenFilesizeClose(t *testing.T) {
	f := newFixture("")
	putCString(f.buf, 500, "newfile")

	putWord(f.buf, 0, CREATE)
	putWord(f.buf, 4, f.esp+500)
	putWord(f.buf, 8, 10)
	ok, killed := Dispatch(f.ctx, f.p, f.esp)
	require.Nil(t, killed)
	require.Equal(t, 1, ok)

	putWord(f.buf, 0, OPEN)
	putWord(f.buf, 4, f.esp+500)
	fd, killed := Dispatch(f.ctx, f.p, f.esp)
	require.Nil(t, killed)
	require.GreaterOrEqual(t, fd, 2)

	putWord(f.buf, 0, FILESIZE)
	putWord(f.buf, 4, fd)
	size, killed := Dispatch(f.ctx, f.p, f.esp)
	require.Nil(t, killed)
	require.Equal(t, 10, size)

	putWord(f.buf, 0, CLOSE)
	putWord(f.buf, 4, fd)
	_, killed = Dispatch(f.ctx, f.p, f.esp)
	require.Nil(t, killed)

	putWord(f.buf, 0, FILESIZE)
	putWord(f.buf, 4, fd)
	missing, killed := Dispatch(f.ctx, f.p, f.esp)
	require.Nil(t, killed)
	require.Equal(t, -1, missing, "fd was closed, no longer in the table")
}

func TestDispatchRemoveMissingFileReturnsZero(t *testing.T) {
	f := newFixture("")
	putCString(f.buf, 500, "nope")
	putWord(f.buf, 0, REMOVE)
	putWord(f.buf, 4, f.esp+500)

	ok, killed := Dispatch(f.ctx, f.p, f.esp)
	require.Nil(t, killed)
	require.Equal(t, 0, ok, "memfs.Remove on a missing name returns ENOENT")
}

func TestDispatchReadWriteAdvanceCursorAndSeekTell(t *testing.T) {
	f := newFixture("")
	putCString(f.buf, 500, "cursor")

	putWord(f.buf, 0, CREATE)
	putWord(f.buf, 4, f.esp+500)
	putWord(f.buf, 8, 10)
	_, killed := Dispatch(f.ctx, f.p, f.esp)
	require.Nil(t, killed)

	putWord(f.buf, 0, OPEN)
	putWord(f.buf, 4, f.esp+500)
	fd, killed := Dispatch(f.ctx, f.p, f.esp)
	require.Nil(t, killed)

	putWord(f.buf, 0, TELL)
	putWord(f.buf, 4, fd)
	pos, killed := Dispatch(f.ctx, f.p, f.esp)
	require.Nil(t, killed)
	require.Equal(t, 0, pos, "cursor starts at 0 on open")

	putCString(f.buf, 600, "hello")
	putWord(f.buf, 0, WRITE)
	putWord(f.buf, 4, fd)
	putWord(f.buf, 8, f.esp+600)
	putWord(f.buf, 12, 5)
	n, killed := Dispatch(f.ctx, f.p, f.esp)
	require.Nil(t, killed)
	require.Equal(t, 5, n)

	putWord(f.buf, 0, TELL)
	putWord(f.buf, 4, fd)
	pos, killed = Dispatch(f.ctx, f.p, f.esp)
	require.Nil(t, killed)
	require.Equal(t, 5, pos, "write must advance the cursor")

	putWord(f.buf, 0, SEEK)
	putWord(f.buf, 4, fd)
	putWord(f.buf, 8, 0)
	_, killed = Dispatch(f.ctx, f.p, f.esp)
	require.Nil(t, killed)

	putWord(f.buf, 0, READ)
	putWord(f.buf, 4, fd)
	putWord(f.buf, 8, f.esp+700)
	putWord(f.buf, 12, 5)
	n, killed = Dispatch(f.ctx, f.p, f.esp)
	require.Nil(t, killed)
	require.Equal(t, 5, n)
	require.Equal(t, []byte("hello"), f.buf[700:705], "seek back to 0 then read must see the write")

	putWord(f.buf, 0, TELL)
	putWord(f.buf, 4, fd)
	pos, killed = Dispatch(f.ctx, f.p, f.esp)
	require.Nil(t, killed)
	require.Equal(t, 5, pos, "read must also advance the cursor")

	putWord(f.buf, 0, TELL)
	putWord(f.buf, 4, 999)
	missing, killed := Dispatch(f.ctx, f.p, f.esp)
	require.Nil(t, killed)
	require.Equal(t, -1, missing, "tell on an unopened fd fails")
}

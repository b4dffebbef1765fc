package kernel

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/galileo-os/corevm/console"
	"github.com/galileo-os/corevm/defs"
	"github.com/galileo-os/corevm/memfs"
	"github.com/galileo-os/corevm/proc"
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

// buildExecImage hand-builds a minimal one-PT_LOAD-segment image matching
// the byte contract loader.go parses: a 52-byte ehdr, one 32-byte phdr
// placed right after it, a single page-aligned code segment at user
// address PAGE_SIZE with a handful of real bytes followed by zero-fill.
func buildExecImage() []byte {
	const ehdrSize = 52
	const phdrSize = 32
	const segVaddr = defs.PAGE_SIZE
	const segOffset = defs.PAGE_SIZE
	const codeLen = 16

	buf := make([]byte, segOffset+codeLen)

	copy(buf[0:7], []byte{0x7F, 'E', 'L', 'F', 0x01, 0x01, 0x01})
	binary.LittleEndian.PutUint16(buf[16:18], 2)           // e_type
	binary.LittleEndian.PutUint16(buf[18:20], 3)           // e_machine
	binary.LittleEndian.PutUint32(buf[20:24], 1)           // e_version
	binary.LittleEndian.PutUint32(buf[24:28], segVaddr)    // e_entry
	binary.LittleEndian.PutUint32(buf[28:32], ehdrSize)    // e_phoff
	binary.LittleEndian.PutUint16(buf[42:44], phdrSize)    // e_phentsize
	binary.LittleEndian.PutUint16(buf[44:46], 1)           // e_phnum

	p := ehdrSize
	binary.LittleEndian.PutUint32(buf[p+0:p+4], 1)            // p_type = PT_LOAD
	binary.LittleEndian.PutUint32(buf[p+4:p+8], segOffset)    // p_offset
	binary.LittleEndian.PutUint32(buf[p+8:p+12], segVaddr)    // p_vaddr
	binary.LittleEndian.PutUint32(buf[p+16:p+20], codeLen)    // p_filesz
	binary.LittleEndian.PutUint32(buf[p+20:p+24], defs.PAGE_SIZE) // p_memsz
	binary.LittleEndian.PutUint32(buf[p+24:p+28], 5)          // p_flags = R|X

	for i := 0; i < codeLen; i++ {
		buf[segOffset+i] = 0x90 // NOP filler
	}
	return buf
}

func newTestContext() *Context {
	fs := memfs.New()
	fs.Seed("prog", buildExecImage())
	var out bytes.Buffer
	con := console.New(&out, strings.NewReader(""))
	return New(8, newMemDev(2*defs.SectorsPerPage), 2, fs, con)
}

func TestExecWaitExit(t *testing.T) {
	ctx := newTestContext()
	root := proc.New(0, "root", nil)

	pid := ctx.Exec(root, "prog argone")
	require.Greater(t, pid, 0)

	child, ok := ctx.Procs.Get(pid)
	require.True(t, ok)
	require.Equal(t, proc.RUNNING, child.State())
	require.NotNil(t, child.Executable)
	require.NotZero(t, child.ESP)

	ctx.Exit(child, 7)
	require.Equal(t, proc.DYING, child.State())

	status := ctx.Wait(root, pid)
	require.Equal(t, 7, status)

	_, ok = ctx.Procs.Get(pid)
	require.False(t, ok, "wait removes the process record once reaped")
}

func TestExecUnknownProgramFails(t *testing.T) {
	ctx := newTestContext()
	root := proc.New(0, "root", nil)

	pid := ctx.Exec(root, "nosuchprogram")
	require.Equal(t, -1, pid)
}

func TestExecEmptyCmdlineFails(t *testing.T) {
	ctx := newTestContext()
	root := proc.New(0, "root", nil)

	pid := ctx.Exec(root, "   ")
	require.Equal(t, -1, pid)
}

func TestWaitOnNonChildFails(t *testing.T) {
	ctx := newTestContext()
	root := proc.New(0, "root", nil)
	other := proc.New(99, "other", nil)

	pid := ctx.Exec(root, "prog")
	require.Greater(t, pid, 0)

	status := ctx.Wait(other, pid)
	require.Equal(t, -1, status)
}

// Package syscall is the system-call dispatcher: it reads
// the call number and word-indexed arguments off the user stack, performs
// full validation of every argument before any side effect, and routes to
// one of the thirteen per-call handlers.
//
// Grounded on original_source/userprog/syscall.c's syscall_handler dispatch
// table and biscuit's vm/userbuf.go argument-validation idiom (Userreadn/
// Userstr/User2k), adapted to read directly through kernel.Context's frame
// pool rather than a hardware page table — every user memory access here
// goes through the same page-fault path real hardware would take, so a
// syscall reading an unresident argument demand-pages it exactly like a
// direct user access would.
package syscall

import (
	"github.com/galileo-os/corevm/defs"
	"github.com/galileo-os/corevm/fsiface"
	"github.com/galileo-os/corevm/kernel"
	"github.com/galileo-os/corevm/proc"
	"github.com/galileo-os/corevm/spt"
	"github.com/galileo-os/corevm/ustr"
)

// Call numbers, the standard small set.
const (
	HALT = iota
	EXIT
	EXEC
	WAIT
	CREATE
	REMOVE
	OPEN
	FILESIZE
	READ
	WRITE
	SEEK
	TELL
	CLOSE
)

/// Killed is returned by Dispatch when argument validation or the handler
/// itself determines the process must be terminated: the -1 fallthrough
/// for bad arguments and for an unknown call number.
type Killed struct{ Status int }

func (k *Killed) Error() string { return "process terminated" }

// access resolves the page containing addr for p, paging it in through
// ctx.Fault exactly as a direct hardware access would, and returns the
// frame byte slice plus the in-page offset of addr.
func access(ctx *kernel.Context, p *proc.Proc, addr int, write bool) ([]byte, int, defs.Err_t) {
	upage := spt.AlignDown(addr)
	page := p.SPT.Find(upage)
	if page == nil || !page.Resident() {
		ferr := ctx.Fault.Resolve(p.SPT, p, addr, p.ESP, write, p.Executable, func(fn func()) { ctx.FSLock.With(p, fn) })
		ctx.Stats.IncPageFaults()
		p.Accnt.Fault()
		if ferr != 0 {
			return nil, 0, ferr
		}
		page = p.SPT.Find(upage)
		if page == nil || !page.Resident() {
			return nil, 0, -defs.EFAULT
		}
	}
	if write && !page.Writable {
		return nil, 0, -defs.EFAULT
	}
	return ctx.Frames.Bytes(page.Frame), addr - upage, 0
}

// readInt validates and reads a 4-byte word at addr: the 4 bytes at
// esp+k and esp+k+3 must both lie in a page present.
func readInt(ctx *kernel.Context, p *proc.Proc, addr int) (int, defs.Err_t) {
	buf, off, err := access(ctx, p, addr, false)
	if err != 0 {
		return 0, err
	}
	if off+4 > defs.PAGE_SIZE {
		// crosses a page boundary; validate the second page too
		hi, _, err := access(ctx, p, addr+3, false)
		if err != 0 {
			return 0, err
		}
		var v int32
		rest := defs.PAGE_SIZE - off
		tmp := make([]byte, 4)
		copy(tmp, buf[off:])
		copy(tmp[rest:], hi[:4-rest])
		v = int32(tmp[0]) | int32(tmp[1])<<8 | int32(tmp[2])<<16 | int32(tmp[3])<<24
		return int(v), 0
	}
	v := int32(buf[off]) | int32(buf[off+1])<<8 | int32(buf[off+2])<<16 | int32(buf[off+3])<<24
	return int(v), 0
}

// readStr validates and copies a NUL-terminated string starting at addr,
// walking it byte by byte.
func readStr(ctx *kernel.Context, p *proc.Proc, addr int, max int) (string, defs.Err_t) {
	var s ustr.Ustr
	for i := 0; i < max; i++ {
		buf, off, err := access(ctx, p, addr+i, false)
		if err != 0 {
			return "", err
		}
		c := buf[off]
		if c == 0 {
			return s.String(), 0
		}
		s = append(s, c)
	}
	return "", -defs.EINVAL
}

// writeBuf validates that [addr, addr+n) refers to writable pages, then
// copies src into user memory: the write target buffer must refer to a
// writable page.
func writeBuf(ctx *kernel.Context, p *proc.Proc, addr int, src []byte) defs.Err_t {
	for i := 0; i < len(src); {
		buf, off, err := access(ctx, p, addr+i, true)
		if err != 0 {
			return err
		}
		n := copy(buf[off:], src[i:])
		i += n
	}
	return 0
}

// readBuf copies n bytes of user memory at addr into a fresh buffer,
// validating each page along the way as a pointer argument.
func readBuf(ctx *kernel.Context, p *proc.Proc, addr, n int) ([]byte, defs.Err_t) {
	out := make([]byte, n)
	for i := 0; i < n; {
		buf, off, err := access(ctx, p, addr+i, false)
		if err != 0 {
			return nil, err
		}
		c := copy(out[i:], buf[off:])
		i += c
	}
	return out, 0
}

/// Dispatch reads the call number at esp and its arguments at esp+4,
/// esp+8, ... (word-indexed ABI), runs the corresponding
/// handler, and returns the value to place in the user return register.
/// A non-nil *Killed means the process must be terminated with the given
/// status instead of resuming.
func Dispatch(ctx *kernel.Context, p *proc.Proc, esp int) (int, *Killed) {
	ctx.Stats.IncSyscallsServed()
	num, err := readInt(ctx, p, esp)
	if err != 0 {
		return 0, &Killed{Status: -1}
	}
	arg := func(k int) (int, defs.Err_t) { return readInt(ctx, p, esp+4*k) }

	switch num {
	case HALT:
		return 0, &Killed{Status: 0}

	case EXIT:
		status, err := arg(1)
		if err != 0 {
			return 0, &Killed{Status: -1}
		}
		return 0, &Killed{Status: status}

	case EXEC:
		addr, err := arg(1)
		if err != 0 {
			return 0, &Killed{Status: -1}
		}
		cmd, err := readStr(ctx, p, addr, 4096)
		if err != 0 {
			return 0, &Killed{Status: -1}
		}
		return ctx.Exec(p, cmd), nil

	case WAIT:
		pid, err := arg(1)
		if err != 0 {
			return 0, &Killed{Status: -1}
		}
		return ctx.Wait(p, pid), nil

	case CREATE:
		addr, e1 := arg(1)
		size, e2 := arg(2)
		if e1 != 0 || e2 != 0 {
			return 0, &Killed{Status: -1}
		}
		name, e3 := readStr(ctx, p, addr, 4096)
		if e3 != 0 {
			return 0, &Killed{Status: -1}
		}
		var rerr defs.Err_t
		ctx.FSLock.With(p, func() { rerr = ctx.FS.Create(ustr.MkUstrSlice([]byte(name)), size) })
		if rerr != 0 {
			return 0, nil
		}
		return 1, nil

	case REMOVE:
		addr, e1 := arg(1)
		if e1 != 0 {
			return 0, &Killed{Status: -1}
		}
		name, e2 := readStr(ctx, p, addr, 4096)
		if e2 != 0 {
			return 0, &Killed{Status: -1}
		}
		var rerr defs.Err_t
		ctx.FSLock.With(p, func() { rerr = ctx.FS.Remove(ustr.MkUstrSlice([]byte(name))) })
		if rerr != 0 {
			return 0, nil
		}
		return 1, nil

	case OPEN:
		addr, e1 := arg(1)
		if e1 != 0 {
			return 0, &Killed{Status: -1}
		}
		name, e2 := readStr(ctx, p, addr, 4096)
		if e2 != 0 {
			return 0, &Killed{Status: -1}
		}
		var file fsiface.File
		var rerr defs.Err_t
		ctx.FSLock.With(p, func() { file, rerr = ctx.FS.Open(ustr.MkUstrSlice([]byte(name))) })
		if rerr != 0 {
			return -1, nil
		}
		return p.Files.Insert(file), nil

	case FILESIZE:
		fd, e1 := arg(1)
		if e1 != 0 {
			return 0, &Killed{Status: -1}
		}
		file, ok := p.Files.Lookup(fd)
		if !ok {
			return -1, nil
		}
		var n int
		ctx.FSLock.With(p, func() { n = file.Length() })
		return n, nil

	case READ:
		fd, e1 := arg(1)
		addr, e2 := arg(2)
		n, e3 := arg(3)
		if e1 != 0 || e2 != 0 || e3 != 0 {
			return 0, &Killed{Status: -1}
		}
		// the target buffer must be writable before any input is consumed
		for i := 0; i < n; {
			_, off, verr := access(ctx, p, addr+i, true)
			if verr != 0 {
				return 0, &Killed{Status: -1}
			}
			i += defs.PAGE_SIZE - off
		}
		if fd == defs.D_CONSOLE || fd == 0 {
			tmp := make([]byte, n)
			got := ctx.Console.Read(tmp)
			if werr := writeBuf(ctx, p, addr, tmp[:got]); werr != 0 {
				return 0, &Killed{Status: -1}
			}
			return got, nil
		}
		file, ok := p.Files.Lookup(fd)
		if !ok {
			return -1, nil
		}
		pos, _ := p.Files.Tell(fd)
		tmp := make([]byte, n)
		var got int
		var rerr defs.Err_t
		ctx.FSLock.With(p, func() { got, rerr = file.ReadAt(tmp, pos) })
		if rerr != 0 {
			return -1, nil
		}
		if werr := writeBuf(ctx, p, addr, tmp[:got]); werr != 0 {
			return 0, &Killed{Status: -1}
		}
		p.Files.Advance(fd, got)
		return got, nil

	case WRITE:
		fd, e1 := arg(1)
		addr, e2 := arg(2)
		n, e3 := arg(3)
		if e1 != 0 || e2 != 0 || e3 != 0 {
			return 0, &Killed{Status: -1}
		}
		buf, rerr := readBuf(ctx, p, addr, n)
		if rerr != 0 {
			return 0, &Killed{Status: -1}
		}
		if fd == 1 {
			return ctx.Console.Putbuf(buf), nil
		}
		file, ok := p.Files.Lookup(fd)
		if !ok {
			return -1, nil
		}
		pos, _ := p.Files.Tell(fd)
		var got int
		var werr defs.Err_t
		ctx.FSLock.With(p, func() { got, werr = file.WriteAt(buf, pos) })
		if werr != 0 {
			return -1, nil
		}
		p.Files.Advance(fd, got)
		return got, nil

	case SEEK:
		fd, e1 := arg(1)
		pos, e2 := arg(2)
		if e1 != 0 || e2 != 0 {
			return 0, &Killed{Status: -1}
		}
		p.Files.Seek(fd, pos)
		return 0, nil

	case TELL:
		fd, e1 := arg(1)
		if e1 != 0 {
			return 0, &Killed{Status: -1}
		}
		pos, ok := p.Files.Tell(fd)
		if !ok {
			return -1, nil
		}
		return pos, nil

	case CLOSE:
		fd, e1 := arg(1)
		if e1 != 0 {
			return 0, &Killed{Status: -1}
		}
		p.Files.Close(fd)
		return 0, nil

	default:
		return 0, &Killed{Status: -1}
	}
}

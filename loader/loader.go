// Package loader parses an executable image and populates a process's
// supplemental page table from it.
//
// Grounded directly on original_source/userprog/process.c's load/
// validate_segment/load_segment/setup_stack sequence, translated from
// PintOS's hand-rolled Elf32_Ehdr/Elf32_Phdr structs (read with plain
// memcpy there) into Go structs decoded with encoding/binary, reading the
// header field-by-field against an exact byte contract rather than
// relying on debug/elf's stricter, section-header-requiring ELF64 reader
// — this teaching format need not carry a valid section header table.
// cmd/mkexec edits the same layout with the same technique.
package loader

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/galileo-os/corevm/defs"
	"github.com/galileo-os/corevm/evict"
	"github.com/galileo-os/corevm/fsiface"
	"github.com/galileo-os/corevm/mem"
	"github.com/galileo-os/corevm/spt"
	"github.com/galileo-os/corevm/ustr"
	"github.com/galileo-os/corevm/util"
	"golang.org/x/arch/x86/x86asm"
)

const (
	ehdrSize = 52
	phdrSize = 32

	ptNull    = 0
	ptLoad    = 1
	ptDynamic = 2
	ptInterp  = 3
	ptNote    = 4
	ptShlib   = 5
	ptPhdr    = 6

	pfX = 1
	pfW = 2
	pfR = 4
)

type ehdr struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type phdr struct {
	Type   uint32
	Offset uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

func readAt(file fsiface.File, off, n int) ([]byte, defs.Err_t) {
	buf := make([]byte, n)
	got, err := file.ReadAt(buf, off)
	if err != 0 {
		return nil, err
	}
	if got != n {
		return nil, -defs.EINVAL
	}
	return buf, 0
}

func readEhdr(file fsiface.File) (ehdr, defs.Err_t) {
	var h ehdr
	buf, err := readAt(file, 0, ehdrSize)
	if err != 0 {
		return h, err
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &h); err != nil {
		return h, -defs.EINVAL
	}
	return h, 0
}

func readPhdr(file fsiface.File, off int) (phdr, defs.Err_t) {
	var p phdr
	buf, err := readAt(file, off, phdrSize)
	if err != 0 {
		return p, err
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &p); err != nil {
		return p, -defs.EINVAL
	}
	return p, 0
}

// chkHeader validates h against the executable format, mirroring process.c
// load()'s header check (magic, e_type, e_machine, e_version, e_phentsize,
// e_phnum).
func chkHeader(h ehdr) defs.Err_t {
	want := [7]byte{0x7F, 'E', 'L', 'F', 0x01, 0x01, 0x01}
	if !bytes.Equal(h.Ident[:7], want[:]) {
		return -defs.EINVAL
	}
	if h.Type != 2 || h.Machine != 3 || h.Version != 1 {
		return -defs.EINVAL
	}
	if int(h.Phentsize) != phdrSize || h.Phnum > 1024 {
		return -defs.EINVAL
	}
	return 0
}

// validateSegment mirrors process.c's validate_segment: offset/vaddr page
// alignment match, offset within file, memsz >= filesz, segment nonempty,
// address range inside the user portion of the address space, no wraparound,
// and page 0 is never mapped.
func validateSegment(p phdr, fileLen int) bool {
	if p.Offset&(defs.PAGE_SIZE-1) != p.Vaddr&(defs.PAGE_SIZE-1) {
		return false
	}
	if int(p.Offset) > fileLen {
		return false
	}
	if p.Memsz < p.Filesz {
		return false
	}
	if p.Memsz == 0 {
		return false
	}
	end := uint64(p.Vaddr) + uint64(p.Memsz)
	if end >= defs.PHYS_BASE {
		return false
	}
	if p.Vaddr < defs.PAGE_SIZE {
		return false
	}
	return true
}

// Image is the outcome of a successful Load: where execution begins and
// where the initial stack pointer sits.
type Image struct {
	Entry int
	ESP   int
}

// Load opens name under fs (denying writes for the process's lifetime),
// parses its executable header and PT_LOAD segments into table as lazy
// CODE pages, allocates and fills the eager initial stack page, and
// returns the entry point and initial stack pointer. argv[0] is name;
// args are the remaining command-line tokens, capped to defs.MAX_ARGS:
// parsing splits on spaces and caps argc at MAX_ARGS.
//
// The returned fsiface.File is the open executable handle the caller must
// keep (with DenyWrite already applied) for the life of the process and
// Close on exit — the original source leaks this handle on several
// paths, a bug fixed here: Load never closes it on success, and closes it
// itself before returning from any failure path.
func Load(owner interface{}, fs fsiface.Filesystem, name string, args []string, table *spt.Table, frames *mem.Pool, clock *evict.Clock) (Image, fsiface.File, defs.Err_t) {
	file, err := fs.Open(ustr.MkUstrSlice([]byte(name)))
	if err != 0 {
		return Image{}, nil, err
	}

	img, lerr := load(owner, file, table)
	if lerr != 0 {
		file.Close()
		return Image{}, nil, lerr
	}
	file.DenyWrite()

	argv := append([]string{name}, args...)
	if len(argv) > defs.MAX_ARGS {
		argv = argv[:defs.MAX_ARGS]
	}
	esp, serr := setupStack(owner, table, frames, clock, argv)
	if serr != 0 {
		file.AllowWrite()
		file.Close()
		return Image{}, nil, serr
	}
	img.ESP = esp
	return img, file, 0
}

func load(owner interface{}, file fsiface.File, table *spt.Table) (Image, defs.Err_t) {
	h, err := readEhdr(file)
	if err != 0 {
		return Image{}, -defs.EINVAL
	}
	if err := chkHeader(h); err != 0 {
		return Image{}, err
	}

	fileLen := file.Length()
	foff := int(h.Phoff)
	var entrySeg *phdr
	for i := 0; i < int(h.Phnum); i++ {
		if foff < 0 || foff > fileLen {
			return Image{}, -defs.EINVAL
		}
		p, perr := readPhdr(file, foff)
		if perr != 0 {
			return Image{}, -defs.EINVAL
		}
		foff += phdrSize

		switch p.Type {
		case ptNull, ptNote, ptPhdr:
			// ignored
		case ptDynamic, ptInterp, ptShlib:
			return Image{}, -defs.EINVAL
		case ptLoad:
			if !validateSegment(p, fileLen) {
				return Image{}, -defs.EINVAL
			}
			if h.Entry >= p.Vaddr && h.Entry < p.Vaddr+p.Memsz {
				seg := p
				entrySeg = &seg
			}
			writable := p.Flags&pfW != 0
			filePage := int(p.Offset) &^ (defs.PAGE_SIZE - 1)
			memPage := int(p.Vaddr) &^ (defs.PAGE_SIZE - 1)
			pageOffset := int(p.Vaddr) & (defs.PAGE_SIZE - 1)

			var readBytes, zeroBytes int
			if p.Filesz > 0 {
				readBytes = pageOffset + int(p.Filesz)
				zeroBytes = util.Roundup(pageOffset+int(p.Memsz), defs.PAGE_SIZE) - readBytes
			} else {
				readBytes = 0
				zeroBytes = util.Roundup(pageOffset+int(p.Memsz), defs.PAGE_SIZE)
			}
			if err := loadSegment(owner, table, filePage, memPage, readBytes, zeroBytes, writable); err != 0 {
				return Image{}, err
			}
		default:
			// unrecognized segment types are ignored, as process.c does
		}
	}

	if os.Getenv("CORE_VM_DEBUG") == "1" && entrySeg != nil {
		logEntryDisasm(file, *entrySeg, int(h.Entry))
	}

	return Image{Entry: int(h.Entry)}, 0
}

// logEntryDisasm prints the first few instructions at the executable's
// entry point to the boot log when CORE_VM_DEBUG=1. Never affects load
// success or failure — a malformed or truncated instruction stream just
// stops the log early.
func logEntryDisasm(file fsiface.File, seg phdr, entry int) {
	fileOff := int(seg.Offset) + (entry - int(seg.Vaddr))
	buf := make([]byte, 64)
	n, err := file.ReadAt(buf, fileOff)
	if err != 0 || n == 0 {
		return
	}
	buf = buf[:n]

	fmt.Printf("loader: entry point 0x%x disassembly:\n", entry)
	for off := 0; off < len(buf); {
		inst, err := x86asm.Decode(buf[off:], 32)
		if err != nil {
			break
		}
		fmt.Printf("\t0x%x: %s\n", entry+off, x86asm.GNUSyntax(inst, uint64(entry+off), nil))
		if inst.Len == 0 {
			break
		}
		off += inst.Len
	}
}

// loadSegment registers one CODE SPT entry per page of the segment,
// mirroring process.c's load_segment loop exactly (read_bytes/zero_bytes
// split per page, offset and upage advanced together).
func loadSegment(owner interface{}, table *spt.Table, fileOff, upage, readBytes, zeroBytes int, writable bool) defs.Err_t {
	if (readBytes+zeroBytes)%defs.PAGE_SIZE != 0 {
		return -defs.EINVAL
	}
	for readBytes > 0 || zeroBytes > 0 {
		pageRead := readBytes
		if pageRead > defs.PAGE_SIZE {
			pageRead = defs.PAGE_SIZE
		}
		table.Create(owner, upage, writable, spt.CODE).Code = spt.CodeSource{
			Offset:    fileOff,
			ReadBytes: pageRead,
		}
		readBytes -= pageRead
		zeroBytes -= defs.PAGE_SIZE - pageRead
		upage += defs.PAGE_SIZE
		fileOff += pageRead
	}
	return 0
}

// setupStack allocates the eager initial stack frame and writes the
// argc/argv layout into it, grounded on process.c's setup_stack. Unlike
// setup_stack's malloc'd thread stack,
// frames.Get already returns a zero-filled buffer, so the alignment and
// sentinel writes below rely on that zeroing rather than re-memsetting it.
func setupStack(owner interface{}, table *spt.Table, frames *mem.Pool, clock *evict.Clock, argv []string) (int, defs.Err_t) {
	page := table.Create(owner, defs.STACK_INIT, true, spt.STACK)
	frame, buf, ok := frames.Get(owner, clock.Evict)
	if !ok {
		return 0, -defs.ENOMEM
	}
	page.Frame = frame

	sp := defs.PAGE_SIZE // cursor into buf; addr = STACK_INIT + sp
	addrOf := func(local int) int { return defs.STACK_INIT + local }

	addrs := make([]int, 0, len(argv))
	for _, a := range argv {
		b := append([]byte(a), 0)
		sp -= len(b)
		copy(buf[sp:], b)
		addrs = append(addrs, addrOf(sp))
	}

	sp -= sp % 4 // 4-byte align

	sp -= 4 // NUL sentinel, argv[argc]

	for i := len(addrs) - 1; i >= 0; i-- {
		sp -= 4
		binary.LittleEndian.PutUint32(buf[sp:sp+4], uint32(addrs[i]))
	}
	argvPtr := addrOf(sp)

	sp -= 4
	binary.LittleEndian.PutUint32(buf[sp:sp+4], uint32(argvPtr))

	sp -= 4
	binary.LittleEndian.PutUint32(buf[sp:sp+4], uint32(len(addrs)))

	sp -= 4 // null return address, left zero

	clock.Add(page)
	return addrOf(sp), 0
}

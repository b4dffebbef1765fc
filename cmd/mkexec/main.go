// Command mkexec patches the entry address of a corevm teaching executable
// (a 32-bit ELF-like format) in place.
//
// Adapted from kernel/chentry.go, an ELF-entry-patching tool: that version
// reads and rewrites a real 64-bit ELF header via debug/elf, since
// biscuit boots real ELF64 kernel images. This core's
// loader (package loader) reads a simpler 32-bit header by hand with
// encoding/binary rather than debug/elf, because the format doesn't carry
// a valid section header table — so mkexec edits the same 52-byte layout
// loader.go parses, instead of going through debug/elf.
package main

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"strconv"
)

const ehdrSize = 52
const entryOffset = 24 // Ident[16] + Type(2) + Machine(2) + Version(4)

func usage(me string) {
	fmt.Printf("%s <filename> <addr>\n\nChange the entry point of <filename> to <addr>\n", me)
	os.Exit(1)
}

func chkIdent(ident []byte) {
	want := [7]byte{0x7F, 'E', 'L', 'F', 0x01, 0x01, 0x01}
	for i, b := range want {
		if ident[i] != b {
			log.Fatal("not a corevm executable image")
		}
	}
}

func parseAddr(s string) (uint32, error) {
	a, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return uint32(a), nil
}

func main() {
	if len(os.Args) != 3 {
		usage(os.Args[0])
	}
	fn := os.Args[1]
	addr, err := parseAddr(os.Args[2])
	if err != nil {
		log.Fatal(err)
	}

	f, err := os.OpenFile(fn, os.O_RDWR, 0)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	hdr := make([]byte, ehdrSize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		log.Fatal(err)
	}
	chkIdent(hdr[:16])

	fmt.Printf("using address 0x%x\n", addr)
	binary.LittleEndian.PutUint32(hdr[entryOffset:entryOffset+4], addr)

	if _, err := f.WriteAt(hdr[entryOffset:entryOffset+4], entryOffset); err != nil {
		log.Fatal(err)
	}
}

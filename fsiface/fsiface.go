// Package fsiface names two collaborator interfaces this core treats as
// out of scope: the block device driver, and the byte-level filesystem
// (open/read/write/seek/close/remove/create/length). The core only ever
// talks to these two small interfaces; package memfs supplies the one
// reference implementation used by tests and the CLI demo.
//
// BlockDevice is a synchronous reduction of biscuit's pci.Disk_i (whose own
// comment reads "XXX delete and the disks that use it?" — a sign that it was
// always meant to be swapped out per backend). Filesystem and File are
// named after the Fs_*/Fd_t method surface of biscuit's ufs.Ufs_t and
// fd.Fd_t.
package fsiface

import (
	"github.com/galileo-os/corevm/defs"
	"github.com/galileo-os/corevm/ustr"
)

/// BlockDevice is a flat array of fixed-size sectors, addressed by sector
/// number. The swap store is the only core component that talks to one
/// directly.
type BlockDevice interface {
	ReadSector(sector int, dst []byte) error
	WriteSector(sector int, src []byte) error
}

/// Filesystem creates, removes, and opens named files. It says nothing about
/// directories: this core's process model only ever names files by a flat
/// string (the executable name, or a name argument to create/remove/open).
type Filesystem interface {
	Create(name ustr.Ustr, initialSize int) defs.Err_t
	Remove(name ustr.Ustr) defs.Err_t
	Open(name ustr.Ustr) (File, defs.Err_t)
}

/// File is one open file handle. DenyWrite/AllowWrite implement the
/// write-deny-while-executing contract the loader requires of the
/// executable it opens.
type File interface {
	ReadAt(dst []byte, off int) (int, defs.Err_t)
	WriteAt(src []byte, off int) (int, defs.Err_t)
	Length() int
	DenyWrite() defs.Err_t
	AllowWrite()
	Close() defs.Err_t
}

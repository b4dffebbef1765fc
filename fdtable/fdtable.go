// Package fdtable is the per-process open-file table: an open-file table
// of {fd, file_handle} pairs with per-process fd space, first user fd = 2.
//
// Grounded on fd/fd.go's Fd_t/Copyfd/Close_panic shape, trimmed to this
// kernel's domain: no Cwd_t or path-hierarchy support (memfs is a flat
// namespace; the byte-level filesystem is an external collaborator), and
// the descriptor now directly wraps fsiface.File rather than
// fdops.Fdops_i, since this core has a single concrete file kind rather
// than files/directories/pipes/sockets.
package fdtable

import (
	"sync"

	"github.com/galileo-os/corevm/defs"
	"github.com/galileo-os/corevm/fsiface"
)

const firstUserFd = 2

/// Entry is one process's view of an open file: its own fd number paired
/// with the shared handle and this descriptor's own read/write cursor
/// (file_seek/file_tell in the original are per open-file-descriptor, not
/// per file, so the cursor lives here rather than on fsiface.File). fd 0
/// and 1 (console) are not stored here — they're special-cased by the
/// syscall dispatcher directly against the console device.
type Entry struct {
	Fd   int
	File fsiface.File
	Pos  int
}

/// Table is a process's per-fd-space open-file table. It is mutated only
/// by the owning process's own syscalls — no sharing across processes —
/// so its mutex exists only to let a concurrent fault handler or the
/// eviction clock's diagnostics read it safely.
type Table struct {
	mu      sync.Mutex
	entries map[int]*Entry
	next    int
}

/// New returns an empty fd table with the first user fd at 2.
func New() *Table {
	return &Table{entries: make(map[int]*Entry), next: firstUserFd}
}

/// Insert allocates the next available fd for file and returns it, its
/// cursor starting at 0: open allocates the next fd and inserts it into
/// the per-process table.
func (t *Table) Insert(file fsiface.File) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.next
	t.next++
	t.entries[fd] = &Entry{Fd: fd, File: file}
	return fd
}

/// Lookup returns the file registered under fd, or (nil, false).
func (t *Table) Lookup(fd int) (fsiface.File, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	if !ok {
		return nil, false
	}
	return e.File, true
}

/// Tell returns fd's current read/write cursor, or (0, false) if fd is not
/// open.
func (t *Table) Tell(fd int) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	if !ok {
		return 0, false
	}
	return e.Pos, true
}

/// Seek sets fd's cursor to pos, mirroring file_seek: seeking past the
/// current end of file is allowed and simply makes the next read return 0
/// bytes until the file grows. Reports false if fd is not open.
func (t *Table) Seek(fd, pos int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	if !ok {
		return false
	}
	e.Pos = pos
	return true
}

/// Advance moves fd's cursor forward by n bytes, called after a read or
/// write actually transfers n bytes. A no-op if fd is not open.
func (t *Table) Advance(fd, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[fd]; ok {
		e.Pos += n
	}
}

/// Close removes fd from the table and closes its underlying file: remove
/// from the per-process table, close the underlying file.
func (t *Table) Close(fd int) defs.Err_t {
	t.mu.Lock()
	e, ok := t.entries[fd]
	delete(t.entries, fd)
	t.mu.Unlock()
	if !ok {
		return -defs.EBADF
	}
	return e.File.Close()
}

/// CloseAll closes every still-open descriptor, used by exit teardown.
func (t *Table) CloseAll() {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[int]*Entry)
	t.mu.Unlock()
	for _, e := range entries {
		e.File.Close()
	}
}

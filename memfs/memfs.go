// Package memfs is the one concrete implementation of fsiface.Filesystem
// used by this repository's tests and its CLI demo. It plays the role
// biscuit's ufs.Ufs_t (an on-disk inode filesystem) plays there, but the
// byte-level filesystem is an external collaborator here, so this is
// intentionally a flat, in-memory stand-in rather than a real filesystem:
// one named byte buffer per file, no directories, no persistence across
// process restarts.
package memfs

import (
	"encoding/gob"
	"os"
	"sync"

	"github.com/galileo-os/corevm/defs"
	"github.com/galileo-os/corevm/fsiface"
	"github.com/galileo-os/corevm/ustr"
)

type entry struct {
	mu       sync.Mutex
	data     []byte
	denied   int // depth of DenyWrite calls currently outstanding
	refs     int
}

/// FS is an in-memory Filesystem: a flat namespace of named byte buffers.
type FS struct {
	mu    sync.Mutex
	files map[string]*entry
}

/// New returns an empty filesystem.
func New() *FS {
	return &FS{files: make(map[string]*entry)}
}

/// Seed installs a file directly, bypassing Create, for building test and
/// demo executable images.
func (fs *FS) Seed(name string, data []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	fs.files[name] = &entry{data: cp}
}

/// LoadImage populates fs from a gob-encoded name->bytes map written by
/// cmd/mkimage, playing mkfs/mkfs.go's "build a disk image from a
/// skeleton directory" role — adapted to this flat in-memory filesystem's
/// one serializable shape rather than a real block-device image, since
/// memfs has no on-disk layout of its own.
func LoadImage(path string) (*FS, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var files map[string][]byte
	if err := gob.NewDecoder(f).Decode(&files); err != nil {
		return nil, err
	}
	fs := New()
	for name, data := range files {
		fs.Seed(name, data)
	}
	return fs, nil
}

func (fs *FS) Create(name ustr.Ustr, initialSize int) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := name.String()
	if _, ok := fs.files[n]; ok {
		return -defs.EEXIST
	}
	if initialSize < 0 {
		initialSize = 0
	}
	fs.files[n] = &entry{data: make([]byte, initialSize)}
	return 0
}

func (fs *FS) Remove(name ustr.Ustr) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := name.String()
	if _, ok := fs.files[n]; !ok {
		return -defs.ENOENT
	}
	// If the file is open (e.g. the running executable), unlinking while
	// open is legal Unix semantics: the name goes away, existing handles
	// keep working. We model that by simply leaving the entry orphaned
	// from the map; open handles still point at it.
	delete(fs.files, n)
	return 0
}

func (fs *FS) Open(name ustr.Ustr) (fsiface.File, defs.Err_t) {
	fs.mu.Lock()
	e, ok := fs.files[name.String()]
	fs.mu.Unlock()
	if !ok {
		return nil, -defs.ENOENT
	}
	e.mu.Lock()
	e.refs++
	e.mu.Unlock()
	return &handle{e: e}, 0
}

type handle struct {
	e      *entry
	closed bool
}

func (h *handle) ReadAt(dst []byte, off int) (int, defs.Err_t) {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	if off >= len(h.e.data) {
		return 0, 0
	}
	n := copy(dst, h.e.data[off:])
	return n, 0
}

func (h *handle) WriteAt(src []byte, off int) (int, defs.Err_t) {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	if h.e.denied > 0 {
		return 0, -defs.EACCES
	}
	end := off + len(src)
	if end > len(h.e.data) {
		grown := make([]byte, end)
		copy(grown, h.e.data)
		h.e.data = grown
	}
	n := copy(h.e.data[off:end], src)
	return n, 0
}

func (h *handle) Length() int {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	return len(h.e.data)
}

func (h *handle) DenyWrite() defs.Err_t {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	h.e.denied++
	return 0
}

func (h *handle) AllowWrite() {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	if h.e.denied > 0 {
		h.e.denied--
	}
}

func (h *handle) Close() defs.Err_t {
	if h.closed {
		return 0
	}
	h.closed = true
	h.e.mu.Lock()
	h.e.refs--
	h.e.mu.Unlock()
	return 0
}

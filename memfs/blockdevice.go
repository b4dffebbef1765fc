package memfs

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/galileo-os/corevm/defs"
)

/// FileBlockDevice is a fsiface.BlockDevice backed by a single host file,
/// one sector per defs.SECTOR_SIZE bytes. It plays the role biscuit's
/// ahci_disk_t (ufs/driver.go) plays for its on-disk filesystem tests: a
/// real file standing in for a disk. Where ahci_disk_t
/// serializes access with Seek+Read/Write under a mutex, FileBlockDevice
/// uses golang.org/x/sys/unix.Pread/Pwrite (positioned I/O, no shared
/// offset, so no mutex is needed for correctness) — biscuit's own go.mod
/// already depends on golang.org/x/sys.
type FileBlockDevice struct {
	f *os.File
}

/// NewFileBlockDevice creates (or truncates) path to hold nsectors sectors
/// and returns a block device backed by it.
func NewFileBlockDevice(path string, nsectors int) (*FileBlockDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("memfs: open block device: %w", err)
	}
	if err := f.Truncate(int64(nsectors) * defs.SECTOR_SIZE); err != nil {
		f.Close()
		return nil, fmt.Errorf("memfs: size block device: %w", err)
	}
	return &FileBlockDevice{f: f}, nil
}

func (d *FileBlockDevice) ReadSector(sector int, dst []byte) error {
	if len(dst) != defs.SECTOR_SIZE {
		return fmt.Errorf("memfs: short sector buffer (%d)", len(dst))
	}
	n, err := unix.Pread(int(d.f.Fd()), dst, int64(sector)*defs.SECTOR_SIZE)
	if err != nil {
		return err
	}
	if n != defs.SECTOR_SIZE {
		return fmt.Errorf("memfs: short read (%d)", n)
	}
	return nil
}

func (d *FileBlockDevice) WriteSector(sector int, src []byte) error {
	if len(src) != defs.SECTOR_SIZE {
		return fmt.Errorf("memfs: short sector buffer (%d)", len(src))
	}
	n, err := unix.Pwrite(int(d.f.Fd()), src, int64(sector)*defs.SECTOR_SIZE)
	if err != nil {
		return err
	}
	if n != defs.SECTOR_SIZE {
		return fmt.Errorf("memfs: short write (%d)", n)
	}
	return nil
}

/// Close releases the backing file.
func (d *FileBlockDevice) Close() error {
	return d.f.Close()
}

/// MemBlockDevice is a pure in-memory fsiface.BlockDevice for unit tests that
/// don't need real file I/O (it never touches the host filesystem).
type MemBlockDevice struct {
	sectors [][]byte
}

/// NewMemBlockDevice creates an all-zero block device of nsectors sectors.
func NewMemBlockDevice(nsectors int) *MemBlockDevice {
	d := &MemBlockDevice{sectors: make([][]byte, nsectors)}
	for i := range d.sectors {
		d.sectors[i] = make([]byte, defs.SECTOR_SIZE)
	}
	return d
}

func (d *MemBlockDevice) ReadSector(sector int, dst []byte) error {
	copy(dst, d.sectors[sector])
	return nil
}

func (d *MemBlockDevice) WriteSector(sector int, src []byte) error {
	copy(d.sectors[sector], src)
	return nil
}

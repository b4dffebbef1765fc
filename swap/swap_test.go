package swap

import (
	"testing"

	"github.com/galileo-os/corevm/defs"
	"github.com/stretchr/testify/require"
)

type memDev struct {
	sectors [][]byte
}

func newMemDev(n int) *memDev {
	d := &memDev{sectors: make([][]byte, n)}
	for i := range d.sectors {
		d.sectors[i] = make([]byte, defs.SECTOR_SIZE)
	}
	return d
}

func (d *memDev) ReadSector(sector int, dst []byte) error {
	copy(dst, d.sectors[sector])
	return nil
}

func (d *memDev) WriteSector(sector int, src []byte) error {
	copy(d.sectors[sector], src)
	return nil
}

func TestStoreRoundTrip(t *testing.T) {
	dev := newMemDev(2 * defs.SectorsPerPage)
	s := New(dev, 2)
	require.Equal(t, 2, s.Free())

	page := make([]byte, defs.PAGE_SIZE)
	for i := range page {
		page[i] = byte(i)
	}

	slot, err := s.StorePage(page, "p1")
	require.Zero(t, err)
	require.Equal(t, 1, s.Free())

	out := make([]byte, defs.PAGE_SIZE)
	s.LoadPage(slot, out)
	require.Equal(t, page, out)

	s.FreePage(slot)
	require.Equal(t, 2, s.Free())
}

func TestStoreExhaustionReturnsENOSPC(t *testing.T) {
	dev := newMemDev(defs.SectorsPerPage)
	s := New(dev, 1)
	page := make([]byte, defs.PAGE_SIZE)

	_, err := s.StorePage(page, "p1")
	require.Zero(t, err)

	_, err = s.StorePage(page, "p2")
	require.Equal(t, -defs.ENOSPC, err)
}

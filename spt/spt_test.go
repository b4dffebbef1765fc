package spt

import (
	"testing"

	"github.com/galileo-os/corevm/defs"
	"github.com/galileo-os/corevm/mem"
	"github.com/galileo-os/corevm/swap"
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

func TestCreateFindDetach(t *testing.T) {
	tab := NewTable()
	p := tab.Create("owner", 0x1000, true, STACK)
	require.Equal(t, 0x1000, p.Upage)
	require.False(t, p.Resident())
	require.False(t, p.Swapped())

	require.Same(t, p, tab.Find(0x1000))
	require.Nil(t, tab.Find(0x2000))

	tab.Detach(0x1000)
	require.Nil(t, tab.Find(0x1000))
}

func TestCreateDuplicatePanics(t *testing.T) {
	tab := NewTable()
	tab.Create("owner", 0x1000, false, CODE)
	require.Panics(t, func() { tab.Create("owner", 0x1000, false, CODE) })
}

func TestPagesSnapshot(t *testing.T) {
	tab := NewTable()
	tab.Create("owner", 0x1000, false, CODE)
	tab.Create("owner", 0x2000, true, STACK)
	require.Len(t, tab.Pages(), 2)
}

func TestAlignDown(t *testing.T) {
	require.Equal(t, 0x1000, AlignDown(0x1000))
	require.Equal(t, 0x1000, AlignDown(0x1fff))
	require.Equal(t, 0x2000, AlignDown(0x2000))
}

func TestFreeAllReleasesFramesAndSwap(t *testing.T) {
	tab := NewTable()
	frames := mem.NewPool(2)
	slots := swap.New(newMemDev(defs.SectorsPerPage), 1)

	resident := tab.Create("owner", 0x1000, true, STACK)
	frame, _, ok := frames.Get(resident, nil)
	require.True(t, ok)
	resident.Frame = frame

	swapped := tab.Create("owner", 0x2000, true, STACK)
	slot, serr := slots.StorePage(make([]byte, defs.PAGE_SIZE), "owner")
	require.Zero(t, serr)
	swapped.SwapSlot = slot

	var detached []int
	tab.FreeAll(frames, slots, func(p *Page) {
		detached = append(detached, p.Upage)
	})

	require.Equal(t, []int{0x1000}, detached)
	require.Equal(t, 2, frames.Free())
	require.Equal(t, 1, slots.Free())
	require.Nil(t, tab.Find(0x1000))
	require.Nil(t, tab.Find(0x2000))
}

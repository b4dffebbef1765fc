package fault

import (
	"testing"
	"time"

	"github.com/galileo-os/corevm/defs"
	"github.com/galileo-os/corevm/evict"
	"github.com/galileo-os/corevm/mem"
	"github.com/galileo-os/corevm/memfs"
	"github.com/galileo-os/corevm/oommsg"
	"github.com/galileo-os/corevm/spt"
	"github.com/galileo-os/corevm/swap"
	"github.com/galileo-os/corevm/ustr"
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

type fakeInstaller struct {
	installed map[int]mem.FrameAddr
	removed   []int
}

func newFakeInstaller() *fakeInstaller {
	return &fakeInstaller{installed: make(map[int]mem.FrameAddr)}
}
func (f *fakeInstaller) Install(owner interface{}, upage int, frame mem.FrameAddr, writable bool) {
	f.installed[upage] = frame
}

func newHandler(t *testing.T) (*Handler, *fakeInstaller) {
	frames := mem.NewPool(8)
	slots := swap.New(newMemDev(2*defs.SectorsPerPage), 2)
	inst := newFakeInstaller()
	clock := evict.New(frames, slots, func(owner interface{}, upage int) {
		inst.removed = append(inst.removed, upage)
	})
	h := New(frames, slots, clock, inst, defs.STACK_INIT)
	return h, inst
}

func TestResolveStackPage(t *testing.T) {
	h, inst := newHandler(t)
	table := spt.NewTable()

	err := h.Resolve(table, "owner", defs.STACK_INIT, defs.STACK_INIT+defs.PAGE_SIZE, true, nil, func(fn func()) { fn() })
	require.Zero(t, err)

	page := table.Find(defs.STACK_INIT)
	require.NotNil(t, page)
	require.True(t, page.Resident())
	require.Contains(t, inst.installed, defs.STACK_INIT)
}

func TestResolveCodePage(t *testing.T) {
	h, inst := newHandler(t)
	table := spt.NewTable()
	fs := memfs.New()
	data := make([]byte, 10)
	for i := range data {
		data[i] = byte(i + 1)
	}
	fs.Seed("prog", data)
	file, err := fs.Open(ustr.MkUstrSlice([]byte("prog")))
	require.Zero(t, err)

	page := table.Create("owner", 0x1000, false, spt.CODE)
	page.Code = spt.CodeSource{Offset: 0, ReadBytes: 10}

	rerr := h.Resolve(table, "owner", 0x1000, defs.STACK_INIT, false, file, func(fn func()) { fn() })
	require.Zero(t, rerr)
	require.True(t, page.Resident())
	require.Contains(t, inst.installed, 0x1000)
}

func TestResolveSegfaultOutsideStackRegion(t *testing.T) {
	h, _ := newHandler(t)
	table := spt.NewTable()

	err := h.Resolve(table, "owner", 0x1000, defs.STACK_INIT+defs.PAGE_SIZE, false, nil, func(fn func()) { fn() })
	require.Equal(t, -defs.EFAULT, err)
}

func TestResolveWriteToReadOnlyPageFaults(t *testing.T) {
	h, _ := newHandler(t)
	table := spt.NewTable()
	page := table.Create("owner", 0x1000, false, spt.CODE)
	page.Frame = 0 // pretend resident via a bogus frame so Resident() is true
	_ = page

	err := h.Resolve(table, "owner", 0x1000, defs.STACK_INIT, true, nil, func(fn func()) { fn() })
	require.Equal(t, -defs.EFAULT, err)
}

func TestShouldGrowStackHeuristic(t *testing.T) {
	h, _ := newHandler(t)
	require.True(t, h.ShouldGrowStack(defs.STACK_INIT, defs.STACK_INIT+4))
	require.True(t, h.ShouldGrowStack(defs.STACK_INIT, defs.STACK_INIT+32))
	require.True(t, h.ShouldGrowStack(defs.STACK_INIT, defs.STACK_INIT+5))
	require.True(t, h.ShouldGrowStack(defs.STACK_INIT, defs.STACK_INIT+defs.PAGE_SIZE))
	require.False(t, h.ShouldGrowStack(defs.STACK_INIT-(defs.STACK_MAX_PAGES+1)*defs.PAGE_SIZE, defs.STACK_INIT+defs.PAGE_SIZE))
}

func TestGetFrameNotifiesOomChBeforePanicking(t *testing.T) {
	frames := mem.NewPool(0)
	slots := swap.New(newMemDev(2*defs.SectorsPerPage), 2)
	clock := evict.New(frames, slots, func(owner interface{}, upage int) {})
	h := New(frames, slots, clock, newFakeInstaller(), defs.STACK_INIT)

	ready := make(chan struct{})
	notified := make(chan oommsg.Oommsg_t, 1)
	go func() {
		close(ready)
		msg := <-oommsg.OomCh
		notified <- msg
		close(msg.Resume)
	}()
	<-ready
	time.Sleep(10 * time.Millisecond) // let the receiver park on OomCh before GetFrame's non-blocking send

	require.Panics(t, func() { h.GetFrame("owner") })

	select {
	case msg := <-notified:
		require.Equal(t, 1, msg.Need)
	default:
		t.Fatal("GetFrame did not notify oommsg.OomCh before panicking")
	}
}

func TestResolveSwapPage(t *testing.T) {
	h, inst := newHandler(t)
	table := spt.NewTable()
	page := table.Create("owner", 0x2000, true, spt.STACK)

	orig := make([]byte, defs.PAGE_SIZE)
	orig[0] = 0xAB
	slot, serr := h.Slots.StorePage(orig, "owner")
	require.Zero(t, serr)
	page.SwapSlot = slot

	rerr := h.Resolve(table, "owner", 0x2000, defs.STACK_INIT, false, nil, func(fn func()) { fn() })
	require.Zero(t, rerr)
	require.True(t, page.Resident())
	require.False(t, page.Swapped())
	require.Contains(t, inst.installed, 0x2000)
	require.Equal(t, byte(0xAB), h.Frames.Bytes(page.Frame)[0])
}

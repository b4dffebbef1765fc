// Package spt implements the supplemental page table: the per-process
// record of what *should* be at each user virtual address, independent of
// whether it is currently resident.
//
// Grounded on original_source/vm/page.h's struct page (owner, upage, kpage,
// swap, flags, writable, used) for the field shape, and on biscuit's
// Vmregion lookup idiom in vm/as.go for how a page descriptor is found from
// a faulting address.
package spt

import (
	"sync"

	"github.com/galileo-os/corevm/defs"
	"github.com/galileo-os/corevm/mem"
	"github.com/galileo-os/corevm/swap"
	"github.com/galileo-os/corevm/util"
)

/// Kind is the origin of a logical page's data.
type Kind int

const (
	CODE Kind = iota
	STACK
)

/// CodeSource describes how to demand-load a CODE page from the
/// executable, the analog of a code_source field.
type CodeSource struct {
	Offset    int
	ReadBytes int
}

/// Page is one page descriptor. EvictBarrier is the pin token used by the
/// clock algorithm: the evictor holds it for the whole eviction. The fault
/// path does not hold it across an install; it acquires and releases it to
/// wait out an in-flight eviction, and a page joins the clock's resident
/// list only after its install is done.
type Page struct {
	EvictBarrier sync.Mutex

	Owner    interface{} // non-owning back-reference to the owning process
	Upage    int         // page-aligned user virtual address
	Kind     Kind
	Writable bool

	Frame     mem.FrameAddr // NoFrame if not resident
	SwapSlot  swap.Slot     // swap.NoSlot if not swapped out
	ClockUsed bool          // consulted/cleared by the eviction clock

	Code CodeSource // valid when Kind == CODE
}

/// Resident reports whether the page currently has a physical frame.
func (p *Page) Resident() bool {
	return p.Frame != mem.NoFrame
}

/// Swapped reports whether the page's data currently lives in swap.
func (p *Page) Swapped() bool {
	return p.SwapSlot != swap.NoSlot
}

/// Table is one process's supplemental page table.
// A Go map gives the O(1) lookup that's appropriate for nontrivial
// programs without needing a hand-rolled hash table (see DESIGN.md on why
// biscuit's own hashtable package was not carried forward).
type Table struct {
	mu    sync.Mutex
	pages map[int]*Page
}

/// NewTable returns an empty supplemental page table.
func NewTable() *Table {
	return &Table{pages: make(map[int]*Page)}
}

/// Create inserts a new logical page with no backing yet (spec_create).
// Used by the loader for lazy CODE registration and by stack growth for
// STACK pages. It is an error (kernel bug) to create a page that already
// exists.
func (t *Table) Create(owner interface{}, upage int, writable bool, kind Kind) *Page {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pages[upage]; ok {
		panic("spt: duplicate page at same address")
	}
	p := &Page{
		Owner:    owner,
		Upage:    upage,
		Kind:     kind,
		Writable: writable,
		Frame:    mem.NoFrame,
		SwapSlot: swap.NoSlot,
	}
	t.pages[upage] = p
	return p
}

/// Find looks up the page covering the aligned user address upage
/// (spt_find). It returns nil if the process has no mapping there.
func (t *Table) Find(upage int) *Page {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pages[upage]
}

/// Pages snapshots every page descriptor in the table, resident or not.
func (t *Table) Pages() []*Page {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Page, 0, len(t.pages))
	for _, p := range t.pages {
		out = append(out, p)
	}
	return out
}

/// Detach drops a page descriptor entirely, without touching its frame or
/// swap slot (callers free those first). FreeAll does not use it, and
/// eviction only clears Frame, it never removes the descriptor.
func (t *Table) Detach(upage int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pages, upage)
}

/// FreeAll tears the table down on process exit: detach every resident
/// frame, release every swap slot, then drop every descriptor. frames and
/// slots are the shared pools a page's resources are returned to;
/// detachResident is called for every still-resident page before its
/// frame is freed, so the caller can both invalidate the
/// hardware-page-table-equivalent mapping and remove the page from the
/// eviction clock's resident list, in the order a real teardown requires.
func (t *Table) FreeAll(frames *mem.Pool, slots *swap.Store, detachResident func(p *Page)) {
	t.mu.Lock()
	pages := make([]*Page, 0, len(t.pages))
	for _, p := range t.pages {
		pages = append(pages, p)
	}
	t.pages = make(map[int]*Page)
	t.mu.Unlock()

	for _, p := range pages {
		p.EvictBarrier.Lock()
		if p.Resident() {
			detachResident(p)
			frames.Put(p.Frame)
			p.Frame = mem.NoFrame
		}
		if p.Swapped() {
			slots.FreePage(p.SwapSlot)
			p.SwapSlot = swap.NoSlot
		}
		p.EvictBarrier.Unlock()
	}
}

/// AlignDown rounds a user address down to its containing page: upage =
/// page_round_down(fa).
func AlignDown(addr int) int {
	return util.Rounddown(addr, defs.PAGE_SIZE)
}

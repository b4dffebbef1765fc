// Package evict implements the eviction policy: a clock hand sweeping a
// global circular list of resident page descriptors.
//
// The circular-list-plus-reference-bit shape is grounded on the Clock
// (second-chance) replacement policy in
// other_examples/...Anthony4m-UltraSQL...Clock.go, adapted from buffer-pool
// frames to spt.Page descriptors; the resident list itself uses
// container/list the same way biscuit's fs.BlkList_t (fs/blk.go) wraps
// container/list for its block cache. The five-step eviction sequence —
// advance, pin, invalidate, write out if writable, unpin — follows the
// standard clock algorithm.
package evict

import (
	"container/list"
	"sync"

	"github.com/galileo-os/corevm/mem"
	"github.com/galileo-os/corevm/spt"
	"github.com/galileo-os/corevm/swap"
)

/// Clock is the global resident-frame list plus cursor: the resident-frame
/// list and its lock, and a clock hand pointer into it.
// It is a field of kernel.Context, never a package-level var.
type Clock struct {
	mu     sync.Mutex
	l      *list.List
	elems  map[*spt.Page]*list.Element
	cursor *list.Element

	frames *mem.Pool
	slots  *swap.Store
	// Uninstall invalidates the hardware-page-table-equivalent mapping for
	// (owner, upage); it runs with interrupts conceptually masked — in
	// this hosted core that's kernel.Context.mapMu.
	Uninstall func(owner interface{}, upage int)

	// OnEvict, if set, is notified once per completed eviction — wired to
	// stats.Counters.IncEvictions by kernel.Context.
	OnEvict func()
}

/// New creates a clock over frames/slots. uninstall is invoked to tear down
/// a victim's mapping before its frame is reclaimed.
func New(frames *mem.Pool, slots *swap.Store, uninstall func(owner interface{}, upage int)) *Clock {
	return &Clock{
		l:         list.New(),
		elems:     make(map[*spt.Page]*list.Element),
		frames:    frames,
		slots:     slots,
		Uninstall: uninstall,
	}
}

/// Add registers p as resident, making it eligible for eviction. Callers
/// (the fault handler, the loader's eager stack page) call this exactly
/// once per page becoming resident.
func (c *Clock) Add(p *spt.Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.elems[p]; ok {
		panic("evict: page already on resident list")
	}
	p.ClockUsed = true
	c.elems[p] = c.l.PushBack(p)
}

/// Remove takes p off the resident list without evicting it — used when a
/// process exits and detaches its own resident pages directly.
func (c *Clock) Remove(p *spt.Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.elems[p]
	if !ok {
		return
	}
	if c.cursor == e {
		c.cursor = e.Next()
	}
	c.l.Remove(e)
	delete(c.elems, p)
}

/// Len reports the number of resident pages under the clock's management.
func (c *Clock) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.l.Len()
}

// selectVictim advances the cursor, clearing ClockUsed bits, until it finds
// an unreferenced page. Caller must hold c.mu.
func (c *Clock) selectVictim() *spt.Page {
	if c.l.Len() == 0 {
		return nil
	}
	if c.cursor == nil {
		c.cursor = c.l.Front()
	}
	for {
		e := c.cursor
		p := e.Value.(*spt.Page)
		next := e.Next()
		if next == nil {
			next = c.l.Front()
		}
		c.cursor = next
		if p.ClockUsed {
			p.ClockUsed = false
			continue
		}
		if c.cursor == e {
			// e was the only element; don't leave the hand on it
			c.cursor = nil
		}
		c.l.Remove(e)
		delete(c.elems, p)
		return p
	}
}

/// Evict runs one eviction and returns the freed frame.
// It reports false only when the resident list is empty (there is nothing
// to evict); an unpinnable victim or a full swap store is a kernel bug and
// panics.
func (c *Clock) Evict() (mem.FrameAddr, bool) {
	c.mu.Lock()
	victim := c.selectVictim()
	c.mu.Unlock()
	if victim == nil {
		return mem.NoFrame, false
	}

	// Step 2: pin. A resident, unpinned victim must be acquirable; failure
	// is a kernel bug.
	if !victim.EvictBarrier.TryLock() {
		panic("evict: victim's evict_barrier already held — kernel bug")
	}
	defer victim.EvictBarrier.Unlock()

	// Step 3: invalidate the mapping and clear the frame field.
	c.Uninstall(victim.Owner, victim.Upage)
	freed := victim.Frame
	victim.Frame = mem.NoFrame

	// Step 4: writable pages are paged out; read-only pages are simply
	// dropped and re-read from the executable on next fault.
	if victim.Writable {
		buf := c.frames.Bytes(freed)
		slot, err := c.slots.StorePage(buf, victim.Owner)
		if err != 0 {
			panic("evict: " + err.Error())
		}
		victim.SwapSlot = slot
	}

	if c.OnEvict != nil {
		c.OnEvict()
	}
	return freed, true
}

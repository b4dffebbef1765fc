// Package fault implements the page-fault resolution path: given a
// faulting address and whether the access was a write, find or
// create the supplemental page table entry responsible for it, install a
// physical frame, and refill that frame's contents.
//
// Grounded on original_source/userprog/exception.c's page_fault/
// page_fault_code/page_fault_grow_stack/page_fault_stack/page_fault_swap,
// translated from the PintOS interrupt-frame style into an explicit Go
// function taking the faulting process state as parameters rather than
// reading a live CR2/intr_frame. The mapping-install step stands in for
// biscuit's vm/as.go Sys_pgfault, simplified to this kernel's single flat
// user address space: no COW, no shared file mappings, no TLB shootdown.
package fault

import (
	"fmt"

	"github.com/galileo-os/corevm/caller"
	"github.com/galileo-os/corevm/defs"
	"github.com/galileo-os/corevm/evict"
	"github.com/galileo-os/corevm/fsiface"
	"github.com/galileo-os/corevm/mem"
	"github.com/galileo-os/corevm/oommsg"
	"github.com/galileo-os/corevm/spt"
	"github.com/galileo-os/corevm/swap"
)

/// Installer invalidates or installs the hardware-page-table-equivalent
/// mapping for a page. Real trap plumbing and page-directory routines are
/// external collaborators; this kernel models the mapping as
/// the spt.Page's own Frame field plus this callback, which a real port
/// would use to flush a TLB entry or update a page directory.
type Installer interface {
	Install(owner interface{}, upage int, frame mem.FrameAddr, writable bool)
}

/// Handler resolves page faults for one kernel instance's pools.
type Handler struct {
	Frames    *mem.Pool
	Slots     *swap.Store
	Clock     *evict.Clock
	Install   Installer
	StackInit int // highest stack page's address, STACK_INIT

	// Segfaults dedups the "real segmentation fault" log line by call
	// path, so a process spinning on the same bad address during a
	// fault storm logs once per distinct caller instead of once per
	// fault. Grounded on caller.Distinct_caller_t, a duplicate-callsite
	// filter.
	Segfaults caller.Distinct_caller_t
}

// New constructs a fault.Handler wired to the given singletons.
func New(frames *mem.Pool, slots *swap.Store, clock *evict.Clock, install Installer, stackInit int) *Handler {
	h := &Handler{Frames: frames, Slots: slots, Clock: clock, Install: install, StackInit: stackInit}
	h.Segfaults.Enabled = true
	return h
}

// GetFrame acquires a zero-filled frame for owner, invoking eviction if the
// pool is empty. If eviction also cannot free one, it notifies oommsg.OomCh
// — giving a monitor a chance to observe the condition — before escalating
// to a panic; every resolver below goes through this one acquisition path,
// so a real exhaustion is never silent.
func (h *Handler) GetFrame(owner interface{}) (mem.FrameAddr, []byte) {
	frame, buf, ok := h.Frames.Get(owner, h.Clock.Evict)
	if !ok {
		resume := make(chan bool)
		select {
		case oommsg.OomCh <- oommsg.Oommsg_t{Need: 1, Resume: resume}:
			<-resume
		default:
		}
		panic("fault: frame pool exhausted and nothing left to evict — kernel bug")
	}
	return frame, buf
}

// resolveCode refills a CODE page by re-reading its bytes from the
// executable: a filesystem read of ReadBytes bytes, then zero-filling the
// remaining PAGE_SIZE - ReadBytes bytes, under the filesystem lock
// (fsLock) per the kernel's lock-ordering rule.
func (h *Handler) resolveCode(p *spt.Page, file fsiface.File, fsLock func(func())) defs.Err_t {
	frame, buf := h.GetFrame(p.Owner)
	var ferr defs.Err_t
	fsLock(func() {
		n, err := file.ReadAt(buf[:p.Code.ReadBytes], p.Code.Offset)
		if err != 0 {
			ferr = err
			return
		}
		if n != p.Code.ReadBytes {
			panic("fault: short read loading code page — kernel bug")
		}
	})
	if ferr != 0 {
		h.Frames.Put(frame)
		return ferr
	}
	for i := p.Code.ReadBytes; i < defs.PAGE_SIZE; i++ {
		buf[i] = 0
	}
	p.Frame = frame
	h.Install.Install(p.Owner, p.Upage, frame, p.Writable)
	h.Clock.Add(p)
	return 0
}

// resolveStack refills a STACK page with a freshly zeroed frame — no
// filesystem access needed.
func (h *Handler) resolveStack(p *spt.Page) defs.Err_t {
	frame, _ := h.GetFrame(p.Owner)
	p.Frame = frame
	h.Install.Install(p.Owner, p.Upage, frame, p.Writable)
	h.Clock.Add(p)
	return 0
}

// resolveSwap reloads a previously-evicted page's contents from its swap
// slot and frees the slot, grounded on page_fault_swap's
// page_alloc/swap_load/swap_free sequence.
func (h *Handler) resolveSwap(p *spt.Page) defs.Err_t {
	frame, buf := h.GetFrame(p.Owner)
	h.Slots.LoadPage(p.SwapSlot, buf)
	h.Slots.FreePage(p.SwapSlot)
	p.SwapSlot = swap.NoSlot
	p.Frame = frame
	h.Install.Install(p.Owner, p.Upage, frame, p.Writable)
	h.Clock.Add(p)
	return 0
}

// GrowStack creates STACK pages from StackInit down to and including upage,
// skipping any address already registered. It mirrors
// page_fault_grow_stack's "walk down from STACK_INIT, creating any page not
// already present" loop; because existing pages are skipped, the "first
// fault" and "later growth" cases take the same path.
func (h *Handler) GrowStack(table *spt.Table, owner interface{}, upage int) []*spt.Page {
	var created []*spt.Page
	for page := h.StackInit; page >= upage; page -= defs.PAGE_SIZE {
		if table.Find(page) != nil {
			continue
		}
		created = append(created, table.Create(owner, page, true, spt.STACK))
	}
	return created
}

// ShouldGrowStack applies the unified stack-growth heuristic: a
// fault at or below the current stack pointer esp (within the slack PintOS
// allows for PUSH/PUSHA, 4 or 32 bytes below esp), or a fault address that
// falls within [STACK_INIT - STACK_MAX_PAGES*PAGE_SIZE, STACK_INIT],
// counts as legitimate stack growth rather than a segmentation fault.
func (h *Handler) ShouldGrowStack(faultAddr, esp int) bool {
	if faultAddr < esp {
		bytes := esp - faultAddr
		if bytes == 4 || bytes == 32 {
			return true
		}
	}
	upage := spt.AlignDown(faultAddr)
	if upage > h.StackInit {
		return false
	}
	requiredPages := (h.StackInit - upage) / defs.PAGE_SIZE
	return requiredPages <= defs.STACK_MAX_PAGES
}

// Resolve is the single page-fault entry point: find the
// page responsible for faultAddr, growing the stack first if the fault
// falls in stack-growth territory and no page exists yet, then refill its
// frame according to its kind. A nil return with -defs.EFAULT means the
// caller should terminate the faulting process, the final
// exit_handler(-1) fallthrough.
func (h *Handler) Resolve(table *spt.Table, owner interface{}, faultAddr, esp int, write bool, file fsiface.File, fsLock func(func())) defs.Err_t {
	upage := spt.AlignDown(faultAddr)
	p := table.Find(upage)

	if p == nil {
		if !h.ShouldGrowStack(faultAddr, esp) {
			if new, trace := h.Segfaults.Distinct(); new {
				fmt.Printf("fault: segfault at 0x%x from a new call path:\n%s", faultAddr, trace)
			}
			return -defs.EFAULT
		}
		grown := h.GrowStack(table, owner, upage)
		if len(grown) == 0 {
			// the target address was already covered by a page created in
			// a concurrent fault; re-find it.
			p = table.Find(upage)
			if p == nil {
				return -defs.EFAULT
			}
		} else {
			for _, np := range grown {
				if np.Upage == upage {
					p = np
				} else {
					// intervening pages are created, matching
					// page_fault_grow_stack's "create every page down to
					// upage" loop, but only the faulting page is resolved
					// here; the rest stay created-but-unresident, to be
					// resolved on their own future fault.
					_ = np
				}
			}
		}
	}

	if write && !p.Writable {
		return -defs.EFAULT
	}

	// Synchronize with any in-flight eviction of this exact page: acquire
	// then immediately release page->evict_barrier.
	p.EvictBarrier.Lock()
	p.EvictBarrier.Unlock()

	if p.Resident() {
		// Two faulters raced on the same page; the other one already
		// resolved it.
		return 0
	}

	if p.Swapped() {
		return h.resolveSwap(p)
	}
	switch p.Kind {
	case spt.CODE:
		return h.resolveCode(p, file, fsLock)
	case spt.STACK:
		return h.resolveStack(p)
	default:
		panic("fault: unknown page kind")
	}
}

// Package mem implements the physical frame allocator: a pool of
// fixed-size physical frames, handed out zero-filled and reclaimed
// through a free list of indices.
//
// This is a direct, simplified descendant of biscuit's mem.Physmem_t
// (mem/mem.go). biscuit's allocator additionally tracks a reference count
// per frame and a per-CPU free list, because biscuit supports
// copy-on-write page directories shared across multiple cores. Neither
// applies here — no COW, no SMP — so a frame has exactly one owner and
// the free list is a single list behind one mutex: the resident-frame
// list is mutated only under the frame lock.
package mem

import (
	"sync"

	"github.com/galileo-os/corevm/defs"
)

/// FrameSize is the size in bytes of one physical frame.
const FrameSize = defs.PAGE_SIZE

/// FrameAddr identifies one physical frame. It is opaque outside mem; callers
/// use Pool.Bytes to get at the frame's contents.
type FrameAddr int32

/// NoFrame is the sentinel meaning "no frame"; it is not FrameAddr's zero
/// value, since frame 0 is a real frame.
const NoFrame FrameAddr = -1

type slot struct {
	next  FrameAddr
	owner interface{} // opaque owner token, for diagnostics only
	used  bool
}

/// Pool is the frame allocator for one simulated physical memory. It is a
/// field of kernel.Context, modeled explicitly rather than as a package
/// global, unlike biscuit's var Physmem.
type Pool struct {
	mu       sync.Mutex
	backing  [][]byte
	slots    []slot
	freeHead FrameAddr
	freeLen  int
}

/// NewPool allocates a simulated physical memory of n frames, all free.
func NewPool(n int) *Pool {
	p := &Pool{
		backing:  make([][]byte, n),
		slots:    make([]slot, n),
		freeHead: NoFrame,
	}
	for i := n - 1; i >= 0; i-- {
		p.backing[i] = make([]byte, FrameSize)
		p.slots[i].next = p.freeHead
		p.freeHead = FrameAddr(i)
		p.freeLen++
	}
	return p
}

/// Len reports the total number of frames in the pool.
func (p *Pool) Len() int {
	return len(p.slots)
}

/// Free reports the number of currently unallocated frames.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freeLen
}

// popFree pops one frame off the free list. Caller must hold p.mu.
func (p *Pool) popFree() (FrameAddr, bool) {
	if p.freeHead == NoFrame {
		return NoFrame, false
	}
	f := p.freeHead
	p.freeHead = p.slots[f].next
	p.freeLen--
	return f, true
}

// pushFree returns a frame to the free list. Caller must hold p.mu.
func (p *Pool) pushFree(f FrameAddr) {
	p.slots[f].next = p.freeHead
	p.slots[f].used = false
	p.slots[f].owner = nil
	p.freeHead = f
	p.freeLen++
}

/// Get acquires a zero-filled frame and associates it with owner (used only
/// for diagnostics — a Frame record's owner_process back-reference).
/// If the pool is empty, evict is invoked to free exactly one frame; this
/// fails fatally only if swap is also exhausted, so evict is expected to
/// either succeed or panic itself.
func (p *Pool) Get(owner interface{}, evict func() (FrameAddr, bool)) (FrameAddr, []byte, bool) {
	p.mu.Lock()
	f, ok := p.popFree()
	p.mu.Unlock()
	if !ok && evict != nil {
		if freed, did := evict(); did {
			p.mu.Lock()
			p.pushFree(freed)
			f, ok = p.popFree()
			p.mu.Unlock()
		}
	}
	if !ok {
		return NoFrame, nil, false
	}
	p.mu.Lock()
	p.slots[f].used = true
	p.slots[f].owner = owner
	p.mu.Unlock()
	buf := p.backing[f]
	for i := range buf {
		buf[i] = 0
	}
	return f, buf, true
}

/// Put returns a frame to the free pool.
func (p *Pool) Put(f FrameAddr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.slots[f].used {
		panic("mem: double free of frame")
	}
	p.pushFree(f)
}

/// Bytes returns the backing storage for a resident frame.
func (p *Pool) Bytes(f FrameAddr) []byte {
	return p.backing[f]
}

/// Owner returns the diagnostic owner token passed to Get, or nil.
func (p *Pool) Owner(f FrameAddr) interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[f].owner
}

// Package swap implements the swap store: a fixed number of page-sized
// slots on a block device, allocated from a free list.
//
// Grounded on original_source/vm/swap.c (swap_init/swap_push_page/
// swap_pop_page/swap_free_page) for the exact contract — a free list of
// slots, PANIC on exhaustion — and on the free-list-of-
// indices technique in mem.Pool (itself adapted from biscuit's
// mem.Physmem_t). The store's mutex guards only the free list; the block
// I/O itself runs outside it, and no filesystem lock is taken around it.
package swap

import (
	"sync"

	"github.com/galileo-os/corevm/defs"
	"github.com/galileo-os/corevm/fsiface"
)

/// Slot identifies one swap slot.
type Slot int32

/// NoSlot is the sentinel meaning "no slot"; it is not Slot's zero value,
/// since slot 0 is a real slot.
const NoSlot Slot = -1

type slotRec struct {
	next  Slot
	owner interface{} // diagnostic only, an owner reference for debugging
}

/// Store is the swap store. One Store per simulated boot, owned by
/// kernel.Context as explicit state, not a package global.
type Store struct {
	mu       sync.Mutex
	dev      fsiface.BlockDevice
	slots    []slotRec
	freeHead Slot
	freeLen  int
}

/// New creates a swap store of n page-granular slots over dev. Each slot
/// occupies defs.SectorsPerPage consecutive sectors.
func New(dev fsiface.BlockDevice, n int) *Store {
	s := &Store{dev: dev, slots: make([]slotRec, n), freeHead: NoSlot}
	for i := n - 1; i >= 0; i-- {
		s.slots[i].next = s.freeHead
		s.freeHead = Slot(i)
		s.freeLen++
	}
	return s
}

/// Len reports the total slot count (SWAP_PAGES).
func (s *Store) Len() int { return len(s.slots) }

/// Free reports the number of unallocated slots.
func (s *Store) Free() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freeLen
}

/// Store writes PAGE_SIZE bytes from frame to a newly allocated slot and
/// returns it. Fails with SwapFull when no free slot remains; the caller
/// promotes this to a kernel panic, mirroring swap.c's own "PANIC (kernel
/// bug - swap out of blocks.)".
func (s *Store) StorePage(frame []byte, owner interface{}) (Slot, defs.Err_t) {
	if len(frame) != defs.PAGE_SIZE {
		panic("swap: frame is not PAGE_SIZE bytes")
	}
	s.mu.Lock()
	if s.freeHead == NoSlot {
		s.mu.Unlock()
		return NoSlot, -defs.ENOSPC
	}
	slot := s.freeHead
	s.freeHead = s.slots[slot].next
	s.freeLen--
	s.slots[slot].owner = owner
	s.mu.Unlock()

	for i := 0; i < defs.SectorsPerPage; i++ {
		sector := int(slot)*defs.SectorsPerPage + i
		off := i * defs.SECTOR_SIZE
		if err := s.dev.WriteSector(sector, frame[off:off+defs.SECTOR_SIZE]); err != nil {
			panic("swap: block device write failed: " + err.Error())
		}
	}
	return slot, 0
}

/// LoadPage reads slot's contents into frame. The slot's identity is stable
/// until the caller separately calls FreePage — LoadPage does not free it.
func (s *Store) LoadPage(slot Slot, frame []byte) {
	if len(frame) != defs.PAGE_SIZE {
		panic("swap: frame is not PAGE_SIZE bytes")
	}
	for i := 0; i < defs.SectorsPerPage; i++ {
		sector := int(slot)*defs.SectorsPerPage + i
		off := i * defs.SECTOR_SIZE
		if err := s.dev.ReadSector(sector, frame[off:off+defs.SECTOR_SIZE]); err != nil {
			panic("swap: block device read failed: " + err.Error())
		}
	}
}

/// FreePage returns slot to the free list. It does not erase the slot's
/// on-device contents.
func (s *Store) FreePage(slot Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot].owner = nil
	s.slots[slot].next = s.freeHead
	s.freeHead = slot
	s.freeLen++
}

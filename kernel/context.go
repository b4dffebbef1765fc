// Package kernel wires every singleton the core depends on into one
// explicit struct — no package-level vars, a Context value threaded
// through every call — and implements the process lifecycle operations
// that need several of those singletons at once: exec, wait, exit.
//
// Grounded on biscuit's own instinct to avoid a single monolithic global
// (it instead spreads its singletons — mem.Physmem, paging lock, etc. —
// across a handful of package-level vars), redesigned here as one Context
// value, constructed once per simulated boot, passed to every operation
// that needs it.
package kernel

import (
	"fmt"
	"sync"

	"github.com/galileo-os/corevm/caller"
	"github.com/galileo-os/corevm/console"
	"github.com/galileo-os/corevm/defs"
	"github.com/galileo-os/corevm/evict"
	"github.com/galileo-os/corevm/fault"
	"github.com/galileo-os/corevm/fsiface"
	"github.com/galileo-os/corevm/mem"
	"github.com/galileo-os/corevm/proc"
	"github.com/galileo-os/corevm/stats"
	"github.com/galileo-os/corevm/swap"
)

// FSLock is the single global filesystem lock, re-entrant for the holding
// process: nested acquisitions by the same thread increment a depth
// counter, and matching releases decrement it, only releasing on zero. Go
// has no goroutine-local storage, so thread identity is modeled
// explicitly as the acting *proc.Proc, passed in by every caller rather
// than recovered from the runtime — the same explicit-identity approach
// Context itself takes for global state.
type FSLock struct {
	mu     sync.Mutex
	cond   *sync.Cond
	holder *proc.Proc
	depth  int
}

func newFSLock() *FSLock {
	l := &FSLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

/// Lock acquires the filesystem lock on behalf of owner, blocking while a
/// different process holds it, and nesting for the same one.
func (l *FSLock) Lock(owner *proc.Proc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.holder != nil && l.holder != owner {
		l.cond.Wait()
	}
	l.holder = owner
	l.depth++
}

/// Unlock releases one level of nesting, waking any waiter once the depth
/// reaches zero.
func (l *FSLock) Unlock(owner *proc.Proc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != owner {
		panic("kernel: fs lock released by non-holder")
	}
	l.depth--
	if l.depth == 0 {
		l.holder = nil
		l.cond.Broadcast()
	}
}

/// With runs fn while holding the filesystem lock on owner's behalf,
/// releasing it (to the prior nesting depth) even if fn panics.
func (l *FSLock) With(owner *proc.Proc, fn func()) {
	l.Lock(owner)
	defer l.Unlock(owner)
	fn()
}

// Context bundles every singleton the core's components share. One value
// is constructed per simulated boot (see New) and passed explicitly to
// every operation, rather than living as global mutable state.
type Context struct {
	Frames  *mem.Pool
	Swap    *swap.Store
	FS      fsiface.Filesystem
	FSLock  *FSLock
	Clock   *evict.Clock
	Procs   *proc.Table
	Console *console.Console
	Fault   *fault.Handler
	Stats   *stats.Counters

	maps map[*proc.Proc]map[int]mem.FrameAddr
	mapMu sync.Mutex
}

/// New assembles a Context from its component singletons. frameCount and
/// swapSlots size the frame pool and swap store respectively; dev backs
/// the swap store's block I/O.
func New(frameCount int, dev fsiface.BlockDevice, swapSlots int, fs fsiface.Filesystem, con *console.Console) *Context {
	c := &Context{
		Frames:  mem.NewPool(frameCount),
		Swap:    swap.New(dev, swapSlots),
		FS:      fs,
		FSLock:  newFSLock(),
		Procs:   proc.NewTable(),
		Console: con,
		Stats:   &stats.Counters{},
		maps:    make(map[*proc.Proc]map[int]mem.FrameAddr),
	}
	c.Clock = evict.New(c.Frames, c.Swap, c.uninstall)
	c.Clock.OnEvict = c.Stats.IncEvictions
	c.Fault = fault.New(c.Frames, c.Swap, c.Clock, installerFunc(c.install), defs.STACK_INIT)
	return c
}

type installerFunc func(owner interface{}, upage int, frame mem.FrameAddr, writable bool)

func (f installerFunc) Install(owner interface{}, upage int, frame mem.FrameAddr, writable bool) {
	f(owner, upage, frame, writable)
}

func (c *Context) install(owner interface{}, upage int, frame mem.FrameAddr, writable bool) {
	p := owner.(*proc.Proc)
	c.mapMu.Lock()
	defer c.mapMu.Unlock()
	m, ok := c.maps[p]
	if !ok {
		m = make(map[int]mem.FrameAddr)
		c.maps[p] = m
	}
	m[upage] = frame
}

func (c *Context) uninstall(owner interface{}, upage int) {
	p := owner.(*proc.Proc)
	c.mapMu.Lock()
	defer c.mapMu.Unlock()
	if m, ok := c.maps[p]; ok {
		delete(m, upage)
	}
}

/// Bug panics with a formatted message and a dumped call stack, a
/// kernel-bug escalation for invariant violations. Nothing in the core
/// calls it at present: evict, fault, mem, spt and swap raise their
/// invariant violations with plain panics. Grounded on caller.Callerdump,
/// a stack-dump helper.
func Bug(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	caller.Callerdump(2)
	panic("kernel bug: " + msg)
}

/// GetFrame acquires a zero-filled frame for owner on this Context's own
/// pool, the same acquisition path every page-fault resolution goes
/// through: see fault.Handler.GetFrame for the eviction and
/// oommsg-notify-then-panic behavior on exhaustion.
func (c *Context) GetFrame(owner interface{}) (mem.FrameAddr, []byte) {
	return c.Fault.GetFrame(owner)
}

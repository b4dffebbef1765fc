// Package proc holds the process record and the process table, plus the
// binary rendezvous primitive used by exec/wait.
//
// Grounded on biscuit's tinfo.Tnote_t for the shape of a kernel-visible
// thread/process record, but deliberately dropping its runtime.Gptr()/
// Setgptr() "current thread" hook — that requires biscuit's patched Go
// runtime and has no equivalent in stock Go. Avoiding implicit globals
// means every operation below takes the acting *Proc explicitly instead.
package proc

import (
	"context"
	"sync"

	"github.com/galileo-os/corevm/accnt"
	"github.com/galileo-os/corevm/fdtable"
	"github.com/galileo-os/corevm/fsiface"
	"github.com/galileo-os/corevm/limits"
	"github.com/galileo-os/corevm/spt"
	"golang.org/x/sync/semaphore"
)

/// State is one of the process lifecycle states.
type State int

const (
	LOADING State = iota
	RUNNING
	DYING
)

/// Handshake is a one-shot binary rendezvous: Wait blocks until a matching
/// Signal. It is the Go-native stand-in for PintOS's sema_down/sema_up
/// pairs (exec_handshake/wait_handshake), built on
/// golang.org/x/sync/semaphore.Weighted(1) — a single-permit counting
/// semaphore, acquired once at construction so the first Wait call blocks
/// until a Signal releases it.
type Handshake struct {
	sem *semaphore.Weighted
}

/// NewHandshake returns a handshake that starts "empty" (held).
func NewHandshake() *Handshake {
	h := &Handshake{sem: semaphore.NewWeighted(1)}
	h.sem.Acquire(context.Background(), 1)
	return h
}

/// Signal releases one waiter.
func (h *Handshake) Signal() {
	h.sem.Release(1)
}

/// Wait blocks until Signal has been called.
func (h *Handshake) Wait() {
	h.sem.Acquire(context.Background(), 1)
}

/// DeadChild is the small record retained for a child that exited before
/// its parent called wait.
type DeadChild struct {
	Pid        int
	ExitStatus int
}

/// Proc is one process's kernel-visible state. Non-process fields —
/// scheduling, registers, the hardware address space — belong to external
/// collaborators and are not modeled here.
type Proc struct {
	Pid    int
	Name   string
	Parent *Proc

	mu         sync.Mutex
	state      State
	exitStatus int
	waitable   bool // allow_wait

	Files *fdtable.Table
	SPT   *spt.Table
	Accnt accnt.Accnt_t

	// ESP is the process's current user stack pointer, tracked explicitly
	// since this hosted core has no CPU register file of its own — the
	// trap-return path (an external collaborator) is responsible for
	// keeping it current. The fault and syscall packages read it for the
	// stack-growth heuristic.
	ESP int

	// Executable is the process's own open, write-denied executable
	// handle, closed on exit.
	Executable fsiface.File

	ExecHandshake *Handshake
	WaitHandshake *Handshake

	// ExecOK is set by the child before signaling ExecHandshake, read by
	// the parent after waiting on it: the handshake carries a status in
	// {SUCCESS, ERROR}.
	ExecOK bool

	childMu      sync.Mutex
	deadChildren []DeadChild
}

/// New constructs a process record in the LOADING state.
func New(pid int, name string, parent *Proc) *Proc {
	return &Proc{
		Pid:           pid,
		Name:          name,
		Parent:        parent,
		state:         LOADING,
		waitable:      true,
		Files:         fdtable.New(),
		SPT:           spt.NewTable(),
		ExecHandshake: NewHandshake(),
		WaitHandshake: NewHandshake(),
	}
}

/// State returns the process's current lifecycle state.
func (p *Proc) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

/// SetState transitions the process to s.
func (p *Proc) SetState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

/// SetExitStatus records the status exit(status) supplied.
func (p *Proc) SetExitStatus(status int) {
	p.mu.Lock()
	p.exitStatus = status
	p.mu.Unlock()
}

/// ExitStatus returns the recorded exit status.
func (p *Proc) ExitStatus() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitStatus
}

/// Waitable reports whether this process can still be the target of a
/// wait call: a process marks itself un-waitable on exit, and wait on an
/// already-waited-for child must also fail.
func (p *Proc) Waitable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitable
}

/// ClearWaitable marks the process as no longer a valid wait target.
func (p *Proc) ClearWaitable() {
	p.mu.Lock()
	p.waitable = false
	p.mu.Unlock()
}

/// PushDeadChild records a dead-child entry for later consumption by wait.
func (p *Proc) PushDeadChild(pid, status int) {
	p.childMu.Lock()
	p.deadChildren = append(p.deadChildren, DeadChild{Pid: pid, ExitStatus: status})
	p.childMu.Unlock()
}

/// PopDeadChild removes and returns the dead-child entry for pid, if any.
func (p *Proc) PopDeadChild(pid int) (DeadChild, bool) {
	p.childMu.Lock()
	defer p.childMu.Unlock()
	for i, dc := range p.deadChildren {
		if dc.Pid == pid {
			p.deadChildren = append(p.deadChildren[:i], p.deadChildren[i+1:]...)
			return dc, true
		}
	}
	return DeadChild{}, false
}

/// Table is the global all-processes table: in PintOS, a global
/// all-processes list mutated under interrupt-disable. A single mutex
/// stands in for that discipline on this single-CPU, hosted core.
// cap enforces limits.Syslimit.Sysprocs, a system-wide process count
// ceiling (limits/limits.go) — carried forward as the ambient
// resource-limit check a real kernel applies to exec/fork.
type Table struct {
	mu    sync.Mutex
	procs map[int]*Proc
	next  int
	cap   *limits.Sysatomic_t
}

/// NewTable returns an empty process table, first pid 1, capped at
/// limits.Syslimit.Sysprocs concurrent processes.
func NewTable() *Table {
	return &Table{procs: make(map[int]*Proc), next: 1, cap: &limits.Syslimit.Sysprocs}
}

/// Spawn allocates a new pid and registers a process record for it, or
/// returns nil if the system-wide process limit has been reached: exec
/// returns ERROR on resource exhaustion.
func (t *Table) Spawn(name string, parent *Proc) *Proc {
	if !t.cap.Take() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	pid := t.next
	t.next++
	p := New(pid, name, parent)
	t.procs[pid] = p
	return p
}

/// ReleaseSlot returns one process-table slot without removing the record,
/// used at exit time: a DYING process still has a record (for wait to
/// reap), but no longer counts against the concurrent-process limit.
func (t *Table) ReleaseSlot() {
	t.cap.Give()
}

/// Get looks up a process by pid.
func (t *Table) Get(pid int) (*Proc, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[pid]
	return p, ok
}

/// Remove drops a process record without touching the slot count. Used
/// both when a load fails outright (the caller releases the slot with
/// ReleaseSlot first) and when a parent has finished reaping an exited
/// child (whose slot was already released by ReleaseSlot at exit).
func (t *Table) Remove(pid int) {
	t.mu.Lock()
	delete(t.procs, pid)
	t.mu.Unlock()
}

/// IsChildOf reports whether child's Parent is parent — wait's
/// precondition that pid is a child of the caller.
func IsChildOf(child, parent *Proc) bool {
	return child != nil && child.Parent == parent
}

package kernel

import (
	"fmt"
	"strings"

	"github.com/galileo-os/corevm/defs"
	"github.com/galileo-os/corevm/loader"
	"github.com/galileo-os/corevm/proc"
	"github.com/galileo-os/corevm/spt"
)

// Exec implements exec(cmd): allocate a child, start it loading, and block
// until the child's exec_handshake reports success or failure. Grounded on
// original_source/userprog/process.c's process_execute/start_process pair,
// collapsed into a single synchronous call since this hosted core has no
// separate scheduler to hand the new process off to (the scheduler is an
// external collaborator here) — the load itself runs synchronously on the
// caller's goroutine rather than a freshly scheduled thread.
func (c *Context) Exec(parent *proc.Proc, cmdline string) int {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return -1
	}
	name, args := fields[0], fields[1:]

	child := c.Procs.Spawn(name, parent)
	if child == nil {
		return -1
	}

	var img loader.Image
	c.FSLock.With(child, func() {
		im, file, lerr := loader.Load(child, c.FS, name, args, child.SPT, c.Frames, c.Clock)
		img = im
		child.ExecOK = lerr == 0
		if lerr == 0 {
			child.Executable = file
		}
	})

	if child.ExecOK {
		child.SetState(proc.RUNNING)
		child.ESP = img.ESP
		if sp := child.SPT.Find(defs.STACK_INIT); sp != nil {
			c.install(child, defs.STACK_INIT, sp.Frame, true)
		}
		// img.Entry is the user entry point the external trap-return path
		// resumes at; this core stops at process admission, so it is not
		// consumed further here.
	}
	child.ExecHandshake.Signal()

	if !child.ExecOK {
		c.Procs.ReleaseSlot()
		c.Procs.Remove(child.Pid)
		return -1
	}
	return child.Pid
}

// Wait implements wait(pid).
func (c *Context) Wait(parent *proc.Proc, pid int) int {
	child, alive := c.Procs.Get(pid)
	if !proc.IsChildOf(child, parent) || (alive && !child.Waitable()) {
		if dc, ok := parent.PopDeadChild(pid); ok {
			c.Procs.Remove(pid)
			return dc.ExitStatus
		}
		return -1
	}

	if alive && child.State() != proc.DYING {
		child.WaitHandshake.Wait()
	}

	dc, ok := parent.PopDeadChild(pid)
	if !ok {
		return -1
	}
	c.Procs.Remove(pid)
	return dc.ExitStatus
}

// Exit implements exit(status): print the termination line, tear down
// files and the SPT, close the executable, release the process-table slot,
// and hand off to the parent. The process record itself stays in the table
// until the parent's Wait reaps it. Grounded on
// original_source/userprog/process.c's process_exit.
func (c *Context) Exit(p *proc.Proc, status int) {
	p.SetExitStatus(status)
	fmt.Printf("%s: exit(%d)\n", p.Name, status)

	p.Files.CloseAll()

	p.SPT.FreeAll(c.Frames, c.Swap, func(page *spt.Page) {
		c.uninstall(page.Owner, page.Upage)
		c.Clock.Remove(page)
	})

	if p.Executable != nil {
		c.FSLock.With(p, func() {
			p.Executable.AllowWrite()
			p.Executable.Close()
		})
	}

	p.SetState(proc.DYING)
	p.ClearWaitable()
	c.Procs.ReleaseSlot()
	if p.Parent != nil {
		p.Parent.PushDeadChild(p.Pid, status)
	}
	p.WaitHandshake.Signal()
}

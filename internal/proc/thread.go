package proc

import (
	"fmt"

	"github.com/teaching-os/rvkernel/internal/defs"
	"github.com/teaching-os/rvkernel/internal/task"
)

// SpawnThread implements spec.md §4.7 Thread::spawn: allocates a tid within
// the process, a user stack and trap-context frame at the tid's
// predictable offset, seeds the trap context with {entry, sp, a0=arg}, and
// enqueues the new thread.
func (p *Process) SpawnThread(entry, arg uint64) (*task.Thread, error) {
	tid := defs.Tid_t(p.tids.Alloc())
	th, err := p.buildThread(tid, entry)
	if err != nil {
		p.tids.Free(int(tid))
		return nil, err
	}
	th.Trap.SetA0(arg)

	p.mu.Lock()
	for len(p.threads) <= int(tid) {
		p.threads = append(p.threads, nil)
	}
	p.threads[tid] = th
	p.mu.Unlock()

	p.res.Sched.Enqueue(th)
	return th, nil
}

// ThreadByTid returns the thread with the given tid, if still live.
func (p *Process) ThreadByTid(tid defs.Tid_t) (*task.Thread, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(tid) < 0 || int(tid) >= len(p.threads) || p.threads[tid] == nil {
		return nil, false
	}
	return p.threads[tid], true
}

// ExitThread implements spec.md §4.7 thread exit: frees th's per-thread
// user resources (tid slot, user stack area, trap-context frame). If th is
// tid 0, the owning process becomes a zombie: children are reparented to
// init, the process is marked zombie with code, the fd table is freed, and
// every sibling thread's user resources are released.
func (p *Process) ExitThread(th *task.Thread, code int) {
	th.Exit(code)

	tid := th.Res.Tid
	p.as.RemoveAreaCovering(th.Res.UserStackLo)
	p.as.RemoveAreaCovering(th.Res.TrapCtxVPN)
	th.ReleaseUserResources()
	p.tids.Free(int(tid))

	if tid != 0 {
		p.mu.Lock()
		if int(tid) < len(p.threads) {
			p.threads[tid] = nil
		}
		p.mu.Unlock()
		return
	}

	p.becomeZombie(code)
}

// becomeZombie implements the tid-0-exit transition of spec.md §4.7 and
// §3's invariant "exit of tid=0 transitions the process to zombie and
// tears down every sibling thread."
func (p *Process) becomeZombie(code int) {
	p.mu.Lock()
	siblings := make([]*task.Thread, 0, len(p.threads))
	for i, t := range p.threads {
		if t == nil || defs.Tid_t(i) == 0 {
			continue
		}
		siblings = append(siblings, t)
	}
	children := p.children
	p.children = nil
	p.isZombie = true
	p.exitCode = code
	fds := p.Fds
	p.Fds = nil
	p.mu.Unlock()

	for _, sib := range siblings {
		// A sibling may be parked in any one of the ready FIFO, a
		// mutex/semaphore/condvar wait set, or the timer wheel (asleep); per
		// spec.md §5 it is in at most one of these, so all three removals
		// are safe to attempt regardless of which (if any) currently holds
		// it. This must happen before its resources are released: otherwise
		// a later wakeup (e.g. its sleep deadline firing) would resume a
		// thread whose kernel stack and trap-context frame have already
		// been freed and may have been reused by an unrelated process,
		// violating spec.md §5's "timers are removed when a thread exits."
		p.res.Sched.RemoveFromReady(sib)
		p.res.Timers.Remove(sib)
		p.removeFromWaitSets(sib)

		p.as.RemoveAreaCovering(sib.Res.UserStackLo)
		p.as.RemoveAreaCovering(sib.Res.TrapCtxVPN)
		sib.ReleaseUserResources()
		p.tids.Free(int(sib.Res.Tid))
	}
	if fds != nil {
		fds.CloseAll()
	}

	init := p.res.Registry.Init()
	for _, c := range children {
		c.mu.Lock()
		c.parent = init
		c.mu.Unlock()
		if init != nil {
			init.mu.Lock()
			init.children = append(init.children, c)
			init.mu.Unlock()
		}
	}
}

// Kill implements spec.md §4.10 syscall 129: sets a bit in the pending
// signals field. It never fails for a live process.
func (p *Process) Kill(sig defs.Signal_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals |= sig
}

// PendingKill reports whether the process carries a pending signal whose
// semantics is "kill" (every signal in this kernel's taxonomy is,
// per spec.md §4.4: SIGSEGV/SIGILL/SIGKILL all terminate), returning the
// exit code the thread should observe before returning to user mode.
func (p *Process) PendingKill() (code int, hit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signals == 0 {
		return 0, false
	}
	for _, sig := range []defs.Signal_t{defs.SIGKILL, defs.SIGSEGV, defs.SIGILL} {
		if p.signals&sig != 0 {
			p.signals &^= sig
			return sig.KillCode(), true
		}
	}
	return 0, false
}

// String aids debug logging.
func (p *Process) String() string {
	return fmt.Sprintf("proc[pid=%d]", p.pid)
}

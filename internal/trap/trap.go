// Package trap implements the trap gateway of spec.md §4.4: dispatch on the
// reason a thread left user mode, syscall invocation, process-level signal
// delivery on fault, and the timer-interrupt path that drives preemption.
// Hosted, there is no trampoline assembly to model (SPEC_FULL.md §1/§5's
// Open Question 4): HandleUserTrap plays the role the trampoline +
// trap_handler pair plays in the original, as a plain Go call the trapping
// thread's own goroutine makes with the reason it trapped.
package trap

import (
	"time"

	"github.com/teaching-os/rvkernel/internal/defs"
	"github.com/teaching-os/rvkernel/internal/kconfig"
	"github.com/teaching-os/rvkernel/internal/proc"
	"github.com/teaching-os/rvkernel/internal/sched"
	"github.com/teaching-os/rvkernel/internal/task"
	"github.com/teaching-os/rvkernel/internal/timerwheel"
)

// Cause is the reason control left user mode, per spec.md §4.4's dispatch
// list.
type Cause int

const (
	CauseSyscall Cause = iota
	CausePageFault
	CauseIllegalInstr
	CauseTimerInterrupt
	CauseExternalInterrupt
)

func (c Cause) String() string {
	switch c {
	case CauseSyscall:
		return "syscall"
	case CausePageFault:
		return "page-fault"
	case CauseIllegalInstr:
		return "illegal-instruction"
	case CauseTimerInterrupt:
		return "timer-interrupt"
	case CauseExternalInterrupt:
		return "external-interrupt"
	default:
		return "unknown-cause"
	}
}

// SyscallFunc dispatches one system call, per spec.md §4.10: it receives
// the owning process, the trapping thread, and the (id, a0, a1, a2) read
// from the saved trap context, and returns the value to write into a0. The
// second return reports whether the call terminated the calling thread
// (syscall 93, exit): when true, ret is meaningless and the caller must not
// resume the thread.
type SyscallFunc func(p *proc.Process, th *task.Thread, id, a0, a1, a2 uint64) (ret uint64, exited bool)

// Gateway holds the shared state HandleUserTrap needs to dispatch: the
// scheduler (to yield or park), the timer wheel (to wake expired sleepers),
// the boot clock (to compute "now" in wheel terms), and the syscall
// dispatcher supplied by internal/syscall.
type Gateway struct {
	Sched   *sched.Scheduler
	Timers  *timerwheel.Wheel
	Clock   *kconfig.BootClock
	Syscall SyscallFunc
}

// NewGateway builds a trap gateway over the given scheduler, timer wheel,
// boot clock, and syscall dispatcher.
func NewGateway(s *sched.Scheduler, timers *timerwheel.Wheel, clock *kconfig.BootClock, sc SyscallFunc) *Gateway {
	return &Gateway{Sched: s, Timers: timers, Clock: clock, Syscall: sc}
}

// HandleUserTrap implements spec.md §4.4's user→kernel path dispatch. It is
// called by the thread's own goroutine immediately after it "traps" (the
// hosted stand-in for the trampoline jumping to trap_handler), and returns
// once the thread is ready to resume user execution — or never, if the
// thread exited.
func (g *Gateway) HandleUserTrap(p *proc.Process, th *task.Thread, cause Cause, now time.Time) {
	switch cause {
	case CauseSyscall:
		th.Trap.Sepc += 4
		id, a0, a1, a2 := th.Trap.SyscallArgs()
		ret, exited := g.Syscall(p, th, id, a0, a1, a2)
		if exited {
			g.Sched.BlockCurrentAndRunNext(th)
			return
		}
		th.Trap.SetA0(ret)

	case CausePageFault:
		p.Kill(defs.SIGSEGV)

	case CauseIllegalInstr:
		p.Kill(defs.SIGILL)

	case CauseTimerInterrupt:
		g.Timers.Check(g.Clock.NowMs(now))
		g.Sched.SuspendCurrentAndRunNext(th)

	case CauseExternalInterrupt:
		// No interrupt-controller claim/complete protocol exists in this
		// hosted model; the only real I/O boundary is the BlockDevice
		// (spec.md §1), which this kernel drives synchronously.
	}

	g.checkPendingKill(p, th)
}

// checkPendingKill implements spec.md §4.4 "after handling, if the process
// has any signal set whose semantics is kill, the current thread exits
// with the corresponding code."
func (g *Gateway) checkPendingKill(p *proc.Process, th *task.Thread) {
	code, hit := p.PendingKill()
	if !hit {
		return
	}
	p.ExitThread(th, code)
	g.Sched.BlockCurrentAndRunNext(th)
}

// KernelFault implements spec.md §4.4's kernel→kernel path: faults taken
// while already in kernel mode are fatal.
func KernelFault(cause Cause, detail string) {
	panic("trap: fatal kernel-mode fault: " + cause.String() + ": " + detail)
}

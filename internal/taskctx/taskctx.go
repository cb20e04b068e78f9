// Package taskctx implements the context-switch primitive of spec.md §4.3,
// grounded in the teacher's convention of a small, explicit machine-state
// struct per thread (biscuit's Tf_t/trapframe handling plays the analogous
// role around a syscall boundary). A real kernel's switch() swaps the
// physical stack pointer and returns into a different call stack via a
// handwritten assembly trampoline; hosted Go cannot swap goroutine stacks,
// so this package keeps the teacher's data shape (a tiny struct of
// callee-saved fields) for bookkeeping and tests, and separately implements
// switch's actual control-transfer effect with a one-goroutine-at-a-time
// baton: each TaskContext owns a buffered signal channel, and at most one
// goroutine is ever runnable at a time system-wide. This reproduces
// spec.md's invariant that switch is the only way a running thread yields
// the CPU, since no other code path can advance a parked goroutine's gate.
package taskctx

// trapReturnPC is a synthetic "return address" recorded by GotoTrapReturn,
// standing in for the real trampoline's trap-return entry point.
const trapReturnPC = 0xffffffff_00000000

// TaskContext stores one thread's saved machine state: return address,
// stack pointer, and twelve callee-saved registers, per spec.md §4.3. The
// values are descriptive bookkeeping only; actual control transfer happens
// through gate.
type TaskContext struct {
	RA uint64
	SP uint64
	S  [12]uint64

	gate chan struct{}
}

// New returns a zeroed TaskContext with its control-transfer gate armed.
func New() *TaskContext {
	return &TaskContext{gate: make(chan struct{}, 1)}
}

// GotoTrapReturn constructs the TaskContext a freshly spawned thread starts
// in: its return address is the trap-return entry point and its stack
// pointer is the top of a new kernel stack ksp, per spec.md §4.3.
func GotoTrapReturn(ksp uint64) *TaskContext {
	tc := New()
	tc.RA = trapReturnPC
	tc.SP = ksp
	return tc
}

// Switch transfers the CPU from curr to next: it must be called by the
// goroutine that currently holds the baton (i.e. is "running" as curr).
// It releases next's gate and then parks the caller on curr's own gate
// until some later Switch call releases it again. Callers save nothing
// themselves; the RA/SP/S fields exist for introspection (tests, logging)
// rather than to drive the transfer.
func Switch(curr, next *TaskContext) {
	if curr == next {
		return
	}
	next.gate <- struct{}{}
	<-curr.gate
}

// Park blocks the calling goroutine until some Switch call targets ctx.
// It is used to bootstrap a thread's very first run: a new thread's
// goroutine begins by calling Park on the thread's context (a fresh gate
// holds no token), and stays parked until the scheduler's idle loop calls
// Switch(idleCtx, firstCtx) to wake it.
func Park(ctx *TaskContext) {
	<-ctx.gate
}

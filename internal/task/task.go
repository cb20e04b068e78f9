// Package task implements the schedulable unit of spec.md §3/§4.7
// ("Thread"), adapted in spirit from the teacher's Thread_t-shaped types
// (biscuit keeps similar per-thread state inline in its proc package, which
// the retrieval pack did not include any files of; this package instead
// follows the teacher's general conventions seen elsewhere — embedded
// sync.Mutex, capitalized accessor methods)
// while taking its concrete field list from spec.md §3's Thread entity.
package task

import (
	"sync"

	"github.com/teaching-os/rvkernel/internal/accnt"
	"github.com/teaching-os/rvkernel/internal/addrspace"
	"github.com/teaching-os/rvkernel/internal/defs"
	"github.com/teaching-os/rvkernel/internal/kstack"
	"github.com/teaching-os/rvkernel/internal/taskctx"
	"github.com/teaching-os/rvkernel/internal/trapframe"
)

// Status is a thread's scheduling state, per spec.md §3's invariant that a
// thread is Running, Ready, or Blocked, and at most one of {run queue,
// wait set, timer wheel, current slot} holds it at a time.
type Status int

const (
	StatusReady Status = iota
	StatusRunning
	StatusBlocked
	StatusZombie
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusBlocked:
		return "blocked"
	case StatusZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// UserResources groups the per-thread state that exists only while the
// thread is alive and is released on exit: its tid, its user-stack area in
// the owning address space, and its trap-context frame, per spec.md §4.7
// "thread exit: frees per-thread user resources".
type UserResources struct {
	Tid        defs.Tid_t
	UserStackLo addrspace.VPN
	UserStackHi addrspace.VPN
	TrapCtxVPN addrspace.VPN
	// TrapCtxVPN only names the trap-context page in the address space;
	// the live register state lives in Thread.Trap.
}

// Thread is one schedulable execution context, per spec.md §3.
type Thread struct {
	mu sync.Mutex

	// Proc is a non-owning back-link to the owning process. It is set
	// once at construction and never mutated, so it may be read without
	// holding mu.
	Proc ProcessRef

	Kstack *kstack.Stack
	Res    UserResources
	Ctx    *taskctx.TaskContext
	Trap   *trapframe.Context

	status   Status
	exitCode int
	hasExit  bool

	Acct accnt.Accnt_t
}

// ProcessRef is the minimal surface Thread needs from its owning process,
// kept as an interface so this package does not import internal/proc
// (which itself must import task) and create a cycle.
type ProcessRef interface {
	Pid() defs.Pid_t
}

// New constructs a thread in Ready status with the given resources.
func New(proc ProcessRef, stack *kstack.Stack, res UserResources, trap *trapframe.Context) *Thread {
	return &Thread{
		Proc:   proc,
		Kstack: stack,
		Res:    res,
		Ctx:    taskctx.GotoTrapReturn(stack.TopAddr()),
		Trap:   trap,
		status: StatusReady,
	}
}

// Status returns the thread's current scheduling state.
func (t *Thread) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetStatus transitions the thread's scheduling state. The scheduler and
// sync primitives are the only callers; this method does not itself enforce
// the single-location invariant (that is a property of callers correctly
// moving the thread between queues as they change its status).
func (t *Thread) SetStatus(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = s
}

// Exit records the thread's exit code and marks it a zombie from the
// scheduler's point of view (distinct from the owning process's zombie
// state in spec.md §3, which triggers only on exit of tid 0).
func (t *Thread) Exit(code int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exitCode = code
	t.hasExit = true
	t.status = StatusZombie
}

// ExitCode reports the thread's exit code and whether it has exited.
func (t *Thread) ExitCode() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode, t.hasExit
}

// ReleaseUserResources releases this thread's kernel stack; the caller
// (internal/proc) is responsible for removing the corresponding user-stack
// and trap-context areas from the owning address space, since only the
// process knows which AddressSpace to call RemoveAreaCovering on.
func (t *Thread) ReleaseUserResources() {
	t.Kstack.Release()
}

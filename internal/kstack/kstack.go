// Package kstack manages per-thread kernel stacks, grounded in the
// teacher's use of fixed-size, guard-separated stack slots for kernel
// threads (biscuit's trap/scheduling code assumes a kernel stack per
// Thread_t). spec.md §3/§4.4 requires each thread own an 8 KiB kernel
// stack separated from its neighbors by an unmapped guard page, so an
// overflow faults instead of silently corrupting an adjacent thread's
// stack.
package kstack

import (
	"fmt"

	"github.com/teaching-os/rvkernel/internal/idalloc"
	"github.com/teaching-os/rvkernel/internal/kconfig"
)

// Stack is an RAII handle on one thread's kernel stack slot. Bytes is a
// real Go byte slice standing in for the mapped guard-separated stack
// region described by spec.md; this kernel has no physical stack pointer
// to load, so the "stack" is simply private storage the trap gateway and
// task-context switch code treat as opaque scratch space plus a simulated
// top-of-stack address used only for bookkeeping/logging.
type Stack struct {
	pool  *Pool
	slot  int
	bytes []byte
	freed bool
}

// TopAddr returns a synthetic address identifying the top of this stack,
// useful for logging and for TaskContext.SP in internal/taskctx.
func (s *Stack) TopAddr() uint64 {
	return uint64(s.slot+1)*uint64(s.pool.slotSize()) - 8
}

// Bytes exposes the raw stack storage.
func (s *Stack) Bytes() []byte { return s.bytes }

// Release returns the stack slot to its pool. Using Release twice panics.
func (s *Stack) Release() {
	if s.freed {
		panic("kstack: double release")
	}
	s.freed = true
	s.pool.ids.Free(s.slot)
}

// Pool allocates kernel-stack slots for newly spawned threads, per
// spec.md §4.4 "each thread is allocated ... a kernel stack at a
// predictable offset below the trampoline".
type Pool struct {
	cfg kconfig.Config
	ids *idalloc.Allocator
}

// NewPool creates a kernel-stack pool sized by cfg.
func NewPool(cfg kconfig.Config) *Pool {
	return &Pool{cfg: cfg, ids: idalloc.New(0)}
}

func (p *Pool) slotSize() int { return p.cfg.KernelStackSize + p.cfg.KernelStackGuard }

// Alloc hands out a fresh kernel stack.
func (p *Pool) Alloc() (*Stack, error) {
	slot := p.ids.Alloc()
	if p.cfg.KernelStackSize <= 0 {
		return nil, fmt.Errorf("kstack: zero-size stack configured")
	}
	return &Stack{pool: p, slot: slot, bytes: make([]byte, p.cfg.KernelStackSize)}, nil
}

// InUse reports how many stack slots are currently allocated.
func (p *Pool) InUse() int { return p.ids.InUse() }

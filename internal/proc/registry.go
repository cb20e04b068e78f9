// Package proc implements the process container of spec.md §3/§4.7: the
// per-process address space, fd table, parent/child links, pending
// signals, and the thread table it owns, grounded in the teacher's
// convention of a mutex-guarded struct with capitalized accessors
// (biscuit keeps an analogous Proc_t, which the retrieval pack's slice of
// Biscuit does not include any file of — this package is built from
// spec.md §3/§4.7 directly and from original_source/kernel/src/task's
// ProcessControlBlock, re-expressed without Rust's Arc/Weak in favor of
// the teacher's plain back-pointer-plus-owned-children-list style, per
// spec.md §9's redesign note).
package proc

import (
	"sync"

	"github.com/teaching-os/rvkernel/internal/defs"
)

// Registry is the global pid -> Process map of spec.md §4.7, guarded by a
// single-owner lock per spec.md §5's "Global pid->process map ...
// guarded by single-owner cells; acquire interrupts-off" (interrupt
// masking itself is a platform concern out of scope per spec.md §1; this
// type supplies the mutual-exclusion half of that contract).
type Registry struct {
	mu    sync.Mutex
	procs map[defs.Pid_t]*Process
	init  *Process
}

// NewRegistry creates an empty process registry.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[defs.Pid_t]*Process)}
}

// Insert adds p to the registry, keyed by its pid.
func (r *Registry) Insert(p *Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[p.pid] = p
	if r.init == nil {
		r.init = p
	}
}

// Remove drops pid from the registry, used once a zombie has been reaped.
func (r *Registry) Remove(pid defs.Pid_t) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, pid)
}

// Get looks up a process by pid.
func (r *Registry) Get(pid defs.Pid_t) (*Process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[pid]
	return p, ok
}

// Init returns the first process ever inserted (pid 1, by convention the
// init process), used to reparent orphaned children per spec.md §4.7
// "thread exit ... reparents all children to init".
func (r *Registry) Init() *Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.init
}

// Len reports the number of live (non-reaped) processes, for tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// All returns a snapshot of every live process, for shutdown-time sweeps
// such as profile export; callers must not assume the slice stays current.
func (r *Registry) All() []*Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Process, 0, len(r.procs))
	for _, p := range r.procs {
		out = append(out, p)
	}
	return out
}

package proc

import (
	"fmt"

	"github.com/teaching-os/rvkernel/internal/addrspace"
	"github.com/teaching-os/rvkernel/internal/defs"
	"github.com/teaching-os/rvkernel/internal/idalloc"
	"github.com/teaching-os/rvkernel/internal/ksync"
	"github.com/teaching-os/rvkernel/internal/task"
)

// Fork implements spec.md §4.7 Process::fork: requires exactly one thread,
// deep-clones the address space, allocates a new pid, duplicates the fd
// table, creates a tid-0 thread in the child reusing the parent's
// user-stack base (already present in the cloned space), links
// parent/child, and enqueues the child. The returned pid is the child's;
// a0 of the child's trap context is cleared so fork() returns 0 there.
func (p *Process) Fork() (*Process, error) {
	p.mu.Lock()
	if len(p.threads) != 1 || p.threads[0] == nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("proc: fork requires exactly one thread")
	}
	parentThread := p.threads[0]
	parentAS := p.as
	p.mu.Unlock()

	childAS, err := addrspace.CloneForFork(p.res.Frames, parentAS)
	if err != nil {
		return nil, fmt.Errorf("proc: clone address space: %w", err)
	}

	childFds, err := p.Fds.Clone()
	if err != nil {
		childAS.Destroy()
		return nil, fmt.Errorf("proc: clone fd table: %w", err)
	}

	child := &Process{
		pid:      defs.Pid_t(p.res.Pids.Alloc()),
		as:       childAS,
		parent:   p,
		Fds:      childFds,
		Cwd:      p.Cwd.Clone(),
		tids:     idalloc.New(0),
		mutexes:  make(map[int]mutexHandle),
		sems:     make(map[int]*ksync.Semaphore),
		condvars: make(map[int]*ksync.CondVar),
		kobjIDs:  idalloc.New(0),
		res:      p.res,
	}
	child.tids.Alloc() // reserve tid 0 for the main thread below

	stack, err := p.res.Kstacks.Alloc()
	if err != nil {
		childAS.Destroy()
		return nil, fmt.Errorf("proc: alloc child kstack: %w", err)
	}

	childTrap := *parentThread.Trap // same registers: address-space contents are equal right after fork
	childTrap.KernelSp = stack.TopAddr()
	childTrap.SetA0(0)

	childThread := task.New(child, stack, parentThread.Res, &childTrap)
	child.threads = []*task.Thread{childThread}

	p.mu.Lock()
	p.children = append(p.children, child)
	p.mu.Unlock()

	p.res.Registry.Insert(child)
	p.res.Sched.Enqueue(childThread)
	return child, nil
}

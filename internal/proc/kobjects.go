package proc

import (
	"github.com/teaching-os/rvkernel/internal/ksync"
	"github.com/teaching-os/rvkernel/internal/task"
)

// mutexHandle unifies ksync's spin and blocking mutex under one contract so
// a process's mutex table can hold either kind behind the same id, per
// spec.md §6 "mutex_create(blocking?)".
type mutexHandle interface {
	Lock(curr *task.Thread)
	Unlock()
}

// spinHandle adapts ksync.SpinMutex (which never needs the caller's thread)
// to mutexHandle.
type spinHandle struct{ m *ksync.SpinMutex }

func (s spinHandle) Lock(*task.Thread) { s.m.Lock() }
func (s spinHandle) Unlock()           { s.m.Unlock() }

// CreateMutex implements syscall 1010: blocking selects ksync.BlockingMutex,
// otherwise a spin mutex. Returns the new id.
func (p *Process) CreateMutex(blocking bool) int {
	var h mutexHandle
	if blocking {
		h = ksync.NewBlockingMutex(p.res.Sched)
	} else {
		h = spinHandle{&ksync.SpinMutex{}}
	}
	p.mu.Lock()
	id := p.kobjIDs.Alloc()
	p.mutexes[id] = h
	p.mu.Unlock()
	return id
}

// LockMutex implements syscall 1011. Returns false if id is unknown.
func (p *Process) LockMutex(id int, curr *task.Thread) bool {
	p.mu.Lock()
	h, ok := p.mutexes[id]
	p.mu.Unlock()
	if !ok {
		return false
	}
	h.Lock(curr)
	return true
}

// UnlockMutex implements syscall 1012. Returns false if id is unknown.
func (p *Process) UnlockMutex(id int) bool {
	p.mu.Lock()
	h, ok := p.mutexes[id]
	p.mu.Unlock()
	if !ok {
		return false
	}
	h.Unlock()
	return true
}

// CreateSemaphore implements syscall 1020.
func (p *Process) CreateSemaphore(initial int) int {
	sem := ksync.NewSemaphore(p.res.Sched, initial)
	p.mu.Lock()
	id := p.kobjIDs.Alloc()
	p.sems[id] = sem
	p.mu.Unlock()
	return id
}

// SemaphoreUp implements syscall 1021. Returns false if id is unknown.
func (p *Process) SemaphoreUp(id int) bool {
	p.mu.Lock()
	sem, ok := p.sems[id]
	p.mu.Unlock()
	if !ok {
		return false
	}
	sem.Up()
	return true
}

// SemaphoreDown implements syscall 1022. Returns false if id is unknown.
func (p *Process) SemaphoreDown(id int, curr *task.Thread) bool {
	p.mu.Lock()
	sem, ok := p.sems[id]
	p.mu.Unlock()
	if !ok {
		return false
	}
	sem.Down(curr)
	return true
}

// CreateCondVar implements syscall 1030.
func (p *Process) CreateCondVar() int {
	cv := ksync.NewCondVar(p.res.Sched)
	p.mu.Lock()
	id := p.kobjIDs.Alloc()
	p.condvars[id] = cv
	p.mu.Unlock()
	return id
}

// CondVarSignal implements syscall 1031. Returns false if id is unknown.
func (p *Process) CondVarSignal(id int) bool {
	p.mu.Lock()
	cv, ok := p.condvars[id]
	p.mu.Unlock()
	if !ok {
		return false
	}
	cv.Signal()
	return true
}

// removeFromWaitSets pulls th out of every mutex/semaphore/condvar wait set
// this process owns, used by becomeZombie before a sibling thread's
// resources are released: a sibling blocked on a kernel object when tid 0
// exits must not be left reachable from that object's wait set once its
// kernel stack, trap context and address-space areas have been freed
// (spec.md §5's "a thread is simultaneously at most in one of {ready queue,
// waiter list of one primitive, timer wheel, the current slot}"). Callers
// must already hold no lock on p.mu; this method takes its own snapshot.
func (p *Process) removeFromWaitSets(th *task.Thread) {
	p.mu.Lock()
	mutexes := make([]mutexHandle, 0, len(p.mutexes))
	for _, h := range p.mutexes {
		mutexes = append(mutexes, h)
	}
	sems := make([]*ksync.Semaphore, 0, len(p.sems))
	for _, s := range p.sems {
		sems = append(sems, s)
	}
	condvars := make([]*ksync.CondVar, 0, len(p.condvars))
	for _, c := range p.condvars {
		condvars = append(condvars, c)
	}
	p.mu.Unlock()

	for _, h := range mutexes {
		if bm, ok := h.(*ksync.BlockingMutex); ok {
			bm.RemoveWaiter(th)
		}
	}
	for _, s := range sems {
		s.RemoveWaiter(th)
	}
	for _, c := range condvars {
		c.RemoveWaiter(th)
	}
}

// CondVarWait implements syscall 1032. Returns false if either id is
// unknown; mutexID must name a blocking mutex, per the original's
// sys_condvar_wait (spin mutexes do not pair with condvars).
func (p *Process) CondVarWait(cvID, mutexID int, curr *task.Thread) bool {
	p.mu.Lock()
	cv, ok := p.condvars[cvID]
	h, mok := p.mutexes[mutexID]
	p.mu.Unlock()
	if !ok || !mok {
		return false
	}
	bm, ok := h.(*ksync.BlockingMutex)
	if !ok {
		return false
	}
	cv.Wait(curr, bm)
	return true
}

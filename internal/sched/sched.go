// Package sched implements the single-core scheduler of spec.md §4.5,
// generalized from the teacher's convention of a mutex-guarded global
// singleton (mirrors how biscuit keeps one Proc_t/Thread_t map behind a
// lock; the block-cache's container/list-based queue in blk.go is the
// concrete grounding for using container/list as the ready FIFO here
// instead of a hand-rolled ring buffer).
package sched

import (
	"container/list"
	"sync"

	"github.com/teaching-os/rvkernel/internal/defs"
	"github.com/teaching-os/rvkernel/internal/task"
	"github.com/teaching-os/rvkernel/internal/taskctx"
)

// Scheduler owns the single global ready FIFO and the processor record
// (current thread plus idle context), per spec.md §4.5.
type Scheduler struct {
	mu      sync.Mutex
	ready   *list.List // of *task.Thread
	current *task.Thread
	idleCtx *taskctx.TaskContext
}

// New creates an empty scheduler. idleCtx is the TaskContext the idle loop
// goroutine runs under; callers obtain it by calling Run from that
// goroutine, which supplies its own context internally.
func New() *Scheduler {
	return &Scheduler{ready: list.New(), idleCtx: taskctx.New()}
}

// Enqueue pushes a Ready thread onto the back of the ready FIFO, per
// spec.md §4.5's "wakeup(thread): mark Ready and push to the ready FIFO."
func (s *Scheduler) Enqueue(t *task.Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.SetStatus(task.StatusReady)
	s.ready.PushBack(t)
}

// Current returns the thread presently marked Running on this (single)
// core, or nil if the idle loop holds the CPU.
func (s *Scheduler) Current() *task.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Scheduler) popReadyLocked() *task.Thread {
	e := s.ready.Front()
	if e == nil {
		return nil
	}
	s.ready.Remove(e)
	return e.Value.(*task.Thread)
}

// Run is the idle loop of spec.md §4.5: repeatedly pop the next ready
// thread, mark it Running, record it as current, and switch into it. The
// calling goroutine becomes the system's idle goroutine, handing the baton
// to ready threads and receiving it back whenever one yields or blocks.
// stop is polled between iterations and Run returns once it is closed; with
// a nil stop, Run never returns.
func (s *Scheduler) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		s.mu.Lock()
		next := s.popReadyLocked()
		if next == nil {
			s.mu.Unlock()
			continue
		}
		next.SetStatus(task.StatusRunning)
		s.current = next
		idleCtx := s.idleCtx
		nextCtx := next.Ctx
		s.mu.Unlock()

		taskctx.Switch(idleCtx, nextCtx)
	}
}

// SuspendCurrentAndRunNext implements spec.md §4.5 yielding: the calling
// thread (which must be s.Current()) gives up the CPU, is marked Ready and
// requeued, and the idle loop resumes to pick the next thread. It must be
// called from the goroutine currently running as curr.
func (s *Scheduler) SuspendCurrentAndRunNext(curr *task.Thread) {
	s.mu.Lock()
	curr.SetStatus(task.StatusReady)
	s.ready.PushBack(curr)
	s.current = nil
	idleCtx := s.idleCtx
	myCtx := curr.Ctx
	s.mu.Unlock()

	taskctx.Switch(myCtx, idleCtx)
}

// BlockCurrentAndRunNext implements spec.md §4.5 blocking: like
// SuspendCurrentAndRunNext but does not requeue curr. The caller (a sync
// primitive or sleep) must already have registered curr in the relevant
// wait set or timer wheel before or immediately after this returns control
// to the idle loop — in this implementation that registration happens
// before the switch, since the goroutine calling Block owns curr until it
// hands off the baton.
func (s *Scheduler) BlockCurrentAndRunNext(curr *task.Thread) {
	s.mu.Lock()
	curr.SetStatus(task.StatusBlocked)
	s.current = nil
	idleCtx := s.idleCtx
	myCtx := curr.Ctx
	s.mu.Unlock()

	taskctx.Switch(myCtx, idleCtx)
}

// Wakeup implements spec.md §4.5 waking: mark t Ready and push it to the
// ready FIFO. Callers remove t from whatever wait set or timer wheel held
// it before calling Wakeup.
func (s *Scheduler) Wakeup(t *task.Thread) {
	s.Enqueue(t)
}

// ReadyLen reports the number of threads currently in the ready FIFO,
// primarily for tests asserting scheduling-fairness properties.
func (s *Scheduler) ReadyLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready.Len()
}

// RemoveFromReady removes t from the ready FIFO if present, used when a
// thread must be pulled out of scheduling for reasons other than running
// (e.g. its process was killed). Returns whether it was found.
func (s *Scheduler) RemoveFromReady(t *task.Thread) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for e := s.ready.Front(); e != nil; e = e.Next() {
		if e.Value.(*task.Thread) == t {
			s.ready.Remove(e)
			return true
		}
	}
	return false
}

// CurrentPid is a convenience used by syscalls (getpid, kill) that need the
// running thread's owning process id without importing internal/proc.
func (s *Scheduler) CurrentPid() (defs.Pid_t, bool) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		return 0, false
	}
	return cur.Proc.Pid(), true
}

// Package accnt accumulates per-thread CPU-time usage, adapted from the
// teacher's accnt package (biscuit/src/accnt/accnt.go). It backs the
// scheduling-fairness property of spec.md §8 scenario 4 and supplements the
// original Rust sources' per-task timing (kernel/src/task/task.rs) that
// spec.md's distillation otherwise drops.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accnt_t tracks nanoseconds of user and system time consumed by one thread.
type Accnt_t struct {
	mu      sync.Mutex
	Userns  int64
	Sysns   int64
	Sched   int64 // number of times this thread has been scheduled
}

// Utadd adds delta nanoseconds of user-mode time.
func (a *Accnt_t) Utadd(delta time.Duration) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

// Systadd adds delta nanoseconds of kernel-mode time.
func (a *Accnt_t) Systadd(delta time.Duration) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

// Scheduled records one dispatch of this thread onto the processor.
func (a *Accnt_t) Scheduled() {
	atomic.AddInt64(&a.Sched, 1)
}

// Dispatches reports how many times this thread has been scheduled.
func (a *Accnt_t) Dispatches() int64 {
	return atomic.LoadInt64(&a.Sched)
}

// Add merges n's user and system time into a. No code in this module
// calls it.
func (a *Accnt_t) Add(n *Accnt_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
}

// Snapshot returns a consistent (user, sys) nanosecond pair.
func (a *Accnt_t) Snapshot() (userns, sysns int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Userns, a.Sysns
}

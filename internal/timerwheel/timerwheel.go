// Package timerwheel implements the deadline-ordered wakeup set of
// spec.md §4.6: a min-heap keyed by absolute deadline in milliseconds.
// container/heap is the standard library's own min-heap primitive and is
// exactly what the original Rust sources use a BinaryHeap for
// (kernel/src/timer/mod.rs TimerCondVar ordering); no third-party heap
// appears anywhere in the example pack, so this is one of the few places
// this module leans on the standard library by design rather than
// necessity-driven fallback.
package timerwheel

import (
	"container/heap"
	"sync"

	"github.com/teaching-os/rvkernel/internal/sched"
	"github.com/teaching-os/rvkernel/internal/task"
)

type entry struct {
	deadline int64
	thread   *task.Thread
	index    int
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline < h[j].deadline }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Wheel is the ordered set of (deadline, thread) wakeups, per spec.md §4.6.
type Wheel struct {
	mu      sync.Mutex
	heap    entryHeap
	byThread map[*task.Thread]*entry
	s       *sched.Scheduler
}

// New creates an empty timer wheel that wakes threads through s.
func New(s *sched.Scheduler) *Wheel {
	w := &Wheel{byThread: make(map[*task.Thread]*entry), s: s}
	heap.Init(&w.heap)
	return w
}

// Add inserts a (deadline, thread) wakeup, per spec.md §4.6 add().
func (w *Wheel) Add(deadlineMs int64, t *task.Thread) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := &entry{deadline: deadlineMs, thread: t}
	heap.Push(&w.heap, e)
	w.byThread[t] = e
}

// Check wakes and pops every entry with deadline <= nowMs, per spec.md §4.6
// check(), called from the timer interrupt.
func (w *Wheel) Check(nowMs int64) []*task.Thread {
	w.mu.Lock()
	var woken []*task.Thread
	for w.heap.Len() > 0 && w.heap[0].deadline <= nowMs {
		e := heap.Pop(&w.heap).(*entry)
		delete(w.byThread, e.thread)
		woken = append(woken, e.thread)
	}
	w.mu.Unlock()

	for _, t := range woken {
		w.s.Wakeup(t)
	}
	return woken
}

// Remove drops thread's pending wakeup, if any, per spec.md §4.6 remove(),
// "used when a thread exits before its timer fires." It reports whether an
// entry was found.
func (w *Wheel) Remove(t *task.Thread) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.byThread[t]
	if !ok {
		return false
	}
	heap.Remove(&w.heap, e.index)
	delete(w.byThread, t)
	return true
}

// Len reports the number of pending wakeups.
func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.heap.Len()
}

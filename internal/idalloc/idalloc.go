// Package idalloc provides a small recycling integer-ID allocator, the
// pattern the teacher repeats by hand for pids, tids, and kernel-stack
// slots (biscuit/src/limits/limits.go's Sysatomic_t counters, generalized
// here into one reusable type so internal/proc, internal/task, and
// internal/kstack all share the same recycle-before-grow discipline
// spec.md §4.3/§4.4 expects of pid/tid allocation).
package idalloc

import "sync"

// Allocator hands out small non-negative integers starting at base,
// recycling released ones before minting new ones above the high-water
// mark. It is safe for concurrent use.
type Allocator struct {
	mu       sync.Mutex
	base     int
	next     int
	recycled []int
	inUse    map[int]bool
}

// New creates an allocator that starts minting ids at base.
func New(base int) *Allocator {
	return &Allocator{base: base, next: base, inUse: make(map[int]bool)}
}

// Alloc returns a fresh id, favoring recycled ids over the high-water mark.
func (a *Allocator) Alloc() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	var id int
	if n := len(a.recycled); n > 0 {
		id = a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
	} else {
		id = a.next
		a.next++
	}
	a.inUse[id] = true
	return id
}

// Free returns id to the pool. Freeing an id not currently allocated panics,
// matching the teacher's invariant-violation-panics convention.
func (a *Allocator) Free(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.inUse[id] {
		panic("idalloc: free of id not in use")
	}
	delete(a.inUse, id)
	a.recycled = append(a.recycled, id)
}

// InUse reports how many ids are currently allocated.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}

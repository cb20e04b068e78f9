// Package frame implements the physical-frame allocator of spec.md §4.1,
// adapted from the teacher's mem package (biscuit/src/mem/mem.go). The
// teacher manages real physical memory discovered from the bootloader with a
// per-CPU free-list fast path (SMP, which spec.md excludes as a non-goal);
// this version keeps the single allocator's stack-of-recycled-plus-cursor
// design and drops the per-CPU sharding, since spec.md is single-core.
package frame

import (
	"fmt"
	"log/slog"
	"sync"
)

// PPN is a physical page number (a physical address shifted right by
// PageShift), matching the teacher's Pa_t convention of a distinct numeric
// type for physical addresses.
type PPN uint64

const (
	PageShift = 12
	PageSize  = 1 << PageShift
)

// Frame is an RAII handle to one physical frame. Exactly one owner holds a
// Frame at a time (spec.md §3 invariant); Release returns it to the
// allocator it came from. A Frame must not be used after Release.
type Frame struct {
	alloc *Allocator
	ppn   PPN
	bytes []byte
	freed bool
}

// PPN returns the physical page number backing this frame.
func (f *Frame) PPN() PPN { return f.ppn }

// Bytes exposes the frame's backing storage as a PageSize-length slice.
// This stands in for the teacher's Dmap-based direct-mapped byte view
// (mem/dmap.go), simplified because this kernel has no real MMU to map
// through.
func (f *Frame) Bytes() []byte { return f.bytes }

// Release returns the frame to its allocator. Calling Release twice panics,
// matching the teacher's "double free" assertions in mem.go/alloc.go.
func (f *Frame) Release() {
	if f.freed {
		panic("frame: double release")
	}
	f.freed = true
	f.alloc.dealloc(f.ppn)
}

// Allocator owns a contiguous half-open range [firstPPN, endPPN) of frames,
// per spec.md §4.1. alloc() favors the stack of recycled frames before
// advancing the cursor.
type Allocator struct {
	mu        sync.Mutex
	firstPPN  PPN
	endPPN    PPN
	cursor    PPN
	recycled  []PPN
	inUse     map[PPN]bool // debug bookkeeping: detects double-free/out-of-range
	log       *slog.Logger
}

// NewAllocator creates an allocator owning [firstPPN, endPPN).
func NewAllocator(firstPPN, endPPN PPN, log *slog.Logger) *Allocator {
	if log == nil {
		log = slog.Default()
	}
	if endPPN <= firstPPN {
		panic("frame: empty range")
	}
	return &Allocator{
		firstPPN: firstPPN,
		endPPN:   endPPN,
		cursor:   firstPPN,
		inUse:    make(map[PPN]bool),
		log:      log,
	}
}

// Total returns the total number of frames owned by this allocator.
func (a *Allocator) Total() int {
	return int(a.endPPN - a.firstPPN)
}

// Free returns the number of frames not currently allocated.
func (a *Allocator) Free() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.endPPN-a.cursor) + len(a.recycled)
}

// Alloc returns a fresh, zeroed Frame, or an error if the pool is exhausted.
func (a *Allocator) Alloc() (*Frame, error) {
	a.mu.Lock()
	var ppn PPN
	if n := len(a.recycled); n > 0 {
		ppn = a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
	} else if a.cursor < a.endPPN {
		ppn = a.cursor
		a.cursor++
	} else {
		a.mu.Unlock()
		a.log.Warn("frame pool exhausted", "total", a.Total())
		return nil, fmt.Errorf("frame: out of memory")
	}
	a.inUse[ppn] = true
	a.mu.Unlock()

	f := &Frame{alloc: a, ppn: ppn, bytes: make([]byte, PageSize)}
	return f, nil
}

func (a *Allocator) dealloc(ppn PPN) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ppn < a.firstPPN || ppn >= a.endPPN {
		panic("frame: dealloc out of bounds")
	}
	if !a.inUse[ppn] {
		panic("frame: dealloc of frame not in use")
	}
	delete(a.inUse, ppn)
	a.recycled = append(a.recycled, ppn)
}

package fd

import (
	"sync"

	"github.com/teaching-os/rvkernel/internal/defs"
	"github.com/teaching-os/rvkernel/internal/stat"
)

// pipe is the shared state behind a pipe's two file descriptors, per
// spec.md §9's "pipe end" file kind. Capacity is fixed at creation, unlike
// a real kernel's demand-grown pipe buffer (demand paging is a Non-goal).
const pipeCapacity = 4096

type pipe struct {
	mu        sync.Mutex
	buf       *Circbuf
	readOpen  bool
	writeOpen bool
}

func newPipe() *pipe {
	return &pipe{buf: NewCircbuf(pipeCapacity), readOpen: true, writeOpen: true}
}

// PipeReadEnd is the File-contract read side of a pipe.
type PipeReadEnd struct{ p *pipe }

// PipeWriteEnd is the File-contract write side of a pipe.
type PipeWriteEnd struct{ p *pipe }

// NewPipe creates a connected pipe pair, per spec.md §6 syscall 59 (pipe).
func NewPipe() (*PipeReadEnd, *PipeWriteEnd) {
	p := newPipe()
	return &PipeReadEnd{p: p}, &PipeWriteEnd{p: p}
}

func (r *PipeReadEnd) Read(buf []byte) (int, defs.Err_t) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	n := r.p.buf.Read(buf)
	return n, 0
}

func (r *PipeReadEnd) Write([]byte) (int, defs.Err_t) { return 0, defs.EINVAL }

func (r *PipeReadEnd) Stat() (stat.Stat_t, defs.Err_t) {
	var st stat.Stat_t
	st.Wkind(stat.KindFifo)
	return st, 0
}

func (r *PipeReadEnd) Close() defs.Err_t {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	r.p.readOpen = false
	return 0
}

func (r *PipeReadEnd) Reopen() defs.Err_t { return 0 }

func (w *PipeWriteEnd) Read([]byte) (int, defs.Err_t) { return 0, defs.EINVAL }

func (w *PipeWriteEnd) Write(buf []byte) (int, defs.Err_t) {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	if !w.p.readOpen {
		return 0, defs.EINVAL
	}
	n := w.p.buf.Write(buf)
	return n, 0
}

func (w *PipeWriteEnd) Stat() (stat.Stat_t, defs.Err_t) {
	var st stat.Stat_t
	st.Wkind(stat.KindFifo)
	return st, 0
}

func (w *PipeWriteEnd) Close() defs.Err_t {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	w.p.writeOpen = false
	return 0
}

func (w *PipeWriteEnd) Reopen() defs.Err_t { return 0 }

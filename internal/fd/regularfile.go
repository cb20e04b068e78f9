package fd

import (
	"sync"
	"sync/atomic"

	"github.com/teaching-os/rvkernel/internal/defs"
	"github.com/teaching-os/rvkernel/internal/fs"
	"github.com/teaching-os/rvkernel/internal/stat"
)

// RegularFile is the File-contract wrapper around an on-disk fs.Inode, per
// spec.md §4.9's "in-kernel inode wrapper" component. Multiple Fd_t's
// produced by dup share one RegularFile and one seek offset, matching
// POSIX dup() semantics and the teacher's Copyfd/Reopen reference-counting
// convention.
type RegularFile struct {
	mu     sync.Mutex
	ino    *fs.Inode
	offset uint32
	refs   int32
}

// NewRegularFile wraps ino for use as an open file, starting with one
// reference.
func NewRegularFile(ino *fs.Inode) *RegularFile {
	return &RegularFile{ino: ino, refs: 1}
}

func (r *RegularFile) Read(buf []byte) (int, defs.Err_t) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.ino.ReadAt(r.offset, buf)
	if err != nil {
		return 0, defs.EINVAL
	}
	r.offset += uint32(n)
	return n, 0
}

func (r *RegularFile) Write(buf []byte) (int, defs.Err_t) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ino.Grow(r.offset + uint32(len(buf))); err != nil {
		return 0, defs.ENOMEM
	}
	n, err := r.ino.WriteAt(r.offset, buf)
	if err != nil {
		return 0, defs.EINVAL
	}
	r.offset += uint32(n)
	return n, 0
}

func (r *RegularFile) Stat() (stat.Stat_t, defs.Err_t) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var st stat.Stat_t
	st.Wino(r.ino.ID())
	if r.ino.IsDir() {
		st.Wkind(stat.KindDir)
	} else {
		st.Wkind(stat.KindFile)
	}
	st.Wsize(r.ino.Size())
	st.Wblocks(fs.TotalDataBlocks(r.ino.Size()))
	return st, 0
}

func (r *RegularFile) Close() defs.Err_t {
	if atomic.AddInt32(&r.refs, -1) < 0 {
		panic("fd: regular file over-closed")
	}
	return 0
}

func (r *RegularFile) Reopen() defs.Err_t {
	atomic.AddInt32(&r.refs, 1)
	return 0
}

// Seek repositions the file's offset, for lseek-equivalent needs (the
// syscall surface of spec.md §6 does not expose lseek directly; getdents
// reads a directory from offset 0 through Inode() and leaves this offset
// untouched).
func (r *RegularFile) Seek(offset uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offset = offset
}

// Inode exposes the wrapped inode for getdents/ls-style directory reads.
func (r *RegularFile) Inode() *fs.Inode { return r.ino }

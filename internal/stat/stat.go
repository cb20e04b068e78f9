// Package stat mirrors the teacher's stat package (biscuit/src/stat/stat.go),
// trimmed to the fields the on-disk inode format of spec.md §3 can report.
package stat

// Kind enumerates the type of a filesystem entry.
type Kind uint8

const (
	KindFile Kind = iota
	KindDir
	KindDev
	KindFifo
)

// Stat_t mirrors a file's stat information returned by Fs_stat-equivalent
// lookups and surfaced to user space by getdents/stat-style syscalls.
type Stat_t struct {
	ino    uint32
	kind   Kind
	size   uint32
	blocks uint32
}

// Wino stores the inode number.
func (st *Stat_t) Wino(v uint32) { st.ino = v }

// Wkind records the file kind.
func (st *Stat_t) Wkind(v Kind) { st.kind = v }

// Wsize records the file size in bytes.
func (st *Stat_t) Wsize(v uint32) { st.size = v }

// Wblocks records the number of data blocks occupied by the file.
func (st *Stat_t) Wblocks(v uint32) { st.blocks = v }

// Ino returns the stored inode number.
func (st *Stat_t) Ino() uint32 { return st.ino }

// Kind returns the stored file kind.
func (st *Stat_t) Kind() Kind { return st.kind }

// Size returns the stored size.
func (st *Stat_t) Size() uint32 { return st.size }

// Blocks returns the stored block count.
func (st *Stat_t) Blocks() uint32 { return st.blocks }

// IsDir reports whether the entry is a directory.
func (st *Stat_t) IsDir() bool { return st.kind == KindDir }

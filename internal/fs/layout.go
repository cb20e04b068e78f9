// Package fs implements the on-disk file system of spec.md §3/§4.9: a
// superblock, inode and data bitmaps, an inode area of fixed-layout
// DiskInodes (28 direct + 1 single-indirect + 1 double-indirect pointers),
// and a data area holding raw file bytes and directory entries. The layout
// and allocation algorithms are grounded in original_source/file_system's
// Rust implementation (layout.rs, bitmap.rs, vfs.rs); the encoding is
// re-expressed in the teacher's Go idiom (capitalized accessor methods,
// embedded mutex, explicit little-endian wire format via encoding/binary
// rather than the Rust #[repr(C)] structs).
package fs

import (
	"encoding/binary"
	"fmt"

	"github.com/teaching-os/rvkernel/internal/blockdev"
)

// Magic identifies a formatted image, per spec.md §6.
const Magic uint32 = 0x3B800001

const (
	InodeDirectCount    = 28
	InodeIndirect1Count = blockdev.BlockSize / 4 // 128
	indirect1Bound      = InodeDirectCount + InodeIndirect1Count
	// DiskInodeBytes is the fixed on-disk size of one DiskInode record,
	// padded so that inodes per block divides BlockSize evenly (4 per
	// 512-byte block).
	DiskInodeBytes = blockdev.BlockSize / 4

	// DirEntBytes is the fixed size of one directory entry, per spec.md
	// §6 "DirEntry name length limit is 27 bytes plus a terminator".
	DirEntBytes   = 32
	dirEntNameLen = 28 // 27 bytes + NUL terminator
)

// SuperBlock is block 0 of a formatted image, per spec.md §3.
type SuperBlock struct {
	Magic            uint32
	TotalBlocks      uint32
	InodeBitmapBlocks uint32
	InodeAreaBlocks  uint32
	DataBitmapBlocks uint32
	DataAreaBlocks   uint32
}

const superBlockBytes = 4 * 6

// IsValid reports whether the superblock carries the expected magic, per
// spec.md §4.9 "a corrupt superblock magic fails open".
func (s *SuperBlock) IsValid() bool { return s.Magic == Magic }

func (s *SuperBlock) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], s.Magic)
	binary.LittleEndian.PutUint32(b[4:8], s.TotalBlocks)
	binary.LittleEndian.PutUint32(b[8:12], s.InodeBitmapBlocks)
	binary.LittleEndian.PutUint32(b[12:16], s.InodeAreaBlocks)
	binary.LittleEndian.PutUint32(b[16:20], s.DataBitmapBlocks)
	binary.LittleEndian.PutUint32(b[20:24], s.DataAreaBlocks)
}

func decodeSuperBlock(b []byte) SuperBlock {
	return SuperBlock{
		Magic:             binary.LittleEndian.Uint32(b[0:4]),
		TotalBlocks:       binary.LittleEndian.Uint32(b[4:8]),
		InodeBitmapBlocks: binary.LittleEndian.Uint32(b[8:12]),
		InodeAreaBlocks:   binary.LittleEndian.Uint32(b[12:16]),
		DataBitmapBlocks:  binary.LittleEndian.Uint32(b[16:20]),
		DataAreaBlocks:    binary.LittleEndian.Uint32(b[20:24]),
	}
}

// InodeKind distinguishes a DiskInode's file type.
type InodeKind uint8

const (
	InodeKindFile InodeKind = iota
	InodeKindDirectory
)

// DiskInode is the fixed-layout on-disk inode record of spec.md §3.
type DiskInode struct {
	Size      uint32
	Direct    [InodeDirectCount]uint32
	Indirect1 uint32
	Indirect2 uint32
	Kind      InodeKind
}

// IsDir reports whether this inode is a directory.
func (d *DiskInode) IsDir() bool { return d.Kind == InodeKindDirectory }

// IsFile reports whether this inode is a regular file.
func (d *DiskInode) IsFile() bool { return d.Kind == InodeKindFile }

func (d *DiskInode) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], d.Size)
	off := 4
	for i := 0; i < InodeDirectCount; i++ {
		binary.LittleEndian.PutUint32(b[off:off+4], d.Direct[i])
		off += 4
	}
	binary.LittleEndian.PutUint32(b[off:off+4], d.Indirect1)
	off += 4
	binary.LittleEndian.PutUint32(b[off:off+4], d.Indirect2)
	off += 4
	b[off] = byte(d.Kind)
}

func decodeDiskInode(b []byte) DiskInode {
	var d DiskInode
	d.Size = binary.LittleEndian.Uint32(b[0:4])
	off := 4
	for i := 0; i < InodeDirectCount; i++ {
		d.Direct[i] = binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
	}
	d.Indirect1 = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	d.Indirect2 = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	d.Kind = InodeKind(b[off])
	return d
}

// TotalDataBlocks returns ceil(size / BlockSize), per spec.md §4.9
// total_blocks(size).
func TotalDataBlocks(size uint32) uint32 {
	return (size + blockdev.BlockSize - 1) / blockdev.BlockSize
}

// TotalBlocks returns the number of blocks (data plus any index blocks)
// needed to hold size bytes, per spec.md §4.9.
func TotalBlocks(size uint32) uint32 {
	data := TotalDataBlocks(size)
	total := data
	if data > InodeDirectCount {
		total++ // indirect1 block itself
	}
	if data > indirect1Bound {
		total++ // indirect2 block itself
		rest := data - indirect1Bound
		total += (rest + InodeIndirect1Count - 1) / InodeIndirect1Count
	}
	return total
}

// BlocksNumNeeded returns how many additional blocks growing to newSize
// requires, per spec.md §4.9 blocks_num_needed().
func (d *DiskInode) BlocksNumNeeded(newSize uint32) uint32 {
	return TotalBlocks(newSize) - TotalBlocks(d.Size)
}

// indirectBlock is one index block: 128 u32 entries filling a 512-byte
// block.
type indirectBlock [InodeIndirect1Count]uint32

func decodeIndirect(b []byte) indirectBlock {
	var ib indirectBlock
	for i := range ib {
		ib[i] = binary.LittleEndian.Uint32(b[i*4 : i*4+4])
	}
	return ib
}

func (ib *indirectBlock) encode(b []byte) {
	for i, v := range ib {
		binary.LittleEndian.PutUint32(b[i*4:i*4+4], v)
	}
}

// DirEntry is one packed 32-byte directory record, per spec.md §3/§6.
type DirEntry struct {
	name  [dirEntNameLen]byte
	Inode uint32
}

// NewDirEntry builds a DirEntry, truncating name to the on-disk limit (27
// bytes plus terminator) if necessary.
func NewDirEntry(name string, inode uint32) DirEntry {
	var e DirEntry
	n := copy(e.name[:dirEntNameLen-1], name)
	e.name[n] = 0
	e.Inode = inode
	return e
}

// Name returns the entry's null-terminated name as a Go string.
func (e DirEntry) Name() string {
	n := 0
	for n < len(e.name) && e.name[n] != 0 {
		n++
	}
	return string(e.name[:n])
}

func (e *DirEntry) encode(b []byte) {
	copy(b[0:dirEntNameLen], e.name[:])
	binary.LittleEndian.PutUint32(b[dirEntNameLen:DirEntBytes], e.Inode)
}

func decodeDirEntry(b []byte) DirEntry {
	var e DirEntry
	copy(e.name[:], b[0:dirEntNameLen])
	e.Inode = binary.LittleEndian.Uint32(b[dirEntNameLen:DirEntBytes])
	return e
}

func checkLen(b []byte, n int, what string) error {
	if len(b) < n {
		return fmt.Errorf("fs: %s needs %d bytes, got %d", what, n, len(b))
	}
	return nil
}

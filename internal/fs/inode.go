package fs

import (
	"errors"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/teaching-os/rvkernel/internal/blockdev"
)

// normalizeName applies Unicode NFC normalization to a directory-entry
// name before it is stored or compared, so that visually identical names
// built from different combining-character sequences (e.g. precomposed
// "é" versus "e" + combining acute) collide on lookup rather than silently
// coexisting as distinct entries.
func normalizeName(name string) string {
	return norm.NFC.String(name)
}

// ErrNotEmpty is the policy error of spec.md §7 (-3): Delete refuses a
// directory whose size is not zero.
var ErrNotEmpty = errors.New("fs: directory not empty")

const blockSize32 = uint32(blockdev.BlockSize)

// Inode is a handle to one on-disk DiskInode: its block location plus a
// back-reference to the owning FileSystem, per spec.md §4.9's Inode
// concept (the "in-kernel inode wrapper" component glues this onto the
// file trait in internal/fd).
type Inode struct {
	fs          *FileSystem
	blockID     uint64
	blockOffset int
}

// ID returns this inode's id, the inverse of FileSystem.DiskInodePosition.
func (ino *Inode) ID() uint32 {
	return uint32((ino.blockID-ino.fs.inodeAreaStart)*inodesPerBlock) + uint32(ino.blockOffset/DiskInodeBytes)
}

func (ino *Inode) readDisk() (DiskInode, error) {
	h, err := ino.fs.cache.Get(ino.fs.dev, ino.blockID)
	if err != nil {
		return DiskInode{}, err
	}
	defer h.Release()
	return decodeDiskInode(h.Bytes()[ino.blockOffset : ino.blockOffset+DiskInodeBytes]), nil
}

func (ino *Inode) modifyDisk(fn func(*DiskInode)) error {
	return ino.modifyDiskErr(func(d *DiskInode) error {
		fn(d)
		return nil
	})
}

// modifyDiskErr reads the DiskInode, runs fn on a copy, and writes the copy
// back dirty. The inode block's handle is not held while fn runs, since fn
// may itself fetch data and index blocks through the cache.
func (ino *Inode) modifyDiskErr(fn func(*DiskInode) error) error {
	d, err := ino.readDisk()
	if err != nil {
		return err
	}
	ferr := fn(&d)
	h, err := ino.fs.cache.Get(ino.fs.dev, ino.blockID)
	if err != nil {
		return err
	}
	defer h.Release()
	d.encode(h.Bytes()[ino.blockOffset : ino.blockOffset+DiskInodeBytes])
	h.MarkDirty()
	return ferr
}

// IsDir reports whether this inode is a directory.
func (ino *Inode) IsDir() bool {
	d, _ := ino.readDisk()
	return d.IsDir()
}

// IsFile reports whether this inode is a regular file.
func (ino *Inode) IsFile() bool {
	d, _ := ino.readDisk()
	return d.IsFile()
}

// Size returns the inode's current byte size.
func (ino *Inode) Size() uint32 {
	d, _ := ino.readDisk()
	return d.Size
}

func getBlockID(ino *Inode, d *DiskInode, innerID uint32) (uint32, error) {
	switch {
	case innerID < InodeDirectCount:
		return d.Direct[innerID], nil
	case innerID < indirect1Bound:
		h, err := ino.fs.cache.Get(ino.fs.dev, uint64(d.Indirect1))
		if err != nil {
			return 0, err
		}
		defer h.Release()
		ib := decodeIndirect(h.Bytes()[:])
		return ib[innerID-InodeDirectCount], nil
	default:
		last := innerID - indirect1Bound
		h2, err := ino.fs.cache.Get(ino.fs.dev, uint64(d.Indirect2))
		if err != nil {
			return 0, err
		}
		ib2 := decodeIndirect(h2.Bytes()[:])
		h2.Release()
		ptr := ib2[last/InodeIndirect1Count]
		h1, err := ino.fs.cache.Get(ino.fs.dev, uint64(ptr))
		if err != nil {
			return 0, err
		}
		defer h1.Release()
		ib1 := decodeIndirect(h1.Bytes()[:])
		return ib1[last%InodeIndirect1Count], nil
	}
}

// increaseSize grows d to newSize, consuming blocks from newBlocks (which
// must contain exactly d.BlocksNumNeeded(newSize) entries, in the order
// direct slots, then indirect1 itself, then indirect1 contents, then
// indirect2 itself, then each second-level indirect1 block and its
// contents) per spec.md §4.9 increase_size(), grounded in
// original_source/file_system/src/layout.rs's DiskInode.
func increaseSize(ino *Inode, d *DiskInode, newSize uint32, newBlocks []uint32) error {
	next := 0
	take := func() uint32 { v := newBlocks[next]; next++; return v }

	currentBlocks := TotalDataBlocks(d.Size)
	d.Size = newSize
	totalBlocks := TotalDataBlocks(newSize)

	for currentBlocks < min32(totalBlocks, InodeDirectCount) {
		d.Direct[currentBlocks] = take()
		currentBlocks++
	}
	if totalBlocks <= InodeDirectCount {
		return nil
	}
	if currentBlocks == InodeDirectCount {
		d.Indirect1 = take()
	}
	currentBlocks -= InodeDirectCount
	totalBlocks -= InodeDirectCount

	if err := ino.fs.withIndirect(d.Indirect1, func(ib *indirectBlock) {
		for currentBlocks < min32(totalBlocks, InodeIndirect1Count) {
			ib[currentBlocks] = take()
			currentBlocks++
		}
	}); err != nil {
		return err
	}
	if totalBlocks <= InodeIndirect1Count {
		return nil
	}
	if currentBlocks == InodeIndirect1Count {
		d.Indirect2 = take()
	}
	currentBlocks -= InodeIndirect1Count
	totalBlocks -= InodeIndirect1Count

	a0, b0 := currentBlocks/InodeIndirect1Count, currentBlocks%InodeIndirect1Count
	a1, b1 := totalBlocks/InodeIndirect1Count, totalBlocks%InodeIndirect1Count

	var ib2 indirectBlock
	if err := ino.fs.withIndirect(d.Indirect2, func(b *indirectBlock) { ib2 = *b }); err != nil {
		return err
	}
	for a0 < a1 || (a0 == a1 && b0 < b1) {
		if b0 == 0 {
			ib2[a0] = take()
		}
		_ = ino.fs.withIndirect(ib2[a0], func(ib1 *indirectBlock) {
			ib1[b0] = take()
		})
		b0++
		if b0 == InodeIndirect1Count {
			b0 = 0
			a0++
		}
	}
	return ino.fs.withIndirect(d.Indirect2, func(b *indirectBlock) { *b = ib2 })
}

// clearSize frees every data and index block referenced by d, zeroing its
// size/direct/indirect fields, and returns the absolute block ids the
// caller must release via FileSystem.DeallocData, per spec.md §4.9
// clear_size().
func clearSize(ino *Inode, d *DiskInode) []uint32 {
	var freed []uint32
	dataBlocks := TotalDataBlocks(d.Size)
	d.Size = 0
	current := uint32(0)

	for current < min32(dataBlocks, InodeDirectCount) {
		freed = append(freed, d.Direct[current])
		d.Direct[current] = 0
		current++
	}
	if dataBlocks <= InodeDirectCount {
		return freed
	}
	freed = append(freed, d.Indirect1)
	dataBlocks -= InodeDirectCount
	current = 0

	ino.fs.withIndirect(d.Indirect1, func(ib *indirectBlock) {
		for current < min32(dataBlocks, InodeIndirect1Count) {
			freed = append(freed, ib[current])
			current++
		}
	})
	d.Indirect1 = 0

	if dataBlocks <= InodeIndirect1Count {
		return freed
	}
	freed = append(freed, d.Indirect2)
	dataBlocks -= InodeIndirect1Count

	a1, b1 := dataBlocks/InodeIndirect1Count, dataBlocks%InodeIndirect1Count
	var ib2 indirectBlock
	ino.fs.withIndirect(d.Indirect2, func(b *indirectBlock) { ib2 = *b })
	for i := uint32(0); i < a1; i++ {
		freed = append(freed, ib2[i])
		ino.fs.withIndirect(ib2[i], func(ib1 *indirectBlock) {
			freed = append(freed, ib1[:]...)
		})
	}
	if b1 > 0 {
		freed = append(freed, ib2[a1])
		ino.fs.withIndirect(ib2[a1], func(ib1 *indirectBlock) {
			freed = append(freed, ib1[:b1]...)
		})
	}
	d.Indirect2 = 0
	return freed
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// withIndirect loads the index block at absolute block id blk, lets fn
// mutate it, and writes it back dirty.
func (f *FileSystem) withIndirect(blk uint32, fn func(*indirectBlock)) error {
	h, err := f.cache.Get(f.dev, uint64(blk))
	if err != nil {
		return err
	}
	defer h.Release()
	ib := decodeIndirect(h.Bytes()[:])
	fn(&ib)
	ib.encode(h.Bytes()[:])
	h.MarkDirty()
	return nil
}

// ReadAt copies min(len(buf), size-offset) bytes starting at offset into
// buf, per spec.md §4.9 read_at().
func (ino *Inode) ReadAt(offset uint32, buf []byte) (int, error) {
	d, err := ino.readDisk()
	if err != nil {
		return 0, err
	}
	if offset >= d.Size {
		return 0, nil
	}
	end := offset + uint32(len(buf))
	if end > d.Size {
		end = d.Size
	}
	read := 0
	for offset < end {
		blockOff := offset % blockSize32
		innerID := offset / blockSize32
		n := blockSize32 - blockOff
		if want := end - offset; n > want {
			n = want
		}
		absBlk, err := getBlockID(ino, &d, innerID)
		if err != nil {
			return read, err
		}
		h, err := ino.fs.cache.Get(ino.fs.dev, uint64(absBlk))
		if err != nil {
			return read, err
		}
		copy(buf[read:read+int(n)], h.Bytes()[blockOff:blockOff+n])
		h.Release()
		read += int(n)
		offset += n
	}
	return read, nil
}

// WriteAt copies buf into the file starting at offset, per spec.md §4.9
// write_at(). The caller must have already grown the inode to cover
// [offset, offset+len(buf)) via increaseSize.
func (ino *Inode) WriteAt(offset uint32, buf []byte) (int, error) {
	written := 0
	err := ino.modifyDiskErr(func(d *DiskInode) error {
		end := offset + uint32(len(buf))
		pos := offset
		for pos < end {
			blockOff := pos % blockSize32
			innerID := pos / blockSize32
			n := blockSize32 - blockOff
			if want := end - pos; n > want {
				n = want
			}
			absBlk, err := getBlockID(ino, d, innerID)
			if err != nil {
				return err
			}
			h, err := ino.fs.cache.Get(ino.fs.dev, uint64(absBlk))
			if err != nil {
				return err
			}
			copy(h.Bytes()[blockOff:blockOff+n], buf[pos-offset:pos-offset+n])
			h.MarkDirty()
			h.Release()
			pos += n
		}
		if end > d.Size {
			d.Size = end
		}
		written = int(end - offset)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// Grow ensures the inode can hold newSize bytes, allocating data/index
// blocks as needed. It is the Go counterpart of vfs.rs's Inode::increase_size
// wrapper, which first asks the FileSystem for exactly as many fresh
// blocks as blocks_num_needed reports.
func (ino *Inode) Grow(newSize uint32) error {
	d, err := ino.readDisk()
	if err != nil {
		return err
	}
	if newSize <= d.Size {
		return nil
	}
	need := d.BlocksNumNeeded(newSize)
	blocks := make([]uint32, 0, need)
	for i := uint32(0); i < need; i++ {
		b, err := ino.fs.AllocData()
		if err != nil {
			return fmt.Errorf("fs: grow: %w", err)
		}
		blocks = append(blocks, b)
	}
	return ino.modifyDiskErr(func(d *DiskInode) error {
		return increaseSize(ino, d, newSize, blocks)
	})
}

// Clear frees every data block this (file) inode holds, per spec.md §4.9
// Inode::clear.
func (ino *Inode) Clear() error {
	var freed []uint32
	err := ino.modifyDisk(func(d *DiskInode) {
		if !d.IsFile() {
			panic("fs: clear on non-file inode")
		}
		freed = clearSize(ino, d)
	})
	if err != nil {
		return err
	}
	for _, b := range freed {
		if err := ino.fs.DeallocData(b); err != nil {
			return err
		}
	}
	return nil
}

// findInodeID scans this directory's entries for name, returning its
// inode id.
func (ino *Inode) findInodeID(name string) (uint32, bool, error) {
	name = normalizeName(name)
	d, err := ino.readDisk()
	if err != nil {
		return 0, false, err
	}
	if !d.IsDir() {
		panic("fs: findInodeID on non-directory inode")
	}
	count := d.Size / DirEntBytes
	buf := make([]byte, DirEntBytes)
	for i := uint32(0); i < count; i++ {
		n, err := ino.ReadAt(i*DirEntBytes, buf)
		if err != nil || n != DirEntBytes {
			return 0, false, fmt.Errorf("fs: short dirent read")
		}
		e := decodeDirEntry(buf)
		if e.Name() == name {
			return e.Inode, true, nil
		}
	}
	return 0, false, nil
}

// Find looks up name within this directory.
func (ino *Inode) Find(name string) (*Inode, bool, error) {
	id, ok, err := ino.findInodeID(name)
	if err != nil || !ok {
		return nil, false, err
	}
	blk, off := ino.fs.DiskInodePosition(id)
	return &Inode{fs: ino.fs, blockID: blk, blockOffset: off}, true, nil
}

func (ino *Inode) createInode(name string, kind InodeKind) (*Inode, error) {
	name = normalizeName(name)
	if _, exists, err := ino.findInodeID(name); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("fs: %q already exists", name)
	}

	newID, err := ino.fs.AllocInode()
	if err != nil {
		return nil, err
	}
	blk, off := ino.fs.DiskInodePosition(newID)
	child := &Inode{fs: ino.fs, blockID: blk, blockOffset: off}
	if err := child.modifyDisk(func(d *DiskInode) { *d = DiskInode{Kind: kind} }); err != nil {
		return nil, err
	}

	d, err := ino.readDisk()
	if err != nil {
		return nil, err
	}
	count := d.Size / DirEntBytes
	newSize := (count + 1) * DirEntBytes
	if err := ino.Grow(newSize); err != nil {
		return nil, err
	}
	e := NewDirEntry(name, newID)
	buf := make([]byte, DirEntBytes)
	e.encode(buf)
	if _, err := ino.WriteAt(count*DirEntBytes, buf); err != nil {
		return nil, err
	}
	if err := ino.fs.cache.SyncAll(); err != nil {
		return nil, err
	}
	return child, nil
}

// Create makes a regular file named name in this directory, per spec.md
// §4.9 "Create: caller verifies absence, allocates a fresh inode...".
func (ino *Inode) Create(name string) (*Inode, error) {
	return ino.createInode(name, InodeKindFile)
}

// Mkdir makes a directory named name in this directory.
func (ino *Inode) Mkdir(name string) (*Inode, error) {
	return ino.createInode(name, InodeKindDirectory)
}

// Ls lists this directory's entry names.
func (ino *Inode) Ls() ([]string, error) {
	d, err := ino.readDisk()
	if err != nil {
		return nil, err
	}
	if d.IsFile() {
		return nil, nil
	}
	count := d.Size / DirEntBytes
	names := make([]string, 0, count)
	buf := make([]byte, DirEntBytes)
	for i := uint32(0); i < count; i++ {
		if _, err := ino.ReadAt(i*DirEntBytes, buf); err != nil {
			return nil, err
		}
		names = append(names, decodeDirEntry(buf).Name())
	}
	return names, nil
}

// Delete removes name from this directory, per spec.md §4.9 Delete and §7
// (refuses non-empty directories with a policy error). It returns
// (removed, error): removed is false with a nil error if name does not
// exist; an error wraps ErrNotEmpty if the target is a non-empty directory.
func (ino *Inode) Delete(name string) (bool, error) {
	id, ok, err := ino.findInodeID(name)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	blk, off := ino.fs.DiskInodePosition(id)
	target := &Inode{fs: ino.fs, blockID: blk, blockOffset: off}

	td, err := target.readDisk()
	if err != nil {
		return false, err
	}
	if td.IsDir() && td.Size != 0 {
		return false, ErrNotEmpty
	}
	if td.IsFile() {
		if err := target.Clear(); err != nil {
			return false, err
		}
	}
	if err := ino.fs.DeallocInode(id); err != nil {
		return false, err
	}

	d, err := ino.readDisk()
	if err != nil {
		return false, err
	}
	count := int(d.Size / DirEntBytes)
	buf := make([]byte, DirEntBytes)
	foundIndex := -1
	for i := 0; i < count; i++ {
		if _, err := ino.ReadAt(uint32(i)*DirEntBytes, buf); err != nil {
			return false, err
		}
		if decodeDirEntry(buf).Name() == name {
			foundIndex = i
			break
		}
	}
	if foundIndex >= 0 {
		if foundIndex < count-1 {
			last := make([]byte, DirEntBytes)
			if _, err := ino.ReadAt(uint32(count-1)*DirEntBytes, last); err != nil {
				return false, err
			}
			if _, err := ino.WriteAt(uint32(foundIndex)*DirEntBytes, last); err != nil {
				return false, err
			}
		}
		if err := ino.modifyDisk(func(d *DiskInode) { d.Size = uint32(count-1) * DirEntBytes }); err != nil {
			return false, err
		}
	}
	if err := ino.fs.cache.SyncAll(); err != nil {
		return false, err
	}
	return true, nil
}

package fs

import (
	"fmt"
	"sync"

	"github.com/teaching-os/rvkernel/internal/blockcache"
	"github.com/teaching-os/rvkernel/internal/blockdev"
)

const inodesPerBlock = blockdev.BlockSize / DiskInodeBytes

// FileSystem is the top-level on-disk file system object of spec.md §4.9:
// superblock plus inode/data bitmaps plus the block cache used to reach
// everything else.
type FileSystem struct {
	mu sync.Mutex

	dev   blockdev.Device
	cache *blockcache.Cache

	super SuperBlock

	inodeBitmap Bitmap
	dataBitmap  Bitmap

	inodeAreaStart uint64
	dataAreaStart  uint64
}

// Format writes a clean superblock, bitmaps, and a root directory inode at
// inode 0, per spec.md §4.9 format(). totalBlocks is the image size;
// inodeBitmapBlocks sizes the inode bitmap, and the inode area is sized to
// exactly cover the bits the inode bitmap can address (one inode per bit).
func Format(dev blockdev.Device, cache *blockcache.Cache, totalBlocks uint64, inodeBitmapBlocks uint64) (*FileSystem, error) {
	inodeBitmap := NewBitmap(1, inodeBitmapBlocks)
	inodeNum := inodeBitmap.Maximum()
	inodeAreaBlocks := (inodeNum*uint64(DiskInodeBytes) + blockdev.BlockSize - 1) / blockdev.BlockSize

	usedSoFar := 1 + inodeBitmapBlocks + inodeAreaBlocks
	if usedSoFar >= totalBlocks {
		return nil, fmt.Errorf("fs: image too small for inode area")
	}
	remaining := totalBlocks - usedSoFar
	// Reserve 1 data-bitmap block per 4096 data blocks it can describe,
	// plus the data bitmap itself, per spec.md §3 layout.
	dataBitmapBlocks := (remaining + blockBits) / (blockBits + 1)
	if dataBitmapBlocks == 0 {
		dataBitmapBlocks = 1
	}
	dataAreaBlocks := remaining - dataBitmapBlocks

	fsys := &FileSystem{
		dev:   dev,
		cache: cache,
		super: SuperBlock{
			Magic:             Magic,
			TotalBlocks:       uint32(totalBlocks),
			InodeBitmapBlocks: uint32(inodeBitmapBlocks),
			InodeAreaBlocks:   uint32(inodeAreaBlocks),
			DataBitmapBlocks:  uint32(dataBitmapBlocks),
			DataAreaBlocks:    uint32(dataAreaBlocks),
		},
		inodeBitmap:    inodeBitmap,
		dataBitmap:     NewBitmap(1+inodeBitmapBlocks+inodeAreaBlocks, dataBitmapBlocks),
		inodeAreaStart: 1 + inodeBitmapBlocks,
		dataAreaStart:  1 + inodeBitmapBlocks + inodeAreaBlocks + dataBitmapBlocks,
	}

	// Zero every block this filesystem claims, since a freshly created
	// blockdev.Memory/File may carry stale bytes.
	var zero [blockdev.BlockSize]byte
	for i := uint64(0); i < totalBlocks; i++ {
		if err := dev.WriteBlock(i, &zero); err != nil {
			return nil, fmt.Errorf("fs: zero block %d: %w", i, err)
		}
	}

	root, err := fsys.AllocInode()
	if err != nil {
		return nil, err
	}
	if root != 0 {
		panic("fs: root inode must be 0 on a fresh format")
	}
	blockID, off := fsys.DiskInodePosition(root)
	h, err := cache.Get(dev, blockID)
	if err != nil {
		return nil, err
	}
	di := DiskInode{Kind: InodeKindDirectory}
	di.encode(h.Bytes()[off : off+DiskInodeBytes])
	h.MarkDirty()
	h.Release()

	sb, err := cache.Get(dev, 0)
	if err != nil {
		return nil, err
	}
	fsys.super.encode(sb.Bytes()[:superBlockBytes])
	sb.MarkDirty()
	sb.Release()

	if err := cache.SyncAll(); err != nil {
		return nil, err
	}
	return fsys, nil
}

// Open validates the superblock magic and reconstructs bitmap handles, per
// spec.md §4.9 open().
func Open(dev blockdev.Device, cache *blockcache.Cache) (*FileSystem, error) {
	h, err := cache.Get(dev, 0)
	if err != nil {
		return nil, err
	}
	super := decodeSuperBlock(h.Bytes()[:superBlockBytes])
	h.Release()

	if !super.IsValid() {
		return nil, fmt.Errorf("fs: invalid superblock magic")
	}

	inodeBitmap := NewBitmap(1, uint64(super.InodeBitmapBlocks))
	dataBitmapStart := 1 + uint64(super.InodeBitmapBlocks) + uint64(super.InodeAreaBlocks)
	return &FileSystem{
		dev:            dev,
		cache:          cache,
		super:          super,
		inodeBitmap:    inodeBitmap,
		dataBitmap:     NewBitmap(dataBitmapStart, uint64(super.DataBitmapBlocks)),
		inodeAreaStart: 1 + uint64(super.InodeBitmapBlocks),
		dataAreaStart:  dataBitmapStart + uint64(super.DataBitmapBlocks),
	}, nil
}

// AllocInode allocates a fresh inode id, per spec.md §4.9 alloc_inode().
func (f *FileSystem) AllocInode() (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok, err := f.inodeBitmap.Alloc(f.cache, f.dev)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("fs: out of inodes")
	}
	return uint32(id), nil
}

// DeallocInode frees inode id, per spec.md §4.9 dealloc_inode().
func (f *FileSystem) DeallocInode(id uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inodeBitmap.Dealloc(f.cache, f.dev, uint64(id))
}

// AllocData allocates a fresh data block id (relative to the start of the
// device, not the data area), per spec.md §4.9 alloc_data().
func (f *FileSystem) AllocData() (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok, err := f.dataBitmap.Alloc(f.cache, f.dev)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("fs: out of space")
	}
	return uint32(f.dataAreaStart) + uint32(id), nil
}

// DeallocData frees data block blk (an absolute block id as returned by
// AllocData), per spec.md §4.9 dealloc_data().
func (f *FileSystem) DeallocData(blk uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rel := uint64(blk) - f.dataAreaStart
	return f.dataBitmap.Dealloc(f.cache, f.dev, rel)
}

// DiskInodePosition returns the (block id, byte offset within block) of
// inode id, per spec.md §4.9 disk_inode_position().
func (f *FileSystem) DiskInodePosition(id uint32) (uint64, int) {
	blk := f.inodeAreaStart + uint64(id)/inodesPerBlock
	off := int(uint64(id)%inodesPerBlock) * DiskInodeBytes
	return blk, off
}

// RootInode returns a handle to inode 0, the root directory, per spec.md
// §4.9 root_inode().
func (f *FileSystem) RootInode() *Inode {
	blk, off := f.DiskInodePosition(0)
	return &Inode{fs: f, blockID: blk, blockOffset: off}
}

// Device exposes the underlying block device, for callers (e.g. mkfs) that
// need to flush or close it.
func (f *FileSystem) Device() blockdev.Device { return f.dev }

// Cache exposes the underlying block cache, for sync_all callers.
func (f *FileSystem) Cache() *blockcache.Cache { return f.cache }

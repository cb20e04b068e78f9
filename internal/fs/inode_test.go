package fs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teaching-os/rvkernel/internal/blockcache"
	"github.com/teaching-os/rvkernel/internal/blockdev"
)

// newBigTestFS mirrors newTestFS (path_test.go) but sizes the image large
// enough to exercise double-indirect growth (spec.md §8 scenario 2 needs
// 512*(28+128+1) bytes of data plus its index blocks).
func newBigTestFS(t *testing.T) *FileSystem {
	t.Helper()
	dev := blockdev.NewMemory(8192)
	cache := blockcache.New(64)
	f, err := Format(dev, cache, 8192, 1)
	require.NoError(t, err)
	return f
}

// growAndWrite grows ino to cover [0, len(data)) and writes data, the
// sequence spec.md §4.9 requires ("write may not extend the file; callers
// ensure the inode has been grown first").
func growAndWrite(t *testing.T, ino *Inode, data []byte) {
	t.Helper()
	require.NoError(t, ino.Grow(uint32(len(data))))
	n, err := ino.WriteAt(0, data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
}

// TestFormatThenMountRoundTrip is spec.md §8 scenario 1: format a
// 4096-block image with 1 inode-bitmap block, mount it, create a file,
// and list the root directory.
func TestFormatThenMountRoundTrip(t *testing.T) {
	dev := blockdev.NewMemory(4096)
	cache := blockcache.New(32)

	fsys, err := Format(dev, cache, 4096, 1)
	require.NoError(t, err)

	root := fsys.RootInode()
	names, err := root.Ls()
	require.NoError(t, err)
	require.Empty(t, names)

	_, err = root.Create("hello")
	require.NoError(t, err)

	names, err = root.Ls()
	require.NoError(t, err)
	require.Equal(t, []string{"hello"}, names)

	// Re-open the same device and confirm the directory entry persisted.
	reopened, err := Open(dev, cache)
	require.NoError(t, err)
	names, err = reopened.RootInode().Ls()
	require.NoError(t, err)
	require.Equal(t, []string{"hello"}, names)
}

// TestOpenRejectsCorruptSuperblock covers spec.md §4.9/§7 "a corrupt
// superblock magic fails open."
func TestOpenRejectsCorruptSuperblock(t *testing.T) {
	dev := blockdev.NewMemory(64)
	cache := blockcache.New(8)
	_, err := Open(dev, cache)
	require.Error(t, err)
}

// TestInodeMultiLevelIndex is spec.md §8 scenario 2: writing 29 blocks of
// pattern 0xAA lands block 28 in the single-indirect table and reads back
// correctly; growing to 512*(28+128+1) bytes exercises the double-indirect
// table and its last block remains readable.
func TestInodeMultiLevelIndex(t *testing.T) {
	fsys := newBigTestFS(t)
	root := fsys.RootInode()
	file, err := root.Create("big")
	require.NoError(t, err)

	pattern := bytes.Repeat([]byte{0xAA}, 29*blockdev.BlockSize)
	growAndWrite(t, file, pattern)

	buf := make([]byte, blockdev.BlockSize)
	n, err := file.ReadAt(28*blockdev.BlockSize, buf)
	require.NoError(t, err)
	require.Equal(t, blockdev.BlockSize, n)
	require.Equal(t, bytes.Repeat([]byte{0xAA}, blockdev.BlockSize), buf)

	total := (InodeDirectCount + InodeIndirect1Count + 1) * blockdev.BlockSize
	full := bytes.Repeat([]byte{0xAA}, total)
	require.NoError(t, file.Grow(uint32(total)))
	_, err = file.WriteAt(29*blockdev.BlockSize, full[29*blockdev.BlockSize:])
	require.NoError(t, err)

	lastBlockOffset := (InodeDirectCount + InodeIndirect1Count) * blockdev.BlockSize
	last := make([]byte, blockdev.BlockSize)
	n, err = file.ReadAt(uint32(lastBlockOffset), last)
	require.NoError(t, err)
	require.Equal(t, blockdev.BlockSize, n)
	require.Equal(t, bytes.Repeat([]byte{0xAA}, blockdev.BlockSize), last)
}

// TestTotalBlocksIndexArithmetic pins down the direct/indirect1/indirect2
// boundary arithmetic spec.md §9's Open Question decision fixes: the inner
// modulus of the double-indirect table must use InodeIndirect1Count (128)
// consistently, not InodeDirectCount.
func TestTotalBlocksIndexArithmetic(t *testing.T) {
	bs := uint32(blockdev.BlockSize)
	require.Equal(t, uint32(28), TotalBlocks(28*bs))
	require.Equal(t, uint32(30), TotalBlocks(29*bs)) // 29 data + 1 indirect1 block
	require.Equal(t, uint32(157), TotalBlocks(156*bs)) // fills indirect1 exactly
	require.Equal(t, uint32(160), TotalBlocks(157*bs)) // one block into indirect2
}

// TestInodeClearFreesExactlyWhatIncreaseSizeAllocated is spec.md §8's
// universal inode property: clear_size frees exactly the blocks
// increase_size consumed.
func TestInodeClearFreesExactlyWhatIncreaseSizeAllocated(t *testing.T) {
	fsys := newBigTestFS(t)
	root := fsys.RootInode()
	file, err := root.Create("f")
	require.NoError(t, err)

	before, err := fsys.AllocData()
	require.NoError(t, err)
	require.NoError(t, fsys.DeallocData(before))

	size := (InodeDirectCount + InodeIndirect1Count + 1) * blockdev.BlockSize
	growAndWrite(t, file, bytes.Repeat([]byte{0x01}, size))
	require.NoError(t, file.Clear())

	after, err := fsys.AllocData()
	require.NoError(t, err)
	require.NoError(t, fsys.DeallocData(after))
	require.Equal(t, before, after)
}

// TestDirectoryDeleteRefusesNonEmpty is spec.md §8 scenario 3: mkdir("/a"),
// create("/a/b"): delete("/","a") fails (directory not empty);
// delete("/a","b") then delete("/","a") both succeed, and the inode bitmap
// counter returns to its pre-mkdir value. Directory data blocks are not
// reclaimed when a directory shrinks, so the data bitmap is not checked.
func TestDirectoryDeleteRefusesNonEmpty(t *testing.T) {
	fsys := newBigTestFS(t)
	root := fsys.RootInode()

	allocThenFreeInode := func() uint32 {
		id, err := fsys.AllocInode()
		require.NoError(t, err)
		require.NoError(t, fsys.DeallocInode(id))
		return id
	}
	baselineInode := allocThenFreeInode()

	a, err := root.Mkdir("a")
	require.NoError(t, err)
	_, err = a.Create("b")
	require.NoError(t, err)

	_, err = root.Delete("a")
	require.ErrorIs(t, err, ErrNotEmpty)

	removed, err := a.Delete("b")
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = root.Delete("a")
	require.NoError(t, err)
	require.True(t, removed)

	names, err := root.Ls()
	require.NoError(t, err)
	require.Empty(t, names)

	require.Equal(t, baselineInode, allocThenFreeInode())
}

// TestDirectoryDeleteMissingNameIsNoop covers Delete's "removed is false
// with a nil error if name does not exist" contract.
func TestDirectoryDeleteMissingNameIsNoop(t *testing.T) {
	fsys := newBigTestFS(t)
	root := fsys.RootInode()
	removed, err := root.Delete("missing")
	require.NoError(t, err)
	require.False(t, removed)
}

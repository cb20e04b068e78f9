package fs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teaching-os/rvkernel/internal/blockcache"
	"github.com/teaching-os/rvkernel/internal/blockdev"
)

// TestBitmapAllocReturnsSmallestClearBit exercises spec.md §8's universal
// bitmap property directly against Bitmap, independent of FileSystem: Alloc
// must return the lowest clear bit across the region, scanning blocks then
// words in order.
func TestBitmapAllocReturnsSmallestClearBit(t *testing.T) {
	dev := blockdev.NewMemory(4)
	cache := blockcache.New(4)
	bm := NewBitmap(0, 2)

	var got []uint64
	for i := 0; i < 5; i++ {
		bit, ok, err := bm.Alloc(cache, dev)
		require.NoError(t, err)
		require.True(t, ok)
		got = append(got, bit)
	}
	require.Equal(t, []uint64{0, 1, 2, 3, 4}, got)
}

// TestBitmapDeallocRestoresLatestAllocation mirrors spec.md §8's
// alloc/dealloc round trip: freeing the most recently allocated bit makes
// it the next one Alloc returns.
func TestBitmapDeallocRestoresLatestAllocation(t *testing.T) {
	dev := blockdev.NewMemory(4)
	cache := blockcache.New(4)
	bm := NewBitmap(0, 2)

	for i := 0; i < 3; i++ {
		_, ok, err := bm.Alloc(cache, dev)
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.NoError(t, bm.Dealloc(cache, dev, 2))

	bit, ok, err := bm.Alloc(cache, dev)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), bit)
}

// TestBitmapAllocCrossesBlockBoundary confirms Alloc keeps scanning into the
// next bitmap block once the first is exhausted, rather than stopping at a
// single block's 4096 bits.
func TestBitmapAllocCrossesBlockBoundary(t *testing.T) {
	dev := blockdev.NewMemory(2)
	cache := blockcache.New(2)
	bm := NewBitmap(0, 2)

	for i := uint64(0); i < blockBits; i++ {
		bit, ok, err := bm.Alloc(cache, dev)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, i, bit)
	}

	bit, ok, err := bm.Alloc(cache, dev)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, blockBits, bit)
}

// TestBitmapAllocFailsWhenExhausted exercises the out-of-space path: once
// every bit in the region is taken, Alloc reports ok=false rather than
// erroring or wrapping around.
func TestBitmapAllocFailsWhenExhausted(t *testing.T) {
	dev := blockdev.NewMemory(1)
	cache := blockcache.New(1)
	bm := NewBitmap(0, 1)

	for i := uint64(0); i < blockBits; i++ {
		_, ok, err := bm.Alloc(cache, dev)
		require.NoError(t, err)
		require.True(t, ok)
	}

	_, ok, err := bm.Alloc(cache, dev)
	require.NoError(t, err)
	require.False(t, ok)
}

// TestBitmapDeallocOfUnsetBitPanics asserts dealloc() asserts the bit was
// set first, per spec.md §4.9.
func TestBitmapDeallocOfUnsetBitPanics(t *testing.T) {
	dev := blockdev.NewMemory(1)
	cache := blockcache.New(1)
	bm := NewBitmap(0, 1)

	require.Panics(t, func() {
		_ = bm.Dealloc(cache, dev, 0)
	})
}

package fs

import (
	"math/bits"

	"github.com/teaching-os/rvkernel/internal/blockcache"
	"github.com/teaching-os/rvkernel/internal/blockdev"
)

const blockBits = blockdev.BlockSize * 8 // 4096 bits per bitmap block
const wordsPerBlock = blockdev.BlockSize / 8

// Bitmap is a region of blocks, each holding 64 u64 words (4096 bits), used
// for both the inode and data bitmaps of spec.md §3/§4.9.
type Bitmap struct {
	startBlock uint64
	blocks     uint64
}

// NewBitmap describes a bitmap occupying blocks [startBlock, startBlock+n).
func NewBitmap(startBlock, n uint64) Bitmap {
	return Bitmap{startBlock: startBlock, blocks: n}
}

// Maximum returns the number of bits this bitmap can represent.
func (bm Bitmap) Maximum() uint64 { return bm.blocks * blockBits }

// Alloc scans region blocks in order and, within each block, 64-bit words
// in order; it sets and returns the lowest clear bit's absolute index, per
// spec.md §4.9. Unlike the Rust source this is grounded in, Alloc returns
// as soon as it finds a free bit instead of scanning every remaining block
// after already having an answer (original_source/file_system/src/bitmap.rs
// discards the position it just found and always falls through to None —
// a bug noted as an Open Question fix in this re-implementation).
func (bm Bitmap) Alloc(cache *blockcache.Cache, dev blockdev.Device) (uint64, bool, error) {
	for blk := uint64(0); blk < bm.blocks; blk++ {
		h, err := cache.Get(dev, bm.startBlock+blk)
		if err != nil {
			return 0, false, err
		}
		words := decodeBitmapWords(h.Bytes())
		found := -1
		for wi, w := range words {
			if w != ^uint64(0) {
				found = wi
				break
			}
		}
		if found < 0 {
			h.Release()
			continue
		}
		innerPos := bits.TrailingZeros64(^words[found])
		words[found] |= 1 << uint(innerPos)
		encodeBitmapWords(h.Bytes(), words)
		h.MarkDirty()
		h.Release()
		return blk*blockBits + uint64(found)*64 + uint64(innerPos), true, nil
	}
	return 0, false, nil
}

// Dealloc clears bit, asserting it was set, per spec.md §4.9 dealloc().
func (bm Bitmap) Dealloc(cache *blockcache.Cache, dev blockdev.Device, bit uint64) error {
	blk, word, inner := decomposeBit(bit)
	h, err := cache.Get(dev, bm.startBlock+blk)
	if err != nil {
		return err
	}
	defer h.Release()
	words := decodeBitmapWords(h.Bytes())
	mask := uint64(1) << uint(inner)
	if words[word]&mask == 0 {
		panic("fs: dealloc of bit not set")
	}
	words[word] &^= mask
	encodeBitmapWords(h.Bytes(), words)
	h.MarkDirty()
	return nil
}

func decomposeBit(bit uint64) (blk, word, inner uint64) {
	blk = bit / blockBits
	rem := bit % blockBits
	return blk, rem / 64, rem % 64
}

func decodeBitmapWords(b *[blockdev.BlockSize]byte) [wordsPerBlock]uint64 {
	var words [wordsPerBlock]uint64
	for i := range words {
		for j := 0; j < 8; j++ {
			words[i] |= uint64(b[i*8+j]) << uint(8*j)
		}
	}
	return words
}

func encodeBitmapWords(b *[blockdev.BlockSize]byte, words [wordsPerBlock]uint64) {
	for i, w := range words {
		for j := 0; j < 8; j++ {
			b[i*8+j] = byte(w >> uint(8*j))
		}
	}
}

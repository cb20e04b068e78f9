// Package util contains small numeric helpers shared across the kernel,
// carried over from the teacher's util package (biscuit/src/util/util.go).
package util

import "encoding/binary"

// Int is satisfied by all built-in integer types.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max[T Int](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Rounddown aligns v down to the nearest multiple of b.
func Rounddown[T Int](v, b T) T {
	return v - (v % b)
}

// Roundup aligns v up to the nearest multiple of b.
func Roundup[T Int](v, b T) T {
	return Rounddown(v+b-1, b)
}

// Ceildiv divides a by b, rounding up.
func Ceildiv[T Int](a, b T) T {
	return (a + b - 1) / b
}

// Readn32 reads a little-endian uint32 from a starting at off.
func Readn32(a []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(a[off : off+4])
}

// Writen32 writes val as a little-endian uint32 into a starting at off.
func Writen32(a []byte, off int, val uint32) {
	binary.LittleEndian.PutUint32(a[off:off+4], val)
}

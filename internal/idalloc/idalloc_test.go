package idalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocMintsAscendingFromBase(t *testing.T) {
	a := New(5)
	assert.Equal(t, 5, a.Alloc())
	assert.Equal(t, 6, a.Alloc())
	assert.Equal(t, 7, a.Alloc())
	assert.Equal(t, 3, a.InUse())
}

func TestFreeRecyclesBeforeMinting(t *testing.T) {
	a := New(0)
	id0 := a.Alloc()
	id1 := a.Alloc()
	a.Free(id0)
	assert.Equal(t, id0, a.Alloc(), "a freed id should be handed out before the high-water mark advances")
	next := a.Alloc()
	assert.Equal(t, id1+1, next)
}

func TestFreeOfUnallocatedIDPanics(t *testing.T) {
	a := New(0)
	assert.Panics(t, func() { a.Free(42) })
}

func TestInUseTracksOutstandingIDs(t *testing.T) {
	a := New(0)
	require.Equal(t, 0, a.InUse())
	id := a.Alloc()
	require.Equal(t, 1, a.InUse())
	a.Free(id)
	require.Equal(t, 0, a.InUse())
}

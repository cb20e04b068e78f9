package blockcache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teaching-os/rvkernel/internal/blockdev"
)

func TestGetFillsOnMissAndHitsOnRepeat(t *testing.T) {
	dev := blockdev.NewMemory(4)
	var want [blockdev.BlockSize]byte
	want[0] = 0xAB
	require.NoError(t, dev.WriteBlock(1, &want))

	c := New(2)
	h, err := c.Get(dev, 1)
	require.NoError(t, err)
	assert.Equal(t, want, *h.Bytes())
	h.Release()

	h2, err := c.Get(dev, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
	h2.Release()
}

func TestGetEvictsLeastRecentlyUsedAndWritesBackDirty(t *testing.T) {
	dev := blockdev.NewMemory(4)
	c := New(2)

	h0, err := c.Get(dev, 0)
	require.NoError(t, err)
	h0.Bytes()[0] = 0x11
	h0.MarkDirty()
	h0.Release()

	h1, err := c.Get(dev, 1)
	require.NoError(t, err)
	h1.Release()

	// a third distinct block evicts block 0, the least recently used.
	h2, err := c.Get(dev, 2)
	require.NoError(t, err)
	h2.Release()
	assert.Equal(t, 2, c.Len())

	var readBack [blockdev.BlockSize]byte
	require.NoError(t, dev.ReadBlock(0, &readBack))
	assert.Equal(t, byte(0x11), readBack[0], "the dirty evicted block should have been written back")
}

func TestSyncAllFlushesDirtyEntriesWithoutEvicting(t *testing.T) {
	dev := blockdev.NewMemory(4)
	c := New(2)

	h, err := c.Get(dev, 0)
	require.NoError(t, err)
	h.Bytes()[0] = 0x42
	h.MarkDirty()
	h.Release()

	require.NoError(t, c.SyncAll())
	assert.Equal(t, 1, c.Len(), "SyncAll must not evict")

	var readBack [blockdev.BlockSize]byte
	require.NoError(t, dev.ReadBlock(0, &readBack))
	assert.Equal(t, byte(0x42), readBack[0])
}

func TestConcurrentMissesOnDistinctKeysBothSucceed(t *testing.T) {
	dev := blockdev.NewMemory(8)
	c := New(8)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := c.Get(dev, uint64(i))
			if err == nil {
				h.Release()
			}
			errs[i] = err
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 4, c.Len())
}

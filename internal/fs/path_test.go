package fs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teaching-os/rvkernel/internal/blockcache"
	"github.com/teaching-os/rvkernel/internal/blockdev"
)

func newTestFS(t *testing.T) *FileSystem {
	t.Helper()
	dev := blockdev.NewMemory(4096)
	cache := blockcache.New(32)
	f, err := Format(dev, cache, 4096, 1)
	require.NoError(t, err)
	return f
}

func TestResolveWalksNestedDirectories(t *testing.T) {
	f := newTestFS(t)
	root := f.RootInode()

	sub, err := root.Mkdir("a")
	require.NoError(t, err)
	_, err = sub.Mkdir("b")
	require.NoError(t, err)
	leaf, err := sub.Create("file.txt")
	require.NoError(t, err)
	require.NoError(t, leaf.Grow(5))
	_, err = leaf.WriteAt(0, []byte("hello"))
	require.NoError(t, err)

	got, ok, err := f.Resolve("/a/file.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, leaf.ID(), got.ID())

	_, ok, err = f.Resolve("/a/missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolveRootReturnsRootInode(t *testing.T) {
	f := newTestFS(t)
	got, ok, err := f.Resolve("/")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, f.RootInode().ID(), got.ID())
}

func TestResolveParentSplitsOffFinalComponent(t *testing.T) {
	f := newTestFS(t)
	root := f.RootInode()
	sub, err := root.Mkdir("dir")
	require.NoError(t, err)

	dir, name, err := f.ResolveParent("/dir/new.txt")
	require.NoError(t, err)
	require.Equal(t, sub.ID(), dir.ID())
	require.Equal(t, "new.txt", name)
}

func TestResolveParentFailsOnMissingDirectory(t *testing.T) {
	f := newTestFS(t)
	_, _, err := f.ResolveParent("/nope/file.txt")
	require.Error(t, err)
}

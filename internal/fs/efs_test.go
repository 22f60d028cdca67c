package fs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sv39edu/sv39kernel/internal/blockdev"
)

func newTestFS(t *testing.T) (*EasyFileSystem, *blockdev.MemDevice) {
	t.Helper()
	dev := blockdev.NewMemDevice(4096)
	efs, err := Create(dev, 4096, 1)
	require.NoError(t, err)
	return efs, dev
}

func TestCreateFindLs(t *testing.T) {
	efs, _ := newTestFS(t)
	root := efs.RootInode()
	require.True(t, root.IsDir())

	_, found := root.Find("missing")
	require.False(t, found)

	f, ok := root.Create("hello")
	require.True(t, ok)
	require.False(t, f.IsDir())

	got, found := root.Find("hello")
	require.True(t, found)
	require.Equal(t, f.InodeID(), got.InodeID())

	require.Equal(t, []string{"hello"}, root.Ls())
}

func TestCreateRejectsDuplicateAndDots(t *testing.T) {
	efs, _ := newTestFS(t)
	root := efs.RootInode()

	_, ok := root.Create("a")
	require.True(t, ok)
	_, ok = root.Create("a")
	require.False(t, ok, "duplicate name must be rejected")

	_, ok = root.Create(".")
	require.False(t, ok)
	_, ok = root.Create("..")
	require.False(t, ok)
	_, ok = root.Create("this-name-is-way-too-long-for-a-dirent")
	require.False(t, ok)
}

func TestWriteReadAcrossBlocks(t *testing.T) {
	efs, _ := newTestFS(t)
	root := efs.RootInode()
	f, ok := root.Create("data")
	require.True(t, ok)

	payload := bytes.Repeat([]byte("0123456789abcdef"), 100) // 1600 bytes, > 3 blocks
	n := f.WriteAt(0, payload)
	require.Equal(t, len(payload), n)
	require.Equal(t, uint32(len(payload)), f.Size())

	got := make([]byte, len(payload))
	n = f.ReadAt(0, got)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, got)

	// partial read starting mid-block
	part := make([]byte, 32)
	n = f.ReadAt(500, part)
	require.Equal(t, 32, n)
	require.Equal(t, payload[500:532], part)
}

func TestWriteReadThroughIndirectBlock(t *testing.T) {
	efs, _ := newTestFS(t)
	root := efs.RootInode()
	f, ok := root.Create("big")
	require.True(t, ok)

	// Past the direct range: inodeDirectCount blocks plus a couple more.
	size := (inodeDirectCount + 2) * blockdev.BlockSize
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	require.Equal(t, size, f.WriteAt(0, payload))

	got := make([]byte, size)
	require.Equal(t, size, f.ReadAt(0, got))
	require.Equal(t, payload, got)
}

func TestClearReleasesBlocks(t *testing.T) {
	efs, _ := newTestFS(t)
	root := efs.RootInode()
	f, _ := root.Create("tmp")
	f.WriteAt(0, make([]byte, 4*blockdev.BlockSize))
	require.EqualValues(t, 4*blockdev.BlockSize, f.Size())

	f.Clear()
	require.EqualValues(t, 0, f.Size())
	require.Equal(t, 0, f.ReadAt(0, make([]byte, 8)))

	// the released blocks must be reusable by another file
	g, _ := root.Create("next")
	require.Equal(t, 4*blockdev.BlockSize, g.WriteAt(0, make([]byte, 4*blockdev.BlockSize)))
}

func TestOpenRemountsExistingImage(t *testing.T) {
	efs, dev := newTestFS(t)
	root := efs.RootInode()
	f, _ := root.Create("persist")
	f.WriteAt(0, []byte("survives remount"))

	efs2, err := Open(dev)
	require.NoError(t, err)
	got, found := efs2.RootInode().Find("persist")
	require.True(t, found)
	buf := make([]byte, 16)
	require.Equal(t, 16, got.ReadAt(0, buf))
	require.Equal(t, "survives remount", string(buf))
}

func TestOpenRejectsBadMagic(t *testing.T) {
	dev := blockdev.NewMemDevice(16)
	_, err := Open(dev)
	require.Error(t, err)
}

package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocDeallocRoundTrip(t *testing.T) {
	fa := NewFrameAllocator(0, 4)

	f1, ok := fa.Alloc()
	require.True(t, ok)
	require.Equal(t, PPN(0), f1.PPN())
	require.Equal(t, 1, fa.OutCount())

	f2, ok := fa.Alloc()
	require.True(t, ok)
	require.Equal(t, PPN(1), f2.PPN())
	require.Equal(t, 2, fa.OutCount())

	f1.Drop()
	require.Equal(t, 1, fa.OutCount())

	f2.Drop()
	require.Equal(t, 0, fa.OutCount())
}

func TestAllocPrefersRecycledOverBump(t *testing.T) {
	fa := NewFrameAllocator(0, 4)

	f1, _ := fa.Alloc()
	_, _ = fa.Alloc()
	f1.Drop()

	f3, ok := fa.Alloc()
	require.True(t, ok)
	require.Equal(t, PPN(0), f3.PPN(), "recycled frame should be reused before bumping")
}

func TestAllocExhaustion(t *testing.T) {
	fa := NewFrameAllocator(0, 2)
	_, ok1 := fa.Alloc()
	_, ok2 := fa.Alloc()
	_, ok3 := fa.Alloc()
	require.True(t, ok1)
	require.True(t, ok2)
	require.False(t, ok3)
}

func TestDoubleDropPanics(t *testing.T) {
	fa := NewFrameAllocator(0, 1)
	f, _ := fa.Alloc()
	f.Drop()
	require.Panics(t, func() { f.Drop() })
}

func TestUseAfterDropPanics(t *testing.T) {
	fa := NewFrameAllocator(0, 1)
	f, _ := fa.Alloc()
	f.Drop()
	require.Panics(t, func() { f.Bytes() })
	require.Panics(t, func() { f.PPN() })
}

func TestAllocZeroesFrame(t *testing.T) {
	fa := NewFrameAllocator(0, 1)
	f, _ := fa.Alloc()
	b := f.Bytes()
	b[0] = 0xff
	f.Drop()

	f2, _ := fa.Alloc()
	require.Equal(t, byte(0), f2.Bytes()[0], "recycled frames must come back zeroed")
}

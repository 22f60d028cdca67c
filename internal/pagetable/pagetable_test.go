package pagetable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sv39edu/sv39kernel/internal/mem"
)

func newTestTable(t *testing.T) (*PageTable, *mem.FrameAllocator) {
	t.Helper()
	fa := mem.NewFrameAllocator(0, 64)
	return New(fa), fa
}

func TestMapTranslateUnmapRoundTrip(t *testing.T) {
	pt, fa := newTestTable(t)
	frame, ok := fa.Alloc()
	require.True(t, ok)

	vpn := VPN(0x1234)
	pt.Map(vpn, frame.PPN(), FlagR|FlagW|FlagU)

	pte, ok := pt.Translate(vpn)
	require.True(t, ok)
	require.Equal(t, frame.PPN(), pte.PPN())
	require.True(t, pte.Flags().Has(FlagR))
	require.True(t, pte.Flags().Has(FlagW))
	require.True(t, pte.Flags().Has(FlagU))
	require.False(t, pte.Flags().Has(FlagX))

	pt.Unmap(vpn)
	_, ok = pt.Translate(vpn)
	require.False(t, ok)
}

func TestMapAlreadyMappedPanics(t *testing.T) {
	pt, fa := newTestTable(t)
	f, _ := fa.Alloc()
	pt.Map(VPN(1), f.PPN(), FlagR)
	require.Panics(t, func() { pt.Map(VPN(1), f.PPN(), FlagR) })
}

func TestUnmapNotMappedPanics(t *testing.T) {
	pt, _ := newTestTable(t)
	require.Panics(t, func() { pt.Unmap(VPN(99)) })
}

func TestTranslateVAAddsOffset(t *testing.T) {
	pt, fa := newTestTable(t)
	f, _ := fa.Alloc()
	vpn := VPN(5)
	pt.Map(vpn, f.PPN(), FlagR|FlagW)

	va := VirtAddr(uint64(vpn)<<mem.PGSHIFT | 0x42)
	pa, ok := pt.TranslateVA(va)
	require.True(t, ok)
	require.Equal(t, f.PPN().Addr()+mem.PhysAddr(0x42), pa)
}

func TestTokenRoundTrip(t *testing.T) {
	pt, _ := newTestTable(t)
	token := pt.Token()
	require.Equal(t, satpMode, token&satpMode)

	view := FromToken(nil, token)
	require.Equal(t, pt.rootPPN, view.rootPPN)
	require.True(t, view.nonOwning)
}

func TestTranslatedByteBufferCrossesPageBoundary(t *testing.T) {
	pt, fa := newTestTable(t)
	f0, _ := fa.Alloc()
	f1, _ := fa.Alloc()
	pt.Map(VPN(0), f0.PPN(), FlagR|FlagW)
	pt.Map(VPN(1), f1.PPN(), FlagR|FlagW)

	f0.Bytes()[mem.PGSIZE-2] = 'h'
	f0.Bytes()[mem.PGSIZE-1] = 'i'
	f1.Bytes()[0] = '!'

	chunks := pt.TranslatedByteBuffer(VirtAddr(mem.PGSIZE-2), 3)
	require.Len(t, chunks, 2)
	require.Equal(t, []byte("hi"), chunks[0])
	require.Equal(t, []byte("!"), chunks[1])
}

func TestTranslatedStrStopsAtNUL(t *testing.T) {
	pt, fa := newTestTable(t)
	f, _ := fa.Alloc()
	pt.Map(VPN(0), f.PPN(), FlagR|FlagW)

	copy(f.Bytes(), "hello\x00garbage")
	require.Equal(t, "hello", pt.TranslatedStr(VirtAddr(0)))
}

func TestTranslatedRefBytesRejectsPageCrossing(t *testing.T) {
	pt, fa := newTestTable(t)
	f, _ := fa.Alloc()
	pt.Map(VPN(0), f.PPN(), FlagR|FlagW)

	require.Panics(t, func() {
		pt.TranslatedRefBytes(VirtAddr(mem.PGSIZE-4), 8)
	})

	ref := pt.TranslatedRefBytes(VirtAddr(0), 8)
	require.Len(t, ref, 8)
}

package pagetable

import (
	"fmt"

	"github.com/sv39edu/sv39kernel/internal/mem"
)

// TranslatedByteBuffer splits a user-space [ptr, ptr+len) range into the
// page-aligned byte slices that back it in physical memory, since the
// range may straddle several, non-contiguous physical pages.
func (pt *PageTable) TranslatedByteBuffer(ptr VirtAddr, length int) [][]byte {
	var out [][]byte
	start := ptr
	end := VirtAddr(uint64(ptr) + uint64(length))
	for start < end {
		startVA := start
		startVPN := startVA.Page()
		pa, ok := pt.TranslateVA(startVA)
		if !ok {
			panic(fmt.Sprintf("pagetable: unmapped user address %#x", startVA))
		}

		pageEnd := VirtAddr((uint64(startVPN) + 1) << mem.PGSHIFT)
		var chunkEnd VirtAddr
		if pageEnd < end {
			chunkEnd = pageEnd
		} else {
			chunkEnd = end
		}
		chunkLen := uint64(chunkEnd) - uint64(startVA)

		ppn := pa.Page()
		frameOff := pa.Offset()
		frame := pt.bytesFor(ppn)
		out = append(out, frame[frameOff:frameOff+chunkLen])
		start = chunkEnd
	}
	return out
}

// TranslatedStr reads a NUL-terminated string out of user space one byte
// at a time, crossing page boundaries as needed.
func (pt *PageTable) TranslatedStr(ptr VirtAddr) string {
	var b []byte
	va := ptr
	for {
		pa, ok := pt.TranslateVA(va)
		if !ok {
			panic(fmt.Sprintf("pagetable: unmapped user address %#x", va))
		}
		off := pa.Offset()
		frame := pt.bytesFor(pa.Page())
		c := frame[off]
		if c == 0 {
			break
		}
		b = append(b, c)
		va = VirtAddr(uint64(va) + 1)
	}
	return string(b)
}

// TranslatedRefBytes returns the n bytes backing a typed value at ptr,
// requiring the value not cross a page boundary: a typed field read or
// write wants one contiguous slice, not a page-split pair.
func (pt *PageTable) TranslatedRefBytes(ptr VirtAddr, n int) []byte {
	pa, ok := pt.TranslateVA(ptr)
	if !ok {
		panic(fmt.Sprintf("pagetable: unmapped user address %#x", ptr))
	}
	off := pa.Offset()
	if off+uint64(n) > mem.PGSIZE {
		panic(fmt.Sprintf("pagetable: typed ref at %#x of size %d crosses a page boundary", ptr, n))
	}
	frame := pt.bytesFor(pa.Page())
	return frame[off : off+uint64(n)]
}

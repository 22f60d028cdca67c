// Package mem implements the kernel's physical memory: a simulated RAM
// arena and the stack-based frame allocator over it. Single hart, no
// reference counting; demand paging, copy-on-write, and SMP are all out
// of scope for this kernel.
package mem

import (
	"fmt"
	"sync"
)

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT = 12

// PGSIZE is the size of a single page in bytes.
const PGSIZE = 1 << PGSHIFT

// PGOFFSET masks the in-page offset of a virtual or physical address.
const PGOFFSET = PGSIZE - 1

// PPN is a physical page number (44 bits wide in a real Sv39 system; the
// simulated arena never needs the full width).
type PPN uint64

// PhysAddr is a byte-granular physical address.
type PhysAddr uint64

// Page returns the PPN containing this address.
func (pa PhysAddr) Page() PPN { return PPN(pa >> PGSHIFT) }

// Offset returns the in-page byte offset of this address.
func (pa PhysAddr) Offset() uint64 { return uint64(pa) & PGOFFSET }

// Addr returns the base physical address of a page number.
func (p PPN) Addr() PhysAddr { return PhysAddr(uint64(p) << PGSHIFT) }

// FrameAllocator is a stack-based allocator over a contiguous PPN range
// [start, end): prefer the LIFO recycled list, else bump start..current.
// Its backing arena spans [0, end): PPNs below start are never handed out
// by Alloc, but remain addressable through BytesForPPN so the kernel's own
// reserved image (text/rodata/data/bss, see internal/vm) can be
// identity-mapped and read/written like any other physical page. The
// allocator's writ runs only over the allocatable tail, not the whole
// arena.
type FrameAllocator struct {
	mu       sync.Mutex
	start    PPN
	end      PPN
	current  PPN
	recycled []PPN
	ram      []byte // backing store for every page in [0, end)
}

// NewFrameAllocator creates an allocator handing out npages frames
// starting at startPPN, with its own backing byte arena (spanning PPN 0
// through startPPN+npages) standing in for the physical RAM a real kernel
// would own.
func NewFrameAllocator(startPPN PPN, npages int) *FrameAllocator {
	end := startPPN + PPN(npages)
	return &FrameAllocator{
		start:   startPPN,
		end:     end,
		current: startPPN,
		ram:     make([]byte, int(end)*PGSIZE),
	}
}

// Alloc hands out one zeroed frame, preferring the recycle list over the
// bump pointer.
func (fa *FrameAllocator) Alloc() (FrameToken, bool) {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	var ppn PPN
	if n := len(fa.recycled); n > 0 {
		ppn = fa.recycled[n-1]
		fa.recycled = fa.recycled[:n-1]
	} else {
		if fa.current >= fa.end {
			return FrameToken{}, false
		}
		ppn = fa.current
		fa.current++
	}
	clear(fa.pageBytes(ppn))
	return FrameToken{ppn: ppn, owner: fa}, true
}

// dealloc returns ppn to the recycle list. ppn must be within the live
// range and not already recycled; a violation is a kernel programmer bug,
// so it panics.
func (fa *FrameAllocator) dealloc(ppn PPN) {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	if ppn < fa.start || ppn >= fa.current {
		panic(fmt.Sprintf("mem: dealloc out-of-range ppn %d", ppn))
	}
	for _, r := range fa.recycled {
		if r == ppn {
			panic(fmt.Sprintf("mem: ppn %d already deallocated", ppn))
		}
	}
	fa.recycled = append(fa.recycled, ppn)
}

// OutCount returns the number of frames currently allocated, used to
// check for frame leaks.
func (fa *FrameAllocator) OutCount() int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return int(fa.current-fa.start) - len(fa.recycled)
}

// pageBytes returns the backing byte slice for ppn. Not synchronized: the
// caller must hold a FrameToken or otherwise know the page is live and not
// concurrently accessed.
func (fa *FrameAllocator) pageBytes(ppn PPN) []byte {
	if ppn >= fa.end {
		panic(fmt.Sprintf("mem: ppn %d out of arena range", ppn))
	}
	off := int(ppn) * PGSIZE
	return fa.ram[off : off+PGSIZE]
}

// AllocatableStart returns the first PPN Alloc can ever hand out; the
// boundary just past the reserved kernel image.
func (fa *FrameAllocator) AllocatableStart() PPN { return fa.start }

// ArenaEnd returns one past the last PPN this arena covers (MEMORY_END).
func (fa *FrameAllocator) ArenaEnd() PPN { return fa.end }

// BytesForPPN exposes the same byte-slice lookup pageBytes does, for callers
// like internal/pagetable that walk page-table frames by PPN rather than
// through a FrameToken they personally allocated (an intermediate table's
// frame is owned by the PageTable, not by whoever is currently walking it).
func (fa *FrameAllocator) BytesForPPN(ppn PPN) []byte {
	return fa.pageBytes(ppn)
}

// FrameToken is a linear resource representing ownership of one physical
// frame: dropping it returns the PPN to its allocator.
// Go has no destructors, so the RAII discipline is enforced by Drop being
// mandatory and idempotence being a bug (double-drop panics).
type FrameToken struct {
	ppn     PPN
	owner   *FrameAllocator
	dropped bool
}

// PPN returns the physical page number this token owns.
func (ft *FrameToken) PPN() PPN {
	if ft.dropped {
		panic("mem: use of dropped FrameToken")
	}
	return ft.ppn
}

// Bytes returns the 4 KiB backing this frame.
func (ft *FrameToken) Bytes() []byte {
	if ft.dropped {
		panic("mem: use of dropped FrameToken")
	}
	return ft.owner.pageBytes(ft.ppn)
}

// Drop releases the frame back to its allocator. Calling Drop twice on the
// same token is a kernel invariant violation.
func (ft *FrameToken) Drop() {
	if ft.dropped {
		panic("mem: double drop of FrameToken")
	}
	ft.dropped = true
	ft.owner.dealloc(ft.ppn)
}

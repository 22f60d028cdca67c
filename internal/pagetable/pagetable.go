// Package pagetable implements the Sv39 three-level radix page table:
// map/unmap/translate plus the user-buffer/string/typed-ref translation
// helpers the syscall layer needs. Invariant violations panic; the table
// owns its root and intermediate frames.
package pagetable

import (
	"encoding/binary"
	"fmt"

	"github.com/sv39edu/sv39kernel/internal/mem"
)

// Sv39 constants: three 9-bit VPN levels over 4 KiB pages.
const (
	vpnBits  = 9
	vpnMask  = (1 << vpnBits) - 1
	levels   = 3
	satpMode = uint64(8) << 60
)

// VPN is a virtual page number.
type VPN uint64

// VirtAddr is a byte-granular virtual address.
type VirtAddr uint64

// Page returns the VPN containing this address.
func (va VirtAddr) Page() VPN { return VPN(va >> mem.PGSHIFT) }

// Offset returns the in-page byte offset of this address.
func (va VirtAddr) Offset() uint64 { return uint64(va) & mem.PGOFFSET }

// Addr returns the base virtual address of a page number.
func (v VPN) Addr() VirtAddr { return VirtAddr(uint64(v) << mem.PGSHIFT) }

// indices returns the three 9-bit level indices of vpn, root-first.
func (v VPN) indices() [levels]int {
	var idx [levels]int
	idx[0] = int((v >> (2 * vpnBits)) & vpnMask)
	idx[1] = int((v >> vpnBits) & vpnMask)
	idx[2] = int(v & vpnMask)
	return idx
}

// PTEFlags are the leaf/intermediate permission bits.
type PTEFlags uint64

const (
	FlagV PTEFlags = 1 << 0
	FlagR PTEFlags = 1 << 1
	FlagW PTEFlags = 1 << 2
	FlagX PTEFlags = 1 << 3
	FlagU PTEFlags = 1 << 4
	FlagG PTEFlags = 1 << 5
	FlagA PTEFlags = 1 << 6
	FlagD PTEFlags = 1 << 7
)

func (f PTEFlags) Has(bit PTEFlags) bool { return f&bit != 0 }

// PTE is one raw page-table-entry word: bits [53:10] hold the PPN, bits
// [7:0] hold the flags, matching Sv39's on-disk/on-wire layout.
type PTE uint64

func makePTE(ppn mem.PPN, flags PTEFlags) PTE {
	return PTE(uint64(ppn)<<10 | uint64(flags))
}

// PPN extracts the physical page number from a PTE.
func (p PTE) PPN() mem.PPN { return mem.PPN((uint64(p) >> 10) & ((1 << 44) - 1)) }

// Flags extracts the flag bits from a PTE.
func (p PTE) Flags() PTEFlags { return PTEFlags(uint64(p) & 0xff) }

// Valid reports whether the V bit is set.
func (p PTE) Valid() bool { return p.Flags().Has(FlagV) }

// entriesPerPage is how many 8-byte PTE slots fit in one page (used only to
// bound-check index arithmetic below).
const entriesPerPage = mem.PGSIZE / 8

// pteView reads/writes the 512-entry PTE array backed by a frame's bytes.
type pteView struct{ b []byte }

func (v pteView) get(i int) PTE {
	if i < 0 || i >= entriesPerPage {
		panic(fmt.Sprintf("pagetable: pte index %d out of range", i))
	}
	return PTE(binary.LittleEndian.Uint64(v.b[i*8 : i*8+8]))
}

func (v pteView) set(i int, p PTE) {
	if i < 0 || i >= entriesPerPage {
		panic(fmt.Sprintf("pagetable: pte index %d out of range", i))
	}
	binary.LittleEndian.PutUint64(v.b[i*8:i*8+8], uint64(p))
}

// PageTable is a three-level Sv39 radix tree owning its root frame and
// every intermediate table frame.
type PageTable struct {
	rootPPN mem.PPN
	frames  []mem.FrameToken // owns root + all intermediate table frames
	alloc   *mem.FrameAllocator
	// nonOwning marks a FromToken view: it holds no frames and must never
	// be used to mutate the tree.
	nonOwning bool
}

// New creates an empty page table, allocating its root frame from alloc.
func New(alloc *mem.FrameAllocator) *PageTable {
	root, ok := alloc.Alloc()
	if !ok {
		panic("pagetable: out of frames for root")
	}
	pt := &PageTable{alloc: alloc}
	pt.rootPPN = root.PPN()
	pt.frames = append(pt.frames, root)
	return pt
}

// FromToken returns a non-owning view of an existing tree encoded the way
// satp encodes it (mode=8 in the top nibble, root PPN in the low 44 bits).
// It holds no frames and must not be used to mutate the tree.
func FromToken(alloc *mem.FrameAllocator, satp uint64) *PageTable {
	return &PageTable{
		alloc:     alloc,
		rootPPN:   mem.PPN(satp & ((1 << 44) - 1)),
		nonOwning: true,
	}
}

// Token returns the Sv39 satp encoding of this table.
func (pt *PageTable) Token() uint64 {
	return satpMode | uint64(pt.rootPPN)
}

func (pt *PageTable) bytesFor(ppn mem.PPN) []byte {
	// Every frame this table walks was allocated by pt.alloc, whether
	// owned (pt.frames) or merely referenced (FromToken); the allocator's
	// arena indexing by PPN is all that's needed to reach its bytes.
	return pt.alloc.BytesForPPN(ppn)
}

func (pt *PageTable) view(ppn mem.PPN) pteView { return pteView{b: pt.bytesFor(ppn)} }

// FrameBytes returns the 4 KiB backing ppn, for callers (internal/vm's
// copy_data/fork-copy paths) that already hold a leaf PTE and need its
// physical page's contents directly.
func (pt *PageTable) FrameBytes(ppn mem.PPN) []byte { return pt.bytesFor(ppn) }

// findPTE walks the tree for vpn, optionally creating intermediate tables.
// Returns the leaf PTE's (ppn, index) location, or ok=false if a
// non-existent intermediate table was encountered and create is false.
func (pt *PageTable) findPTE(vpn VPN, create bool) (ppn mem.PPN, idx int, ok bool) {
	idxs := vpn.indices()
	cur := pt.rootPPN
	for level, i := range idxs {
		if level == levels-1 {
			return cur, i, true
		}
		v := pt.view(cur)
		pte := v.get(i)
		if !pte.Valid() {
			if !create {
				return 0, 0, false
			}
			if pt.nonOwning {
				panic("pagetable: cannot create entries in a non-owning view")
			}
			frame, allocOK := pt.alloc.Alloc()
			if !allocOK {
				panic("pagetable: out of frames walking table")
			}
			newPPN := frame.PPN()
			pt.frames = append(pt.frames, frame)
			v.set(i, makePTE(newPPN, FlagV))
			cur = newPPN
			continue
		}
		cur = pte.PPN()
	}
	panic("unreachable")
}

// Map installs vpn -> ppn with the given flags. Panics if vpn was already
// mapped.
func (pt *PageTable) Map(vpn VPN, ppn mem.PPN, flags PTEFlags) {
	tablePPN, idx, _ := pt.findPTE(vpn, true)
	v := pt.view(tablePPN)
	if v.get(idx).Valid() {
		panic(fmt.Sprintf("pagetable: vpn %#x already mapped", vpn))
	}
	v.set(idx, makePTE(ppn, flags|FlagV))
}

// Unmap clears the mapping for vpn. Panics if it was not mapped.
func (pt *PageTable) Unmap(vpn VPN) {
	tablePPN, idx, ok := pt.findPTE(vpn, false)
	if !ok || !pt.view(tablePPN).get(idx).Valid() {
		panic(fmt.Sprintf("pagetable: vpn %#x not mapped", vpn))
	}
	pt.view(tablePPN).set(idx, PTE(0))
}

// Translate returns the leaf PTE for vpn, if mapped.
func (pt *PageTable) Translate(vpn VPN) (PTE, bool) {
	tablePPN, idx, ok := pt.findPTE(vpn, false)
	if !ok {
		return 0, false
	}
	pte := pt.view(tablePPN).get(idx)
	if !pte.Valid() {
		return 0, false
	}
	return pte, true
}

// TranslateVA resolves a full virtual address to its physical address,
// adding back the page offset.
func (pt *PageTable) TranslateVA(va VirtAddr) (mem.PhysAddr, bool) {
	pte, ok := pt.Translate(va.Page())
	if !ok {
		return 0, false
	}
	return mem.PhysAddr(uint64(pte.PPN())<<mem.PGSHIFT | va.Offset()), true
}

// Destroy drops the root frame and every intermediate table frame this
// table owns, releasing them back to the allocator. Called once a zombie
// task's last reference (its TaskControlBlock) is reaped by waitpid.
// Panics on a non-owning view (FromToken), which holds no frames to
// release.
func (pt *PageTable) Destroy() {
	if pt.nonOwning {
		panic("pagetable: cannot destroy a non-owning view")
	}
	for i := range pt.frames {
		pt.frames[i].Drop()
	}
	pt.frames = nil
}

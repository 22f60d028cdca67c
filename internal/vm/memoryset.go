// Package vm implements address spaces: the page table plus the list of
// map areas that together make up either the kernel's or a single
// process's virtual memory.
package vm

import (
	"bytes"
	"debug/elf"
	"fmt"
	"sort"
	"sync"

	"github.com/sv39edu/sv39kernel/internal/kernelcfg"
	"github.com/sv39edu/sv39kernel/internal/mem"
	"github.com/sv39edu/sv39kernel/internal/pagetable"
	"github.com/sv39edu/sv39kernel/internal/util"
)

// MapType selects how a MapArea's VPNs are backed: Identical maps vpn -> ppn
// directly (kernel sections, physical RAM window, MMIO); Framed allocates a
// fresh frame per VPN (user program segments, stacks, trap context).
type MapType int

const (
	Identical MapType = iota
	Framed
)

// MapPermission is the R/W/X/U subset of PTEFlags a MapArea carries.
type MapPermission = pagetable.PTEFlags

const (
	PermR = pagetable.FlagR
	PermW = pagetable.FlagW
	PermX = pagetable.FlagX
	PermU = pagetable.FlagU
)

// MapArea is a contiguous VPN range mapped uniformly: one MapType, one
// MapPermission, and (for Framed areas) the FrameTokens backing each VPN.
type MapArea struct {
	startVPN, endVPN pagetable.VPN
	mapType          MapType
	perm             MapPermission
	frames           map[pagetable.VPN]*mem.FrameToken // Framed only
}

// NewMapArea builds an area spanning [floor(startVA), ceil(endVA)).
func NewMapArea(startVA, endVA pagetable.VirtAddr, mapType MapType, perm MapPermission) *MapArea {
	start := startVA.Page()
	end := pagetable.VPN(util.Roundup(uint64(endVA), uint64(mem.PGSIZE)) >> mem.PGSHIFT)
	ma := &MapArea{startVPN: start, endVPN: end, mapType: mapType, perm: perm}
	if mapType == Framed {
		ma.frames = make(map[pagetable.VPN]*mem.FrameToken)
	}
	return ma
}

func (ma *MapArea) mapOne(alloc *mem.FrameAllocator, pt *pagetable.PageTable, vpn pagetable.VPN) {
	var ppn mem.PPN
	switch ma.mapType {
	case Identical:
		ppn = mem.PPN(vpn)
	case Framed:
		frame, ok := alloc.Alloc()
		if !ok {
			panic("vm: out of frames mapping area")
		}
		ppn = frame.PPN()
		ma.frames[vpn] = &frame
	}
	pt.Map(vpn, ppn, ma.perm)
}

func (ma *MapArea) mapAll(alloc *mem.FrameAllocator, pt *pagetable.PageTable) {
	for vpn := ma.startVPN; vpn < ma.endVPN; vpn++ {
		ma.mapOne(alloc, pt, vpn)
	}
}

func (ma *MapArea) unmapOne(pt *pagetable.PageTable, vpn pagetable.VPN) {
	if ma.mapType == Framed {
		if f, ok := ma.frames[vpn]; ok {
			f.Drop()
			delete(ma.frames, vpn)
		}
	}
	pt.Unmap(vpn)
}

// unmapAll tears down every leaf this area owns, returning Framed frames
// to the allocator.
func (ma *MapArea) unmapAll(pt *pagetable.PageTable) {
	for vpn := ma.startVPN; vpn < ma.endVPN; vpn++ {
		ma.unmapOne(pt, vpn)
	}
}

// copyData writes data into a freshly mapped Framed area, one page at a
// time.
func (ma *MapArea) copyData(pt *pagetable.PageTable, data []byte) {
	if ma.mapType != Framed {
		panic("vm: copyData on a non-Framed area")
	}
	vpn := ma.startVPN
	start := 0
	for start < len(data) {
		end := start + mem.PGSIZE
		if end > len(data) {
			end = len(data)
		}
		pte, ok := pt.Translate(vpn)
		if !ok {
			panic("vm: copyData target vpn not mapped")
		}
		dst := pt.FrameBytes(pte.PPN())
		copy(dst, data[start:end])
		start = end
		vpn++
	}
}

// MemorySet owns one page table and the ordered list of areas mapped into
// it: an entire address space.
type MemorySet struct {
	sync.Mutex
	pageTable *pagetable.PageTable
	areas     []*MapArea
	alloc     *mem.FrameAllocator
	pmapHeld  bool
}

// NewBare returns an empty address space with a freshly allocated root page
// table.
func NewBare(alloc *mem.FrameAllocator) *MemorySet {
	return &MemorySet{pageTable: pagetable.New(alloc), alloc: alloc}
}

// LockPmap acquires the address-space mutex guarding area and page-table
// mutation.
func (ms *MemorySet) LockPmap() {
	ms.Lock()
	ms.pmapHeld = true
}

// UnlockPmap releases the address-space mutex.
func (ms *MemorySet) UnlockPmap() {
	ms.pmapHeld = false
	ms.Unlock()
}

// LockassertPmap panics if the caller does not hold the address-space
// mutex.
func (ms *MemorySet) LockassertPmap() {
	if !ms.pmapHeld {
		panic("vm: address space lock must be held")
	}
}

// Token returns the satp encoding of this address space's page table.
func (ms *MemorySet) Token() uint64 { return ms.pageTable.Token() }

// PageTable exposes the underlying table for callers (trap dispatch,
// syscall arg translation) that need to walk user memory directly.
func (ms *MemorySet) PageTable() *pagetable.PageTable { return ms.pageTable }

// push maps a new area into the page table, optionally initializing it
// from data, and records it for later teardown.
func (ms *MemorySet) push(area *MapArea, data []byte) {
	area.mapAll(ms.alloc, ms.pageTable)
	if data != nil {
		area.copyData(ms.pageTable, data)
	}
	ms.areas = append(ms.areas, area)
}

// InsertFramedArea inserts a Framed area with no initial data, assuming no
// conflicting mapping already exists. Takes the pmap lock: kernel-stack
// insertion mutates the shared kernel address space after boot.
func (ms *MemorySet) InsertFramedArea(startVA, endVA pagetable.VirtAddr, perm MapPermission) {
	ms.LockPmap()
	defer ms.UnlockPmap()
	ms.push(NewMapArea(startVA, endVA, Framed, perm), nil)
}

// mapTrampoline installs the one page every address space shares: the
// trampoline VA, mapped R+X to the single trampoline frame.
func (ms *MemorySet) mapTrampoline(trampolinePPN mem.PPN) {
	vpn := pagetable.VirtAddr(kernelcfg.Trampoline).Page()
	ms.pageTable.Map(vpn, trampolinePPN, PermR|PermX)
}

// RemoveAreaWithStartVPN unmaps and drops the area beginning at startVPN
// (used by kernel-stack teardown); panics if no such area exists.
func (ms *MemorySet) RemoveAreaWithStartVPN(startVA pagetable.VirtAddr) {
	ms.LockPmap()
	defer ms.UnlockPmap()
	startVPN := startVA.Page()
	for i, a := range ms.areas {
		if a.startVPN == startVPN {
			a.unmapAll(ms.pageTable)
			ms.areas = append(ms.areas[:i], ms.areas[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("vm: no area starting at vpn %#x", startVPN))
}

// RecycleDataPages tears down every area (Framed frames returned,
// page-table leaves cleared) without freeing the root page-table frame
// itself: a zombie task's memory is released immediately on exit while its
// TaskControlBlock (and the page table root, needed until the parent reaps
// it) survives until waitpid.
func (ms *MemorySet) RecycleDataPages() {
	ms.LockPmap()
	defer ms.UnlockPmap()
	ms.recycleLocked()
}

func (ms *MemorySet) recycleLocked() {
	ms.LockassertPmap()
	for _, a := range ms.areas {
		a.unmapAll(ms.pageTable)
	}
	ms.areas = ms.areas[:0]
}

// Destroy releases the page table's own root and intermediate frames, the
// second half of the zombie-reaping cascade RecycleDataPages leaves
// undone: call once nothing (not even a waiting parent) still needs this
// address space's identity, i.e. from waitpid's reap step.
func (ms *MemorySet) Destroy() {
	ms.pageTable.Destroy()
}

// Activate is the hosted stand-in for writing satp and issuing sfence.vma:
// in a real kernel this swaps the active address space by writing a CPU
// register. Here every translation already goes through ms.pageTable
// directly and there is no TLB to flush.
func (ms *MemorySet) Activate() { /* no-op: translation always goes through ms.pageTable directly */ }

// Translate looks up the leaf PTE for vpn.
func (ms *MemorySet) Translate(vpn pagetable.VPN) (pagetable.PTE, bool) {
	return ms.pageTable.Translate(vpn)
}

// NewKernelSpace builds the identity-mapped kernel address space: the
// trampoline first, then the simulated image sections, the remaining
// physical RAM window, and the MMIO regions.
func NewKernelSpace(alloc *mem.FrameAllocator, trampolinePPN mem.PPN) *MemorySet {
	ms := NewBare(alloc)
	ms.mapTrampoline(trampolinePPN)

	l := kernelcfg.Layout()
	sections := []struct {
		start, end int
		perm       MapPermission
	}{
		{l.TextStart, l.TextEnd, PermR | PermX},
		{l.RodataStart, l.RodataEnd, PermR},
		{l.DataStart, l.DataEnd, PermR | PermW},
		{l.BssStart, l.BssEnd, PermR | PermW},
	}
	for _, s := range sections {
		ms.push(NewMapArea(
			pagetable.VirtAddr(s.start*mem.PGSIZE),
			pagetable.VirtAddr(s.end*mem.PGSIZE),
			Identical, s.perm), nil)
	}

	ms.push(NewMapArea(
		pagetable.VirtAddr(int(alloc.AllocatableStart())*mem.PGSIZE),
		pagetable.VirtAddr(int(alloc.ArenaEnd())*mem.PGSIZE),
		Identical, PermR|PermW), nil)

	for _, region := range kernelcfg.MMIO {
		ms.push(NewMapArea(
			pagetable.VirtAddr(region.Base),
			pagetable.VirtAddr(region.Base+region.Len),
			Identical, PermR|PermW), nil)
	}

	return ms
}

// SelfCheck re-derives the midpoint of the simulated text/rodata/data
// sections and asserts their permissions: text/rodata must not be
// writable, data must not be executable. Call once after NewKernelSpace
// during boot.
func (ms *MemorySet) SelfCheck() error {
	l := kernelcfg.Layout()
	mid := func(start, end int) pagetable.VPN { return pagetable.VPN((start + end) / 2) }

	checks := []struct {
		name     string
		vpn      pagetable.VPN
		mustNot  MapPermission
	}{
		{"text", mid(l.TextStart, l.TextEnd), PermW},
		{"rodata", mid(l.RodataStart, l.RodataEnd), PermW},
		{"data", mid(l.DataStart, l.DataEnd), PermX},
	}
	for _, c := range checks {
		pte, ok := ms.Translate(c.vpn)
		if !ok {
			return fmt.Errorf("vm: self check: %s vpn %#x not mapped", c.name, c.vpn)
		}
		if pte.Flags().Has(c.mustNot) {
			return fmt.Errorf("vm: self check: %s section unexpectedly has permission bit set", c.name)
		}
	}
	return nil
}

// FromELF parses an ELF image's PT_LOAD segments into Framed areas with
// permissions derived from the program header flags, then lays out the
// guard-paged user stack, the sbrk-reserve area, and the trap-context
// page. Returns the new address space, the initial user stack pointer, and
// the entry point.
func FromELF(alloc *mem.FrameAllocator, trampolinePPN mem.PPN, elfData []byte) (ms *MemorySet, userSP uint64, entry uint64, err error) {
	f, parseErr := elf.NewFile(bytes.NewReader(elfData))
	if parseErr != nil {
		return nil, 0, 0, fmt.Errorf("vm: invalid elf: %w", parseErr)
	}
	defer f.Close()

	ms = NewBare(alloc)
	ms.mapTrampoline(trampolinePPN)

	maxEndVPN := pagetable.VPN(0)
	progs := make([]*elf.Prog, 0, len(f.Progs))
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD {
			progs = append(progs, p)
		}
	}
	sort.Slice(progs, func(i, j int) bool { return progs[i].Vaddr < progs[j].Vaddr })

	for _, p := range progs {
		startVA := pagetable.VirtAddr(p.Vaddr)
		endVA := pagetable.VirtAddr(p.Vaddr + p.Memsz)
		perm := PermU
		if p.Flags&elf.PF_R != 0 {
			perm |= PermR
		}
		if p.Flags&elf.PF_W != 0 {
			perm |= PermW
		}
		if p.Flags&elf.PF_X != 0 {
			perm |= PermX
		}
		area := NewMapArea(startVA, endVA, Framed, perm)
		if area.endVPN > maxEndVPN {
			maxEndVPN = area.endVPN
		}
		data := make([]byte, p.Filesz)
		if _, rerr := p.ReadAt(data, 0); rerr != nil {
			return nil, 0, 0, fmt.Errorf("vm: reading PT_LOAD segment: %w", rerr)
		}
		ms.push(area, data)
	}

	userStackBottom := uint64(maxEndVPN.Addr()) + kernelcfg.PageSize // guard page
	userStackTop := userStackBottom + kernelcfg.UserStackSize
	ms.push(NewMapArea(
		pagetable.VirtAddr(userStackBottom), pagetable.VirtAddr(userStackTop),
		Framed, PermR|PermW|PermU), nil)

	// sbrk-reserve: a zero-length area at the stack top, so a later sbrk
	// syscall (not in this kernel's syscall table yet) has somewhere to
	// grow.
	ms.push(NewMapArea(
		pagetable.VirtAddr(userStackTop), pagetable.VirtAddr(userStackTop),
		Framed, PermR|PermW|PermU), nil)

	ms.push(NewMapArea(
		pagetable.VirtAddr(kernelcfg.TrapContext), pagetable.VirtAddr(kernelcfg.Trampoline),
		Framed, PermR|PermW), nil)

	return ms, userStackTop, f.Entry, nil
}

// FromExistedUser deep-copies src into a fresh address space: every area
// is recreated with the same range/type/permission, and for Framed areas
// the backing bytes are copied frame-by-frame: fork's address-space half.
func FromExistedUser(alloc *mem.FrameAllocator, trampolinePPN mem.PPN, src *MemorySet) *MemorySet {
	ms := NewBare(alloc)
	ms.mapTrampoline(trampolinePPN)

	for _, a := range src.areas {
		startVA := a.startVPN.Addr()
		endVA := a.endVPN.Addr()
		newArea := NewMapArea(startVA, endVA, a.mapType, a.perm)
		ms.push(newArea, nil)
		if a.mapType == Framed {
			for vpn := a.startVPN; vpn < a.endVPN; vpn++ {
				srcPTE, ok := src.Translate(vpn)
				if !ok {
					continue
				}
				dstPTE, _ := ms.Translate(vpn)
				copy(ms.pageTable.FrameBytes(dstPTE.PPN()), src.pageTable.FrameBytes(srcPTE.PPN()))
			}
		}
	}
	return ms
}

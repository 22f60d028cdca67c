package vm

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sv39edu/sv39kernel/internal/kernelcfg"
	"github.com/sv39edu/sv39kernel/internal/mem"
	"github.com/sv39edu/sv39kernel/internal/pagetable"
)

func newTestAllocator() *mem.FrameAllocator {
	return mem.NewFrameAllocator(mem.PPN(kernelcfg.EkernelEndPages), 256)
}

func TestNewKernelSpaceMapsTrampolineAndSections(t *testing.T) {
	alloc := newTestAllocator()
	trampolineFrame, ok := alloc.Alloc()
	require.True(t, ok)

	ms := NewKernelSpace(alloc, trampolineFrame.PPN())

	trampolineVPN := pagetable.VirtAddr(kernelcfg.Trampoline).Page()
	pte, ok := ms.Translate(trampolineVPN)
	require.True(t, ok)
	require.Equal(t, trampolineFrame.PPN(), pte.PPN())
	require.True(t, pte.Flags().Has(PermX))
	require.False(t, pte.Flags().Has(PermU))

	require.NoError(t, ms.SelfCheck())
}

func TestInsertFramedAreaAndRemove(t *testing.T) {
	alloc := newTestAllocator()
	ms := NewBare(alloc)

	start := pagetable.VirtAddr(0x1000_0000)
	end := pagetable.VirtAddr(0x1000_0000 + 3*mem.PGSIZE)
	ms.InsertFramedArea(start, end, PermR|PermW|PermU)

	_, ok := ms.Translate(start.Page())
	require.True(t, ok)

	ms.RemoveAreaWithStartVPN(start)
	_, ok = ms.Translate(start.Page())
	require.False(t, ok)
}

func TestRemoveAreaWithStartVPNPanicsIfAbsent(t *testing.T) {
	alloc := newTestAllocator()
	ms := NewBare(alloc)
	require.Panics(t, func() {
		ms.RemoveAreaWithStartVPN(pagetable.VirtAddr(0x9999_0000))
	})
}

func TestRecycleDataPagesClearsAllAreas(t *testing.T) {
	alloc := newTestAllocator()
	ms := NewBare(alloc)
	ms.InsertFramedArea(pagetable.VirtAddr(0), pagetable.VirtAddr(2*mem.PGSIZE), PermR|PermW)

	outBefore := alloc.OutCount()
	require.Greater(t, outBefore, 0)

	ms.RecycleDataPages()
	_, ok := ms.Translate(pagetable.VPN(0))
	require.False(t, ok)
	require.Less(t, alloc.OutCount(), outBefore)
}

// buildMinimalELF assembles a tiny valid ELF64 image with one PT_LOAD
// segment, enough for FromELF to parse without needing a real compiled
// RISC-V binary on disk.
func buildMinimalELF(t *testing.T) []byte {
	t.Helper()
	const vaddr = 0x10000
	text := []byte{0x13, 0x00, 0x00, 0x00} // a single RISC-V nop encoding

	ehsize := 64
	phsize := 56
	data := make([]byte, ehsize+phsize+len(text))

	copy(data[0:4], "\x7fELF")
	data[4] = 2 // ELFCLASS64
	data[5] = 1 // ELFDATA2LSB
	data[6] = 1 // EV_CURRENT
	putU16 := func(off int, v uint16) { data[off], data[off+1] = byte(v), byte(v>>8) }
	putU32 := func(off int, v uint32) {
		for i := 0; i < 4; i++ {
			data[off+i] = byte(v >> (8 * i))
		}
	}
	putU64 := func(off int, v uint64) {
		for i := 0; i < 8; i++ {
			data[off+i] = byte(v >> (8 * i))
		}
	}
	putU16(16, 2)                    // e_type = ET_EXEC
	putU16(18, 0xf3)                 // e_machine = EM_RISCV
	putU32(20, 1)                    // e_version
	putU64(24, vaddr)                // e_entry
	putU64(32, uint64(ehsize))       // e_phoff
	putU16(52, uint16(ehsize))       // e_ehsize
	putU16(54, uint16(phsize))       // e_phentsize
	putU16(56, 1)                    // e_phnum

	phOff := ehsize
	putU32(phOff+0, uint32(elf.PT_LOAD))
	putU32(phOff+4, uint32(elf.PF_R|elf.PF_X))
	putU64(phOff+8, uint64(ehsize+phsize)) // p_offset
	putU64(phOff+16, vaddr)                // p_vaddr
	putU64(phOff+24, vaddr)                // p_paddr
	putU64(phOff+32, uint64(len(text)))    // p_filesz
	putU64(phOff+40, uint64(len(text)))    // p_memsz
	putU64(phOff+48, mem.PGSIZE)           // p_align

	copy(data[ehsize+phsize:], text)
	return data
}

func TestFromELFLoadsSegmentAndLaysOutStack(t *testing.T) {
	alloc := newTestAllocator()
	trampolineFrame, _ := alloc.Alloc()

	elfData := buildMinimalELF(t)
	ms, userSP, entry, err := FromELF(alloc, trampolineFrame.PPN(), elfData)
	require.NoError(t, err)
	require.Equal(t, uint64(0x10000), entry)
	require.Greater(t, userSP, uint64(0x10000))

	pte, ok := ms.Translate(pagetable.VPN(0x10000 / mem.PGSIZE))
	require.True(t, ok)
	require.True(t, pte.Flags().Has(PermX))
	require.True(t, pte.Flags().Has(PermU))

	trapCtxVPN := pagetable.VirtAddr(kernelcfg.TrapContext).Page()
	_, ok = ms.Translate(trapCtxVPN)
	require.True(t, ok)
}

func TestFromExistedUserDeepCopiesFramedData(t *testing.T) {
	alloc := newTestAllocator()
	trampolineFrame, _ := alloc.Alloc()

	src := NewBare(alloc)
	src.mapTrampoline(trampolineFrame.PPN())
	area := pagetable.VirtAddr(0x2000)
	src.InsertFramedArea(area, pagetable.VirtAddr(0x2000+mem.PGSIZE), PermR|PermW|PermU)

	srcPTE, ok := src.Translate(area.Page())
	require.True(t, ok)
	src.PageTable().FrameBytes(srcPTE.PPN())[0] = 0xAB

	trampolineFrame2, _ := alloc.Alloc()
	dst := FromExistedUser(alloc, trampolineFrame2.PPN(), src)

	dstPTE, ok := dst.Translate(area.Page())
	require.True(t, ok)
	require.NotEqual(t, srcPTE.PPN(), dstPTE.PPN(), "fork must copy into fresh frames")
	require.Equal(t, byte(0xAB), dst.PageTable().FrameBytes(dstPTE.PPN())[0])

	// mutating the child must not affect the parent (isolation)
	dst.PageTable().FrameBytes(dstPTE.PPN())[0] = 0xCD
	require.Equal(t, byte(0xAB), src.PageTable().FrameBytes(srcPTE.PPN())[0])
}

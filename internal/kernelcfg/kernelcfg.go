// Package kernelcfg holds the fixed address-space layout constants: the
// page size, the high-end TRAMPOLINE/TRAP_CONTEXT pair shared by every
// address space, and the kernel-stack spacing formula used to place one
// stack per PID below them.
package kernelcfg

const (
	PageSize        = 1 << 12
	PageSizeBits    = 12
	UserStackSize   = 2 * PageSize
	KernelStackSize = 2 * PageSize

	// MemoryEndPages is the default number of allocatable frames the frame
	// allocator owns above the kernel image, so the half-open allocatable
	// interval ends (MEMORY_END) at EkernelEndPages + MemoryEndPages.
	MemoryEndPages = 4096 // 16 MiB of allocatable simulated RAM

	// TimeSliceTicks is how many simulated timer ticks (sbi.Firmware.Tick)
	// a task runs before the next timer interrupt fires and preempts it.
	// A hosted kernel has no instruction-level clock to count against, so
	// a tick is consumed once per syscall the running task issues (see
	// internal/syscall's Dispatch).
	TimeSliceTicks uint64 = 10

	// TRAMPOLINE sits at the very top of the 64-bit VA space, one page,
	// mapped R+X at the same VA in every address space.
	Trampoline uint64 = ^uint64(0) - PageSize + 1
	// TRAP_CONTEXT is the page immediately below it, R+W, kernel-only.
	TrapContext uint64 = Trampoline - PageSize
)

// KernelStackPosition returns the (bottom, top) VA of the pid-th kernel
// stack below TRAMPOLINE, one guard page between each pair:
//
//	(bottom, top) = (TRAMPOLINE - pid*(STACK+PAGE) - STACK, TRAMPOLINE - pid*(STACK+PAGE))
func KernelStackPosition(pid int) (bottom, top uint64) {
	top = Trampoline - uint64(pid)*(KernelStackSize+PageSize)
	bottom = top - KernelStackSize
	return bottom, top
}

// Simulated kernel image section sizes, in pages. A hosted kernel has no
// linker-provided stext/etext/srodata/... symbols, so these stand in for
// them: PPNs [0, EkernelEndPages) are reserved for the image and never
// handed out by the frame allocator.
const (
	KernelTextPages   = 4
	KernelRodataPages = 2
	KernelDataPages   = 2
	KernelBssPages    = 2

	EkernelEndPages = KernelTextPages + KernelRodataPages + KernelDataPages + KernelBssPages
)

// KernelImageLayout is the PPN ranges of the simulated kernel image's four
// sections, each a half-open [start, end) interval in page numbers.
type KernelImageLayout struct {
	TextStart, TextEnd     int
	RodataStart, RodataEnd int
	DataStart, DataEnd     int
	BssStart, BssEnd       int
}

// Layout computes the fixed, non-overlapping section ranges packed from
// PPN 0: text, rodata, data, bss.
func Layout() KernelImageLayout {
	var l KernelImageLayout
	l.TextStart, l.TextEnd = 0, KernelTextPages
	l.RodataStart, l.RodataEnd = l.TextEnd, l.TextEnd+KernelRodataPages
	l.DataStart, l.DataEnd = l.RodataEnd, l.RodataEnd+KernelDataPages
	l.BssStart, l.BssEnd = l.DataEnd, l.DataEnd+KernelBssPages
	return l
}

// MMIORegion is one memory-mapped-I/O window identity-mapped R+W in the
// kernel address space.
type MMIORegion struct {
	Base uint64
	Len  uint64
}

// MMIO lists the simulated platform's device windows, standing in for
// the QEMU "virt" machine's virtio-mmio region, which this hosted kernel
// maps but never actually touches.
var MMIO = []MMIORegion{
	{Base: 0x10001000, Len: 0x1000},
}

package task

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sv39edu/sv39kernel/internal/kernelcfg"
	"github.com/sv39edu/sv39kernel/internal/mem"
	"github.com/sv39edu/sv39kernel/internal/pagetable"
	"github.com/sv39edu/sv39kernel/internal/vm"
)

func TestPidAllocRecyclesDroppedIds(t *testing.T) {
	pa := NewPidAllocator()

	p0 := pa.Alloc()
	p1 := pa.Alloc()
	require.Equal(t, 0, p0.PID())
	require.Equal(t, 1, p1.PID())

	p0.Drop()
	p2 := pa.Alloc()
	require.Equal(t, 0, p2.PID(), "a dropped pid must be recycled before bumping")

	p3 := pa.Alloc()
	require.Equal(t, 2, p3.PID())
}

func TestPidDoubleDropPanics(t *testing.T) {
	pa := NewPidAllocator()
	p := pa.Alloc()
	p.Drop()
	require.Panics(t, func() { p.Drop() })
	require.Panics(t, func() { p.PID() })
}

func TestKernelStackPlacementAndDrop(t *testing.T) {
	alloc := mem.NewFrameAllocator(mem.PPN(kernelcfg.EkernelEndPages), 64)
	kernelSpace := vm.NewBare(alloc)

	ks := NewKernelStack(3, kernelSpace)
	bottom, top := kernelcfg.KernelStackPosition(3)
	require.Equal(t, top, ks.Top())

	// every page of the stack is mapped R+W, and the guard page below is not
	_, ok := kernelSpace.Translate(pagetable.VirtAddr(bottom).Page())
	require.True(t, ok)
	_, ok = kernelSpace.Translate(pagetable.VirtAddr(bottom - kernelcfg.PageSize).Page())
	require.False(t, ok, "guard page below the stack must stay unmapped")

	ks.Drop()
	_, ok = kernelSpace.Translate(pagetable.VirtAddr(bottom).Page())
	require.False(t, ok)
	require.Panics(t, func() { ks.Drop() })
}

func TestKernelStacksOfAdjacentPidsDoNotOverlap(t *testing.T) {
	b0, t0 := kernelcfg.KernelStackPosition(0)
	b1, t1 := kernelcfg.KernelStackPosition(1)
	require.Less(t, t1, b0, "pid 1's stack must sit strictly below pid 0's, guard page between")
	require.Equal(t, uint64(kernelcfg.KernelStackSize), t0-b0)
	require.Equal(t, uint64(kernelcfg.KernelStackSize), t1-b1)
	require.Equal(t, uint64(kernelcfg.PageSize), b0-t1, "exactly one guard page between adjacent stacks")
}

// Package task implements process lifecycle: the recyclable PID allocator,
// the pid-derived kernel stack, and the TaskControlBlock with its
// new/fork/exec operations.
package task

import (
	"fmt"
	"sync"

	"github.com/sv39edu/sv39kernel/internal/kernelcfg"
	"github.com/sv39edu/sv39kernel/internal/pagetable"
	"github.com/sv39edu/sv39kernel/internal/vm"
)

// PidAllocator hands out recyclable PIDs: a bump counter plus a LIFO
// recycle list.
type PidAllocator struct {
	mu       sync.Mutex
	current  int
	recycled []int
}

// NewPidAllocator returns an empty allocator.
func NewPidAllocator() *PidAllocator { return &PidAllocator{} }

// Alloc returns a new linear PID token.
func (pa *PidAllocator) Alloc() *PidHandle {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	if n := len(pa.recycled); n > 0 {
		pid := pa.recycled[n-1]
		pa.recycled = pa.recycled[:n-1]
		return &PidHandle{pid: pid, owner: pa}
	}
	pid := pa.current
	pa.current++
	return &PidHandle{pid: pid, owner: pa}
}

func (pa *PidAllocator) dealloc(pid int) {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	if pid >= pa.current {
		panic(fmt.Sprintf("task: dealloc pid %d never allocated", pid))
	}
	for _, r := range pa.recycled {
		if r == pid {
			panic(fmt.Sprintf("task: pid %d already deallocated", pid))
		}
	}
	pa.recycled = append(pa.recycled, pid)
}

// PidHandle is a linear resource binding a PID's lifetime: dropping it
// recycles the id.
type PidHandle struct {
	pid     int
	owner   *PidAllocator
	dropped bool
}

// PID returns the underlying process id.
func (h *PidHandle) PID() int {
	if h.dropped {
		panic("task: use of dropped PidHandle")
	}
	return h.pid
}

// Drop releases the PID back to its allocator.
func (h *PidHandle) Drop() {
	if h.dropped {
		panic("task: double drop of PidHandle")
	}
	h.dropped = true
	h.owner.dealloc(h.pid)
}

// KernelStack is the framed area inserted into the kernel address space at
// a pid-derived position, with a one-page guard below it. Its Drop removes
// the area.
type KernelStack struct {
	pid     int
	kernel  *vm.MemorySet
	dropped bool
}

// NewKernelStack inserts a guard-paged kernel stack for pid into kernel,
// at the position kernelcfg.KernelStackPosition derives.
func NewKernelStack(pid int, kernel *vm.MemorySet) *KernelStack {
	bottom, top := kernelcfg.KernelStackPosition(pid)
	kernel.InsertFramedArea(pagetable.VirtAddr(bottom), pagetable.VirtAddr(top), vm.PermR|vm.PermW)
	return &KernelStack{pid: pid, kernel: kernel}
}

// Top returns the kernel stack's top VA, where a fresh TaskContext's sp
// points.
func (ks *KernelStack) Top() uint64 {
	_, top := kernelcfg.KernelStackPosition(ks.pid)
	return top
}

// Drop removes the kernel stack's area from the kernel address space.
func (ks *KernelStack) Drop() {
	if ks.dropped {
		panic("task: double drop of KernelStack")
	}
	ks.dropped = true
	bottom, _ := kernelcfg.KernelStackPosition(ks.pid)
	ks.kernel.RemoveAreaWithStartVPN(pagetable.VirtAddr(bottom))
}

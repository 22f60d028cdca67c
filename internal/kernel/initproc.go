package kernel

import (
	"encoding/binary"

	"github.com/sv39edu/sv39kernel/internal/defs"
	"github.com/sv39edu/sv39kernel/internal/pagetable"
	"github.com/sv39edu/sv39kernel/internal/task"
)

// ShellLoop is the default body for the first task booted when the caller
// has nothing richer to run as pid 1: it reaps zombie children forever.
// SpawnInit installs it at a process's program slot exactly like any other
// UserProgram, so it interacts with the kernel only through t.Syscall.
func ShellLoop(t *task.TaskControlBlock) {
	const anyChild = ^uint64(0) // -1 as the a0 bit pattern sys_waitpid expects
	for {
		ret := int64(t.Syscall(uint64(defs.SysWaitpid), anyChild, 0, 0))
		switch ret {
		case -1:
			// No children at all (yet): nothing will wake initproc up, so
			// idle in a yield loop rather than spin the hart.
			t.Syscall(uint64(defs.SysYield), 0, 0, 0)
		case -2:
			t.Syscall(uint64(defs.SysYield), 0, 0, 0)
		default:
			log.Infof("[initproc] released a zombie process, pid=%d", ret)
		}
	}
}

// scratchAlloc carves n bytes off the bottom of t's current user stack
// pointer (task.TaskControlBlock.CarveStack), so repeat calls don't
// alias: a UserProgram's stand-in for taking the address of a local
// variable to hand to a syscall (e.g. a pipe fd pair or a waitpid status
// word).
func scratchAlloc(t *task.TaskControlBlock, n int) uint64 {
	return t.CarveStack(n)
}

// writeBytes copies b into t's user address space starting at addr.
func writeBytes(t *task.TaskControlBlock, addr uint64, b []byte) {
	dst := t.PageTable().TranslatedByteBuffer(pagetable.VirtAddr(addr), len(b))
	off := 0
	for _, chunk := range dst {
		n := copy(chunk, b[off:])
		off += n
	}
}

// writeCString carves scratch space for s plus its NUL terminator, writes
// it, and returns the address: what a UserProgram passes as a path/argv
// pointer to sys_open/sys_exec.
func writeCString(t *task.TaskControlBlock, s string) uint64 {
	b := append([]byte(s), 0)
	addr := scratchAlloc(t, len(b))
	writeBytes(t, addr, b)
	return addr
}

func readU32(t *task.TaskControlBlock, addr uint64) uint32 {
	b := t.PageTable().TranslatedRefBytes(pagetable.VirtAddr(addr), 4)
	return binary.LittleEndian.Uint32(b)
}

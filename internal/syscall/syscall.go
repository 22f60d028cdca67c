// Package syscall implements the ABI-level dispatcher: argument
// translation out of user memory followed by a call into the relevant
// subsystem (task lifecycle, file backings, signals). The read/write path
// drops every TCB reference before the possibly-yielding file call.
package syscall

import (
	"encoding/binary"

	"github.com/sv39edu/sv39kernel/internal/defs"
	"github.com/sv39edu/sv39kernel/internal/file"
	"github.com/sv39edu/sv39kernel/internal/fs"
	"github.com/sv39edu/sv39kernel/internal/kernelcfg"
	"github.com/sv39edu/sv39kernel/internal/klog"
	"github.com/sv39edu/sv39kernel/internal/mem"
	"github.com/sv39edu/sv39kernel/internal/pagetable"
	"github.com/sv39edu/sv39kernel/internal/sbi"
	"github.com/sv39edu/sv39kernel/internal/signal"
	"github.com/sv39edu/sv39kernel/internal/task"
	"github.com/sv39edu/sv39kernel/internal/vm"
)

var log = klog.For("syscall")

// PidLookup resolves a pid to its TCB across the whole system, satisfied
// by *sched.TaskManager; kept as a small interface here (rather than
// importing sched) since sched already imports task, and task->syscall
// would otherwise complete a cycle back through sched->task.
type PidLookup interface {
	Lookup(pid int) (*task.TaskControlBlock, bool)
}

// Adder enqueues a freshly created task onto the ready queue, satisfied by
// *sched.Processor.
type Adder interface {
	Add(tcb *task.TaskControlBlock)
}

// ProgramImage bundles an exec-able name's on-disk ELF bytes (parsed by
// vm.FromELF for its layout/entry point) with the UserProgram closure that
// stands in for its compiled instruction stream. The
// boot-wiring package installs one entry per name its root directory can
// resolve, so sys_exec can look up what to actually run after it loads the
// bytes the normal way (open + read_all).
type ProgramImage struct {
	ELF []byte
	Run task.UserProgram
}

// Kernel bundles every piece of shared kernel state the syscall surface
// touches: the block-backed root directory for open/exec, the frame
// allocator and trampoline frame for fork/exec's address-space rebuild,
// and the scheduler's pid lookup/enqueue surface for fork/kill/waitpid.
type Kernel struct {
	RootInode     *fs.Inode
	FrameAlloc    *mem.FrameAllocator
	TrampolinePPN mem.PPN
	PidAlloc      *task.PidAllocator
	KernelSpace   *vm.MemorySet
	Tasks         PidLookup
	Sched         Adder
	Firmware      *sbi.Firmware
	Programs      map[string]ProgramImage
}

// Dispatch is the method installed as task.Dispatch: the hosted stand-in
// for the trap handler's environment-call case, selecting on a7 and
// translating a0..a2. It also stands in for the trap handler's timer
// interrupt arm: since this hosted kernel only observes a task between
// syscalls (there is no real instruction stream to interrupt mid-flight),
// every syscall entry doubles as the one place a pending timer tick can be
// noticed and the next one armed, with the tick granularity coarsened to
// "syscalls issued" rather than wall-clock ticks.
func (k *Kernel) Dispatch(t *task.TaskControlBlock, a7, a0, a1, a2 uint64) int64 {
	fired := k.Firmware.Tick()
	ret := k.dispatch(t, a7, a0, a1, a2)
	// Tick() one-shot disarms on firing, so the next deadline must always be
	// re-armed here regardless of which syscall triggered it, including
	// SysYield, whose own suspend/resume path already satisfies the forced
	// yield below, so it's skipped there to avoid a double yield.
	// SysExit/SysExitGroup never reach here at all: t.Exit blocks forever
	// inside k.dispatch.
	if fired {
		k.Firmware.SetTimer(k.Firmware.ReadTime() + kernelcfg.TimeSliceTicks)
		if defs.SyscallNo(a7) != defs.SysYield {
			t.Yielder().Yield()
		}
	}
	return ret
}

// dispatch is Dispatch's syscall-table switch, split out so the timer-tick
// bookkeeping above wraps every case uniformly.
func (k *Kernel) dispatch(t *task.TaskControlBlock, a7, a0, a1, a2 uint64) int64 {
	switch defs.SyscallNo(a7) {
	case defs.SysOpen:
		return k.sysOpen(t, a0, defs.OpenFlags(a1))
	case defs.SysClose:
		return k.sysClose(t, a0)
	case defs.SysPipe:
		return k.sysPipe(t, a0)
	case defs.SysDup:
		return k.sysDup(t, a0)
	case defs.SysRead:
		return k.sysRead(t, a0, a1, a2)
	case defs.SysWrite:
		return k.sysWrite(t, a0, a1, a2)
	case defs.SysExit:
		t.Exit(int32(a0))
		return 0
	case defs.SysExitGroup:
		t.Exit(int32(a0))
		return 0
	case defs.SysYield:
		t.Yielder().Yield()
		return 0
	case defs.SysGetTime:
		return int64(k.Firmware.ReadTime())
	case defs.SysGetpid:
		return int64(t.PID())
	case defs.SysFork:
		return k.sysFork(t)
	case defs.SysExec:
		return k.sysExec(t, a0, a1)
	case defs.SysWaitpid:
		return k.sysWaitpid(t, int64(int32(a0)), a1)
	case defs.SysShutdown:
		k.Firmware.SystemReset(a0 != 0)
		return 0
	case defs.SysSigaction:
		return k.sysSigaction(t, int(a0), a1, a2)
	case defs.SysSigprocmask:
		return k.sysSigprocmask(t, a0)
	case defs.SysKill:
		return k.sysKill(t, int(a0), int(a1))
	case defs.SysSigreturn:
		return k.sysSigreturn(t)
	default:
		log.Warnf("unsupported syscall %d from pid %d", a7, t.PID())
		return -1
	}
}

func (k *Kernel) sysOpen(t *task.TaskControlBlock, pathPtr uint64, flags defs.OpenFlags) int64 {
	pt := t.PageTable()
	name := pt.TranslatedStr(pagetable.VirtAddr(pathPtr))
	f, ok := file.OpenFile(k.RootInode, name, flags)
	if !ok {
		return -1
	}
	return int64(t.AllocFd(f))
}

func (k *Kernel) sysClose(t *task.TaskControlBlock, fd uint64) int64 {
	if t.Fd(int(fd)) == nil {
		return -1
	}
	t.CloseFd(int(fd))
	return 0
}

func (k *Kernel) sysPipe(t *task.TaskControlBlock, fdArrayPtr uint64) int64 {
	r, w := file.MakePipe(t.Yielder())
	rfd := t.AllocFd(r)
	wfd := t.AllocFd(w)

	pt := t.PageTable()
	buf := pt.TranslatedByteBuffer(pagetable.VirtAddr(fdArrayPtr), 8)
	out := make([]byte, 8)
	binary.LittleEndian.PutUint32(out[0:4], uint32(rfd))
	binary.LittleEndian.PutUint32(out[4:8], uint32(wfd))
	copyInto(buf, out)
	return 0
}

func (k *Kernel) sysDup(t *task.TaskControlBlock, fd uint64) int64 {
	f := t.Fd(int(fd))
	if f == nil {
		return -1
	}
	type duper interface{ Dup() file.File }
	if d, ok := f.(duper); ok {
		return int64(t.AllocFd(d.Dup()))
	}
	return int64(t.AllocFd(f))
}

// sysRead and sysWrite translate the user buffer, then drop every TCB
// reference before calling into the file backing, since that call may
// yield: by the time file.Read/Write run, neither t.Lock() nor any
// TCB-held reference is held by this goroutine.
func (k *Kernel) sysRead(t *task.TaskControlBlock, fd, bufPtr, length uint64) int64 {
	f := t.Fd(int(fd))
	if f == nil || !f.Readable() {
		return -1
	}
	pt := t.PageTable()
	chunks := pt.TranslatedByteBuffer(pagetable.VirtAddr(bufPtr), int(length))
	return int64(f.Read(file.UserBuffer{Buffers: chunks}))
}

func (k *Kernel) sysWrite(t *task.TaskControlBlock, fd, bufPtr, length uint64) int64 {
	f := t.Fd(int(fd))
	if f == nil || !f.Writable() {
		return -1
	}
	pt := t.PageTable()
	chunks := pt.TranslatedByteBuffer(pagetable.VirtAddr(bufPtr), int(length))
	return int64(f.Write(file.UserBuffer{Buffers: chunks}))
}

func (k *Kernel) sysFork(t *task.TaskControlBlock) int64 {
	child := t.Fork(k.PidAlloc, k.KernelSpace, k.TrampolinePPN)
	child.TrapCx().SetA0(0) // child sees fork() return 0
	k.Sched.Add(child)
	return int64(child.PID())
}

func (k *Kernel) sysExec(t *task.TaskControlBlock, pathPtr, argvPtr uint64) int64 {
	pt := t.PageTable()
	name := pt.TranslatedStr(pagetable.VirtAddr(pathPtr))
	var argv []string
	if argvPtr != 0 {
		for i := 0; ; i++ {
			entry := pt.TranslatedRefBytes(pagetable.VirtAddr(argvPtr+uint64(i)*8), 8)
			strPtr := binary.LittleEndian.Uint64(entry)
			if strPtr == 0 {
				break
			}
			argv = append(argv, pt.TranslatedStr(pagetable.VirtAddr(strPtr)))
		}
	}

	osf, ok := file.OpenFile(k.RootInode, name, defs.ORdonly)
	if !ok {
		return -1
	}
	elfData := osf.ReadAll()
	prog, ok := k.Programs[name]
	if !ok {
		log.Errorf("exec %s: no registered program image", name)
		return -1
	}
	// On success Exec never returns: it panics(execSwitch) so the new
	// program takes over this goroutine directly. Only the failure path
	// (a malformed ELF image) returns here.
	err := t.Exec(k.TrampolinePPN, elfData, argv, prog.Run)
	log.Errorf("exec %s: %v", name, err)
	return -1
}

func (k *Kernel) sysWaitpid(t *task.TaskControlBlock, pid int64, statusPtr uint64) int64 {
	children := t.Children()
	if len(children) == 0 {
		return -1
	}
	found := false
	for _, c := range children {
		if pid != -1 && int64(c.PID()) != pid {
			continue
		}
		found = true
		if c.Status() != task.Zombie {
			continue
		}
		code := c.ExitCode()
		if statusPtr != 0 {
			pt := t.PageTable()
			buf := pt.TranslatedRefBytes(pagetable.VirtAddr(statusPtr), 4)
			binary.LittleEndian.PutUint32(buf, uint32(code))
		}
		childPID := c.PID()
		t.ReapChild(c)
		return int64(childPID)
	}
	if !found {
		return -1
	}
	return -2
}

func (k *Kernel) sysSigaction(t *task.TaskControlBlock, signo int, actionPtr, oldPtr uint64) int64 {
	if actionPtr == 0 || signal.Rejected(signo) || signo < 1 || signo > signal.MaxSig {
		return -1
	}
	pt := t.PageTable()
	if oldPtr != 0 {
		old := t.SigAction(signo)
		buf := pt.TranslatedRefBytes(pagetable.VirtAddr(oldPtr), 12)
		binary.LittleEndian.PutUint64(buf[0:8], old.Handler)
		binary.LittleEndian.PutUint32(buf[8:12], uint32(old.Mask))
	}
	raw := pt.TranslatedRefBytes(pagetable.VirtAddr(actionPtr), 12)
	t.SetSigAction(signo, signal.Action{
		Handler: binary.LittleEndian.Uint64(raw[0:8]),
		Mask:    signal.SigSet(binary.LittleEndian.Uint32(raw[8:12])),
	})
	return 0
}

func (k *Kernel) sysSigprocmask(t *task.TaskControlBlock, mask uint64) int64 {
	old := t.SigMask()
	t.SetSigMask(signal.SigSet(mask))
	return int64(old)
}

func (k *Kernel) sysKill(t *task.TaskControlBlock, pid, signo int) int64 {
	target, ok := k.Tasks.Lookup(pid)
	if !ok || target.Status() == task.Zombie {
		return -1
	}
	if signo < 1 || signo > signal.MaxSig {
		return -1
	}
	target.AddSignal(signo)
	return 0
}

func (k *Kernel) sysSigreturn(t *task.TaskControlBlock) int64 {
	if !t.SigReturn() {
		return -1
	}
	return int64(t.TrapCx().A0())
}

func copyInto(dst [][]byte, src []byte) {
	off := 0
	for _, chunk := range dst {
		n := copy(chunk, src[off:])
		off += n
	}
}


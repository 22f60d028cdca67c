package task

import (
	"encoding/binary"
	"sync"

	"github.com/sv39edu/sv39kernel/internal/defs"
	"github.com/sv39edu/sv39kernel/internal/file"
	"github.com/sv39edu/sv39kernel/internal/kernelcfg"
	"github.com/sv39edu/sv39kernel/internal/klog"
	"github.com/sv39edu/sv39kernel/internal/mem"
	"github.com/sv39edu/sv39kernel/internal/pagetable"
	"github.com/sv39edu/sv39kernel/internal/signal"
	"github.com/sv39edu/sv39kernel/internal/trapframe"
	"github.com/sv39edu/sv39kernel/internal/vm"
)

var log = klog.For("task")

// Status is a task's scheduling state.
type Status int

const (
	Ready Status = iota
	Running
	Zombie
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Zombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// Scheduler is the callback surface a TaskControlBlock uses to give up the
// CPU, satisfied by *sched.Processor. Defined here (rather than having task
// import sched) so the scheduler can hold *TaskControlBlock without an
// import cycle; task only needs these three methods, matching the narrow
// Killer/Yielder interfaces internal/file already defines for the same
// reason.
type Scheduler interface {
	// SuspendAndRunNext re-enqueues tcb at the ready-queue tail and blocks
	// its goroutine until the scheduler resumes it.
	SuspendAndRunNext(tcb *TaskControlBlock)
	// ExitAndRunNext marks tcb Zombie with the given exit code and hands
	// control to the next ready task without ever resuming tcb's
	// goroutine.
	ExitAndRunNext(tcb *TaskControlBlock, exitCode int32)
	// Add enqueues a freshly created task (fork/initproc) at the ready
	// queue's tail.
	Add(tcb *TaskControlBlock)
}

// inner holds a task's mutable state, guarded by one mutex. The locking
// discipline is acquire, mutate, drop, then switch: the lock is never held
// across a context switch or a blocking file operation.
type inner struct {
	mu sync.Mutex

	trapCxPPN mem.PPN
	trapCx    *trapframe.TrapContext
	taskCx    trapframe.TaskContext
	status    Status
	memSet    *vm.MemorySet
	baseSize  uint64

	parent   *TaskControlBlock
	children []*TaskControlBlock
	exitCode int32

	fdTable []file.File // nil entry = closed fd

	// Signal state.
	pending       signal.SigSet
	mask          signal.SigSet
	actions       [signal.MaxSig + 1]signal.Action
	handlingSig   int // -1 = none
	killed        bool
	frozen        bool
	trapCtxBackup *trapframe.TrapContext
}

// TaskControlBlock is a process: immutable pid/kernel stack/trampoline,
// and every mutable field behind inner's mutex.
type TaskControlBlock struct {
	pid    *PidHandle
	kstack *KernelStack

	trampoline *trapframe.Trampoline
	sched      Scheduler
	alloc      *mem.FrameAllocator
	program    UserProgram
	started    bool

	// nextChild, if set, is the UserProgram the next Fork call installs on
	// the child instead of reusing t.program; consumed (cleared) by Fork.
	// Only t's own goroutine ever touches this, and always immediately
	// before the sys_fork call that consumes it, so it needs no lock.
	nextChild UserProgram

	inner inner
}

// UserProgram is the hosted stand-in for a compiled RISC-V user binary's
// entry point: a Go function run on its own goroutine that may only act on
// the kernel through t's exported surface (Syscall, RaiseFault), never by
// touching kernel state directly: the same user/supervisor separation a
// real MMU would enforce.
type UserProgram func(t *TaskControlBlock)

// execSwitch is panicked by Exec on a successful address-space rebuild to
// hand RunProgram's recover loop the new program to run in t's goroutine
// in place of the old one. Go has no goto/longjmp to jump to a different
// function's entry from inside the old one's call stack, so panic/recover
// is the idiomatic stand-in: the old program's remaining statements never
// execute, matching a real exec() that never returns to the caller.
type execSwitch struct{ next UserProgram }

// Dispatch is installed once (by internal/kernel's Boot) to break the
// task->syscall->task import cycle the same way Scheduler breaks
// task->sched->task: internal/syscall's Dispatch function is handed to
// every TCB's Syscall method indirectly through this package-level var.
var Dispatch func(tcb *TaskControlBlock, a7, a0, a1, a2 uint64) int64

// newBlank allocates the parts of a TCB shared by every construction path:
// a pid, its kernel stack in kernelSpace, and a fresh Trampoline rendezvous.
func newBlank(pids *PidAllocator, kernelSpace *vm.MemorySet, alloc *mem.FrameAllocator, sched Scheduler) (*TaskControlBlock, *KernelStack) {
	pid := pids.Alloc()
	kstack := NewKernelStack(pid.PID(), kernelSpace)
	t := &TaskControlBlock{
		pid:        pid,
		kstack:     kstack,
		trampoline: trapframe.NewTrampoline(),
		sched:      sched,
		alloc:      alloc,
	}
	t.inner.handlingSig = -1
	t.inner.fdTable = []file.File{nil, nil, nil} // stdin, stdout, stderr
	return t, kstack
}

// NewInitProc builds the first user task from an ELF image: a fresh
// address space via vm.FromELF, a TRAP_CONTEXT page filled in with
// NewAppInitContext, and a TaskContext primed to resume at trap return.
// trampolinePPN is the physical frame backing the shared TRAMPOLINE page;
// kernelSpace is the kernel's own address space the stack is inserted into.
func NewInitProc(pids *PidAllocator, kernelSpace *vm.MemorySet, alloc *mem.FrameAllocator, trampolinePPN mem.PPN, sched Scheduler, elfData []byte, program UserProgram) (*TaskControlBlock, error) {
	t, kstack := newBlank(pids, kernelSpace, alloc, sched)
	memSet, userSP, entry, err := vm.FromELF(alloc, trampolinePPN, elfData)
	if err != nil {
		return nil, err
	}
	t.program = program
	t.installAddressSpace(memSet, userSP, entry, kstack.Top())
	return t, nil
}

// installAddressSpace wires a newly built MemorySet into the TCB: locates
// the TRAP_CONTEXT PPN, writes the initial TrapContext, and primes the
// kernel-side TaskContext to resume at trap_return.
func (t *TaskControlBlock) installAddressSpace(memSet *vm.MemorySet, userSP, entry, kstackTop uint64) {
	pte, ok := memSet.Translate(pagetable.VirtAddr(kernelcfg.TrapContext).Page())
	if !ok {
		panic("task: TRAP_CONTEXT not mapped in new address space")
	}
	t.Lock()
	t.inner.memSet = memSet
	t.inner.trapCxPPN = pte.PPN()
	t.inner.trapCx = trapframe.NewAppInitContext(entry, userSP, kernelSpaceToken(memSet), kstackTop, trapReturnSentinel)
	t.inner.taskCx = trapframe.GotoTrapReturn(kstackTop, trapReturnSentinel)
	t.Unlock()
}

// trapReturnSentinel stands in for the trampoline's __restore entry address
// in this hosted model; CrossToUser/CrossToKernel transfer control via
// channel rendezvous rather than an indirect jump, so the value itself is
// only ever logged, never executed.
const trapReturnSentinel = 0xffffffffdeadbeef

// kernelSpaceToken returns the satp-format token a trap handler would
// restore into kernel mode; here it simply re-derives it from the TCB's
// memSet, standing in for the kernel address space's token that a real
// trap context records at creation time.
func kernelSpaceToken(ms *vm.MemorySet) uint64 { return ms.Token() }

// SetNextChildProgram installs the UserProgram the next Fork call should
// give its child, in place of reusing t's own program. A real fork()
// resumes the very same instruction stream in parent and child, branching
// only on sys_fork's return value (0 in the child); a Go goroutine has no
// such continuation to duplicate, so a test/boot program that wants the
// child to run different code supplies it explicitly, immediately before
// calling sys_fork. Left unset, the child simply runs
// the same UserProgram the parent does (the common case, e.g. two
// identical CPU-bound loops), which is exactly what fork resuming the same
// code would produce anyway.
func (t *TaskControlBlock) SetNextChildProgram(p UserProgram) {
	t.nextChild = p
}

// rebindFdTable builds a child's fd table from a parent's. Any backing
// that holds a task reference or a peer count (stdio, pipe ends) is
// re-bound to the child via file.Rebinder, so blocking suspends the child
// rather than the parent and a pipe's peer count reflects both fd-table
// slots; anything else (OSInode) is shared by reference, exactly as POSIX
// fork shares one open-file description across parent and child.
func rebindFdTable(src []file.File, k file.Killer, y file.Yielder) []file.File {
	out := make([]file.File, len(src))
	for i, f := range src {
		if f == nil {
			continue
		}
		if rb, ok := f.(file.Rebinder); ok {
			out[i] = rb.Rebind(k, y)
		} else {
			out[i] = f
		}
	}
	return out
}

// Fork duplicates t into a new child TCB via vm.FromExistedUser,
// inheriting the fd table (rebound to the child, see rebindFdTable) and
// linking parent and child.
func (t *TaskControlBlock) Fork(pids *PidAllocator, kernelSpace *vm.MemorySet, trampolinePPN mem.PPN) *TaskControlBlock {
	t.Lock()
	srcMemSet := t.inner.memSet
	srcTrapCx := *t.inner.trapCx
	fdSnapshot := make([]file.File, len(t.inner.fdTable))
	copy(fdSnapshot, t.inner.fdTable)
	baseSize := t.inner.baseSize
	t.Unlock()

	childProgram := t.nextChild
	if childProgram == nil {
		childProgram = t.program
	}
	t.nextChild = nil

	child, kstack := newBlank(pids, kernelSpace, t.alloc, t.sched)
	child.program = childProgram
	childFds := rebindFdTable(fdSnapshot, child, child.Yielder())
	childMemSet := vm.FromExistedUser(t.alloc, trampolinePPN, srcMemSet)
	pte, ok := childMemSet.Translate(pagetable.VirtAddr(kernelcfg.TrapContext).Page())
	if !ok {
		panic("task: TRAP_CONTEXT not mapped in forked address space")
	}

	child.Lock()
	child.inner.memSet = childMemSet
	child.inner.trapCxPPN = pte.PPN()
	childTrapCx := srcTrapCx
	childTrapCx.KernelSP = kstack.Top()
	child.inner.trapCx = &childTrapCx
	child.inner.taskCx = trapframe.GotoTrapReturn(kstack.Top(), trapReturnSentinel)
	child.inner.baseSize = baseSize
	child.inner.fdTable = childFds
	child.inner.parent = t
	child.Unlock()

	t.Lock()
	t.inner.children = append(t.inner.children, child)
	t.Unlock()

	return child
}

// Exec replaces t's address space in place with a new ELF image: the pid,
// kernel stack, fd table, and parent/child links all survive; only memSet
// and the trap context are rebuilt. argv is laid out on the fresh user
// stack (each string, then a NULL-terminated pointer array), with the
// final a0/a1 set to argc/argv_base.
//
// newProgram is the UserProgram standing in for the freshly loaded ELF's
// instruction stream. On success Exec never returns; it panics(execSwitch)
// so RunProgram's recover loop picks up newProgram in this same goroutine,
// matching the real syscall's behavior of never resuming the calling
// program. On failure (a bad ELF image) it returns the error normally and
// t is left running its old program untouched, exactly as a failed exec()
// must.
func (t *TaskControlBlock) Exec(trampolinePPN mem.PPN, elfData []byte, argv []string, newProgram UserProgram) error {
	memSet, userSP, entry, err := vm.FromELF(t.alloc, trampolinePPN, elfData)
	if err != nil {
		return err
	}

	// The old image's frames go back to the allocator before the new space
	// is installed; only the commit point above (a parseable ELF) keeps a
	// failed exec from tearing down the caller's memory.
	t.Lock()
	oldMemSet := t.inner.memSet
	t.inner.memSet = nil
	t.Unlock()
	if oldMemSet != nil {
		oldMemSet.RecycleDataPages()
		oldMemSet.Destroy()
	}

	t.installAddressSpace(memSet, userSP, entry, t.kstack.Top())

	argc, argvBase := layoutArgv(memSet.PageTable(), userSP, argv)
	t.Lock()
	t.inner.trapCx.SetA0(uint64(argc))
	t.inner.trapCx.X[11] = argvBase // a1
	t.inner.trapCx.SetSP(argvBase &^ 7)
	t.Unlock()

	t.program = newProgram
	panic(execSwitch{next: newProgram})
}

// layoutArgv writes each argv string below stackTop, then a
// NULL-terminated array of pointers to those strings below the strings
// (8-byte aligned), returning (argc, argv_base).
func layoutArgv(pt *pagetable.PageTable, stackTop uint64, argv []string) (argc int, argvBase uint64) {
	sp := stackTop
	ptrs := make([]uint64, len(argv))
	for i, arg := range argv {
		bytes := append([]byte(arg), 0)
		sp -= uint64(len(bytes))
		dst := pt.TranslatedByteBuffer(pagetable.VirtAddr(sp), len(bytes))
		copyInto(dst, bytes)
		ptrs[i] = sp
	}
	sp &^= 7 // pointer alignment

	tableLen := (len(argv) + 1) * 8
	sp -= uint64(tableLen)
	sp &^= 7
	table := pt.TranslatedByteBuffer(pagetable.VirtAddr(sp), tableLen)
	buf := make([]byte, tableLen)
	for i, p := range ptrs {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], p)
	}
	// last entry stays zero: the NULL terminator
	copyInto(table, buf)

	return len(argv), sp
}

func copyInto(dst [][]byte, src []byte) {
	off := 0
	for _, chunk := range dst {
		n := copy(chunk, src[off:])
		off += n
	}
}

// PID returns the task's process id.
func (t *TaskControlBlock) PID() int { return t.pid.PID() }

// Trampoline exposes the per-task crossing rendezvous for internal/sched's
// RunTasks loop.
func (t *TaskControlBlock) Trampoline() *trapframe.Trampoline { return t.trampoline }

// Started reports whether this task's goroutine has ever been launched.
func (t *TaskControlBlock) Started() bool { return t.started }

// MarkStarted records that the task's goroutine has been launched; called
// once by the scheduler immediately before the first CrossToUser.
func (t *TaskControlBlock) MarkStarted() { t.started = true }

// RunProgram is the body of the task's dedicated goroutine. It runs the
// current program to completion, where "completion" is either an ordinary
// return (treated as an implicit exit(0), matching a user main falling off
// the end) or an exec's execSwitch panic, in which case the loop continues
// with the new program instead of unwinding further: the hosted
// equivalent of exec never returning to the caller's code.
func (t *TaskControlBlock) RunProgram() {
	prog := t.program
	for {
		next, exited := t.runOnce(prog)
		if exited {
			break
		}
		prog = next
	}
	t.sched.ExitAndRunNext(t, 0)
}

// runOnce runs one program to either a normal return (exited=true) or an
// exec-switch (exited=false, next set to the new program), recovering the
// execSwitch panic Exec raises on success. Any other panic propagates.
func (t *TaskControlBlock) runOnce(prog UserProgram) (next UserProgram, exited bool) {
	exited = true
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		sw, ok := r.(execSwitch)
		if !ok {
			panic(r)
		}
		next, exited = sw.next, false
	}()
	prog(t)
	return nil, true
}

// Syscall is what a task's program closure calls to perform a syscall; it
// is the hosted stand-in for ecall + trap dispatch. After the syscall body
// runs, pending signals are delivered before control returns to user code,
// and a signal-induced kill takes effect immediately: signals are checked
// on every trap return.
func (t *TaskControlBlock) Syscall(a7, a0, a1, a2 uint64) int64 {
	ret := Dispatch(t, a7, a0, a1, a2)
	t.HandleSignals()
	if t.isKilled() {
		code := t.ExitCode()
		t.sched.ExitAndRunNext(t, code)
	}
	return ret
}

// Lock acquires the per-task exclusive access cell.
func (t *TaskControlBlock) Lock() { t.inner.mu.Lock() }

// Unlock releases it.
func (t *TaskControlBlock) Unlock() { t.inner.mu.Unlock() }

// Status returns the task's current scheduling state.
func (t *TaskControlBlock) Status() Status {
	t.Lock()
	defer t.Unlock()
	return t.inner.status
}

// SetStatus sets the task's scheduling state; called only by internal/sched.
func (t *TaskControlBlock) SetStatus(s Status) {
	t.Lock()
	defer t.Unlock()
	t.inner.status = s
}

// TaskContext returns a pointer to the saved kernel switch context, for the
// scheduler's cooperative-switch primitive.
func (t *TaskControlBlock) TaskContext() *trapframe.TaskContext {
	return &t.inner.taskCx
}

// TrapCx returns the task's current TrapContext. On real hardware this
// lives in the page at trapCxPPN; this hosted model keeps the struct
// itself as the source of truth and only tracks trapCxPPN for identity
// (used by fork/exec bookkeeping and logging), since nothing in this
// simulation reads the TRAP_CONTEXT page as raw bytes the way a real
// __restore does.
func (t *TaskControlBlock) TrapCx() *trapframe.TrapContext {
	t.Lock()
	defer t.Unlock()
	return t.inner.trapCx
}

// CarveStack decrements t's current user stack pointer by n bytes (8-byte
// aligned) and returns the resulting address; the same bookkeeping
// Exec's layoutArgv does for argv storage, exposed here so a UserProgram
// can take the address of a local variable to hand to a syscall (a pipe
// fd pair, a waitpid status word) without ever touching inner directly.
func (t *TaskControlBlock) CarveStack(n int) uint64 {
	t.Lock()
	defer t.Unlock()
	sp := t.inner.trapCx.SP()
	sp -= uint64(n)
	sp &^= 7
	t.inner.trapCx.SetSP(sp)
	return sp
}

// TrapCxPPN returns the physical frame backing the task's TRAP_CONTEXT
// page.
func (t *TaskControlBlock) TrapCxPPN() mem.PPN {
	t.Lock()
	defer t.Unlock()
	return t.inner.trapCxPPN
}

// MemorySet exposes the task's address space.
func (t *TaskControlBlock) MemorySet() *vm.MemorySet {
	t.Lock()
	defer t.Unlock()
	return t.inner.memSet
}

// PageTable is a convenience accessor used throughout internal/syscall for
// user-pointer translation.
func (t *TaskControlBlock) PageTable() *pagetable.PageTable {
	t.Lock()
	defer t.Unlock()
	return t.inner.memSet.PageTable()
}

// Parent returns the task's parent, or nil for initproc.
func (t *TaskControlBlock) Parent() *TaskControlBlock {
	t.Lock()
	defer t.Unlock()
	return t.inner.parent
}

// Children returns a snapshot of the task's owned children.
func (t *TaskControlBlock) Children() []*TaskControlBlock {
	t.Lock()
	defer t.Unlock()
	out := make([]*TaskControlBlock, len(t.inner.children))
	copy(out, t.inner.children)
	return out
}

// ClearChildren detaches every child (used by exit handling once they are
// reparented to initproc).
func (t *TaskControlBlock) ClearChildren() {
	t.Lock()
	defer t.Unlock()
	t.inner.children = nil
}

// AddChild reparents an orphan onto t, matching exit_current_and_run_next's
// "give children to initproc" step.
func (t *TaskControlBlock) AddChild(child *TaskControlBlock) {
	t.Lock()
	defer t.Unlock()
	t.inner.children = append(t.inner.children, child)
	child.setParent(t)
}

func (t *TaskControlBlock) setParent(p *TaskControlBlock) {
	t.Lock()
	defer t.Unlock()
	t.inner.parent = p
}

// ExitCode returns the task's recorded exit code (valid once Zombie).
func (t *TaskControlBlock) ExitCode() int32 {
	t.Lock()
	defer t.Unlock()
	return t.inner.exitCode
}

// SetExitCode records code as t's final exit status; called by the
// scheduler's ExitAndRunNext once, the moment the task becomes Zombie.
func (t *TaskControlBlock) SetExitCode(code int32) {
	t.Lock()
	defer t.Unlock()
	t.inner.exitCode = code
}

// RecycleMemory tears down the user portion of t's address space
// (RecycleDataPages), keeping only the page table itself reachable until
// the parent reaps the zombie.
func (t *TaskControlBlock) RecycleMemory() {
	t.Lock()
	defer t.Unlock()
	t.inner.memSet.RecycleDataPages()
}

// destroy releases everything RecycleMemory left behind once a parent
// actually reaps this zombie: the page table's own frames, the kernel
// stack, and the PID. It does not check the task's status itself;
// ReapChild, the only caller, panics on a child that is not Zombie.
func (t *TaskControlBlock) destroy() {
	t.Lock()
	t.inner.memSet.Destroy()
	t.Unlock()
	t.kstack.Drop()
	t.pid.Drop()
}

// ReapChild completes waitpid on an already-Zombie child: detaches it from
// t's children and releases every resource it still held. fds were already
// closed at exit time by CloseAllFds, so only the address space, kernel
// stack, and pid remain to cascade-free.
func (t *TaskControlBlock) ReapChild(child *TaskControlBlock) {
	if child.Status() != Zombie {
		panic("task: ReapChild on a non-zombie child")
	}
	t.Lock()
	for i, c := range t.inner.children {
		if c == child {
			t.inner.children = append(t.inner.children[:i], t.inner.children[i+1:]...)
			break
		}
	}
	t.Unlock()
	child.destroy()
}

// Fd returns the file backing fd, or nil if fd is out of range or closed.
func (t *TaskControlBlock) Fd(fd int) file.File {
	t.Lock()
	defer t.Unlock()
	if fd < 0 || fd >= len(t.inner.fdTable) {
		return nil
	}
	return t.inner.fdTable[fd]
}

// AllocFd installs f in the first free slot (growing the table if none is
// free) and returns its fd number; the allocation rule open/pipe/dup
// share.
func (t *TaskControlBlock) AllocFd(f file.File) int {
	t.Lock()
	defer t.Unlock()
	for i, e := range t.inner.fdTable {
		if e == nil {
			t.inner.fdTable[i] = f
			return i
		}
	}
	t.inner.fdTable = append(t.inner.fdTable, f)
	return len(t.inner.fdTable) - 1
}

// closer is satisfied by file backings that track peer references (pipe
// ends), so CloseFd can notify them without a type switch per backing.
type closer interface{ Close() }

// CloseFd drops fd, invoking Close() on the backing file if it tracks peer
// references (pipe ends), so a pipe's other side can observe EOF. Returns
// false if fd was already closed or out of range.
func (t *TaskControlBlock) CloseFd(fd int) bool {
	t.Lock()
	if fd < 0 || fd >= len(t.inner.fdTable) || t.inner.fdTable[fd] == nil {
		t.Unlock()
		return false
	}
	f := t.inner.fdTable[fd]
	t.inner.fdTable[fd] = nil
	t.Unlock()
	if c, ok := f.(closer); ok {
		c.Close()
	}
	return true
}

// CloseAllFds drops every open fd: called once by the scheduler as part
// of exit, after reparenting children, so e.g. a pipe's peer sees EOF as
// soon as every reader/writer on the exiting side is gone.
func (t *TaskControlBlock) CloseAllFds() {
	t.Lock()
	n := len(t.inner.fdTable)
	t.Unlock()
	for fd := 0; fd < n; fd++ {
		t.CloseFd(fd)
	}
}

// Exit terminates t immediately with code, the direct path sys_exit takes
// (as opposed to Kill, which only flags the task and lets Syscall notice
// and unwind on its next check). Never returns: like every other exit
// path, it hands control back to the hart via CrossToKernel and this
// goroutine is never resumed.
func (t *TaskControlBlock) Exit(code int32) {
	t.sched.ExitAndRunNext(t, code)
}

// Kill satisfies internal/file.Killer: a file backing calls this to
// terminate the task on an illegal access (e.g. Stdin write).
func (t *TaskControlBlock) Kill(exitCode int32) {
	t.Lock()
	t.inner.killed = true
	t.inner.exitCode = exitCode
	t.Unlock()
}

func (t *TaskControlBlock) isKilled() bool {
	t.Lock()
	defer t.Unlock()
	return t.inner.killed
}

// TrapCause identifies the kind of exception that reached the trap
// handler outside the syscall path.
type TrapCause int

const (
	CauseStorePageFault TrapCause = iota
	CauseLoadPageFault
	CauseInstructionPageFault
	CauseIllegalInstruction
	CauseOther
)

func (c TrapCause) String() string {
	switch c {
	case CauseStorePageFault:
		return "store page fault"
	case CauseLoadPageFault:
		return "load page fault"
	case CauseInstructionPageFault:
		return "instruction page fault"
	case CauseIllegalInstruction:
		return "illegal instruction"
	default:
		return "other trap"
	}
}

// RaiseFault is the hosted stand-in for the trap handler's non-syscall
// exception arms: a program reaches this instead of issuing a real invalid
// memory access or opcode, since this kernel has no MMU trapping real
// hardware faults. It logs and terminates the task with the exit code
// fixed for each cause, then blocks forever on the trampoline rendezvous
// exactly as Exit does; the calling goroutine never resumes, so no
// panic/recover is needed here the way Exec needs one.
func (t *TaskControlBlock) RaiseFault(cause TrapCause) {
	code := defs.ExitOtherTrap
	switch cause {
	case CauseStorePageFault, CauseLoadPageFault, CauseInstructionPageFault:
		code = defs.ExitPageFault
	case CauseIllegalInstruction:
		code = defs.ExitIllegalInstruction
	}
	log.Warnf("task %d: %s, terminating with code %d", t.PID(), cause, code)
	t.Exit(code)
}

// yielder adapts a TaskControlBlock to internal/file.Yielder, so file
// backings can block without importing internal/sched.
type yielder struct{ t *TaskControlBlock }

func (y yielder) Yield() { y.t.sched.SuspendAndRunNext(y.t) }

// Yielder returns this task's file.Yielder adapter.
func (t *TaskControlBlock) Yielder() file.Yielder { return yielder{t} }

// ---- Signals ----

// Frozen means SIGSTOP was delivered and only SIGCONT/SIGKILL wake the
// task back up.
func (t *TaskControlBlock) Frozen() bool {
	t.Lock()
	defer t.Unlock()
	return t.inner.frozen
}

// AddSignal ORs signo into t's pending set, matching sys_kill's delivery
// step.
func (t *TaskControlBlock) AddSignal(signo int) {
	t.Lock()
	defer t.Unlock()
	t.inner.pending = t.inner.pending.Add(signo)
}

// SigMask returns the task's current signal mask.
func (t *TaskControlBlock) SigMask() signal.SigSet {
	t.Lock()
	defer t.Unlock()
	return t.inner.mask
}

// SetSigMask installs a new signal mask, matching sys_sigprocmask.
func (t *TaskControlBlock) SetSigMask(mask signal.SigSet) {
	t.Lock()
	defer t.Unlock()
	t.inner.mask = mask
}

// SigAction returns the handler table entry for signo.
func (t *TaskControlBlock) SigAction(signo int) signal.Action {
	t.Lock()
	defer t.Unlock()
	return t.inner.actions[signo]
}

// SetSigAction installs act for signo, matching sys_sigaction. The
// caller is responsible for rejecting SIGKILL/SIGSTOP and null handlers
// per signal.Rejected, since those checks need the raw user pointer.
func (t *TaskControlBlock) SetSigAction(signo int, act signal.Action) {
	t.Lock()
	defer t.Unlock()
	t.inner.actions[signo] = act
}

// HandleSignals is the outer signal dispatch loop: check every pending
// signal, then, while the task is frozen (SIGSTOP delivered) and not
// killed, yield and check again, giving a frozen task the chance to
// observe a later SIGCONT or SIGKILL instead of spinning forever
// unscheduled.
func (t *TaskControlBlock) HandleSignals() {
	for {
		t.checkPendingSignals()
		t.Lock()
		frozen, killed := t.inner.frozen, t.inner.killed
		t.Unlock()
		if !frozen || killed {
			return
		}
		t.sched.SuspendAndRunNext(t)
	}
}

// checkPendingSignals applies every kernel signal currently pending and, on
// reaching the first non-kernel signal with an eligible delivery, redirects
// to its handler and stops.
func (t *TaskControlBlock) checkPendingSignals() {
	for {
		t.Lock()
		signo, ok := signal.NextPending(t.inner.pending, t.inner.mask, t.inner.handlingSig, t.inner.actions)
		if !ok {
			t.Unlock()
			return
		}
		t.inner.pending = t.inner.pending.Remove(signo)
		t.Unlock()

		if signal.IsKernelSignal(signo) {
			t.handleKernelSignal(signo)
			continue
		}
		t.deliverToHandler(signo)
		return
	}
}

func (t *TaskControlBlock) handleKernelSignal(signo int) {
	t.Lock()
	defer t.Unlock()
	switch signo {
	case signal.SIGKILL, signal.SIGDEF:
		t.inner.killed = true
		t.inner.exitCode = defs.ExitSignalKilled
	case signal.SIGSTOP:
		t.inner.frozen = true
	case signal.SIGCONT:
		t.inner.frozen = false
	}
}

// deliverToHandler backs up the trap context and redirects sepc/a0 to the
// installed handler.
func (t *TaskControlBlock) deliverToHandler(signo int) {
	t.Lock()
	defer t.Unlock()
	action := t.inner.actions[signo]
	if action.Handler == 0 {
		// Default action for an unhandled, non-kernel signal: terminate.
		t.inner.killed = true
		t.inner.exitCode = defs.ExitSignalDefault
		return
	}
	backup := *t.inner.trapCx
	t.inner.trapCtxBackup = &backup
	t.inner.handlingSig = signo

	t.inner.trapCx.Sepc = action.Handler
	t.inner.trapCx.SetA0(uint64(signo))
}

// SigReturn restores the trap context HandleSignals backed up; returns
// false if no handler is currently active.
func (t *TaskControlBlock) SigReturn() bool {
	t.Lock()
	defer t.Unlock()
	if t.inner.trapCtxBackup == nil {
		return false
	}
	*t.inner.trapCx = *t.inner.trapCtxBackup
	t.inner.trapCtxBackup = nil
	t.inner.handlingSig = -1
	return true
}

// Package kernel wires every subsystem under internal/ into one bootable
// system: the frame allocator and kernel address space, the filesystem and
// its backing block device, the scheduler, the simulated SBI firmware, and
// the syscall dispatcher. Memory first, then storage, then tasks, as one
// Go constructor instead of a sequence of global initializers, since this
// hosted kernel has no linker script to place those in.
package kernel

import (
	"fmt"
	"io"

	"github.com/sv39edu/sv39kernel/internal/blockdev"
	"github.com/sv39edu/sv39kernel/internal/defs"
	"github.com/sv39edu/sv39kernel/internal/file"
	"github.com/sv39edu/sv39kernel/internal/fs"
	"github.com/sv39edu/sv39kernel/internal/kernelcfg"
	"github.com/sv39edu/sv39kernel/internal/klog"
	"github.com/sv39edu/sv39kernel/internal/mem"
	"github.com/sv39edu/sv39kernel/internal/sbi"
	"github.com/sv39edu/sv39kernel/internal/sched"
	"github.com/sv39edu/sv39kernel/internal/syscall"
	"github.com/sv39edu/sv39kernel/internal/task"
	"github.com/sv39edu/sv39kernel/internal/userelf"
	"github.com/sv39edu/sv39kernel/internal/vm"
)

var log = klog.For("kernel")

// Default easy-fs image geometry for a freshly created in-memory
// filesystem (no --image given): small enough to build instantly, large
// enough to hold a handful of registered program images.
const (
	defaultImageBlocks       = 8192 // 4 MiB of 512-byte blocks
	defaultInodeBitmapBlocks = 4
)

// Config holds the boot-time parameters cmd/kernel's flags populate.
type Config struct {
	// MemPages is the simulated physical RAM arena's page count, beyond the
	// fixed kernel-image reservation. Zero selects kernelcfg's default.
	MemPages int
	// ImagePath, if non-empty, names an existing easy-fs image file to
	// mount; otherwise a fresh in-memory filesystem is created.
	ImagePath string
}

// Kernel is the fully wired, bootable system: every subsystem already
// constructed and cross-linked.
type Kernel struct {
	alloc           *mem.FrameAllocator
	trampolineToken mem.FrameToken
	trampolinePPN   mem.PPN
	kernelSpace     *vm.MemorySet

	pids *task.PidAllocator
	mgr  *sched.TaskManager
	proc *sched.Processor

	firmware *sbi.Firmware
	dev      blockdev.BlockDevice
	efs      *fs.EasyFileSystem

	sys     *syscall.Kernel
	initPID int
}

// Boot constructs every kernel singleton and installs task.Dispatch, the
// one piece of global wiring internal/task's import-cycle-avoiding design
// requires (see tcb.go's Dispatch doc). out receives console output
// (stdout/stderr), matching sbi.Firmware's console_putchar sink.
func Boot(cfg Config, out io.Writer) (*Kernel, error) {
	memPages := cfg.MemPages
	if memPages <= 0 {
		memPages = kernelcfg.MemoryEndPages
	}
	alloc := mem.NewFrameAllocator(mem.PPN(kernelcfg.EkernelEndPages), memPages)

	trampolineToken, ok := alloc.Alloc()
	if !ok {
		return nil, fmt.Errorf("kernel: out of frames allocating the trampoline page")
	}
	trampolinePPN := trampolineToken.PPN()

	kernelSpace := vm.NewKernelSpace(alloc, trampolinePPN)
	if err := kernelSpace.SelfCheck(); err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}

	pids := task.NewPidAllocator()
	mgr := sched.NewTaskManager()
	proc := sched.NewProcessor(mgr)

	firmware := sbi.New(out, func(failure bool) {
		log.Infof("shutdown requested (failure=%v)", failure)
	})
	firmware.SetTimer(kernelcfg.TimeSliceTicks)

	dev, efs, err := mountFilesystem(cfg.ImagePath)
	if err != nil {
		return nil, err
	}

	sys := &syscall.Kernel{
		RootInode:     efs.RootInode(),
		FrameAlloc:    alloc,
		TrampolinePPN: trampolinePPN,
		PidAlloc:      pids,
		KernelSpace:   kernelSpace,
		Tasks:         mgr,
		Sched:         proc,
		Firmware:      firmware,
		Programs:      make(map[string]syscall.ProgramImage),
	}
	task.Dispatch = sys.Dispatch

	return &Kernel{
		alloc:           alloc,
		trampolineToken: trampolineToken,
		trampolinePPN:   trampolinePPN,
		kernelSpace:     kernelSpace,
		pids:            pids,
		mgr:             mgr,
		proc:            proc,
		firmware:        firmware,
		dev:             dev,
		efs:             efs,
		sys:             sys,
	}, nil
}

func mountFilesystem(imagePath string) (blockdev.BlockDevice, *fs.EasyFileSystem, error) {
	if imagePath == "" {
		dev := blockdev.NewMemDevice(defaultImageBlocks)
		efs, err := fs.Create(dev, defaultImageBlocks, defaultInodeBitmapBlocks)
		if err != nil {
			return nil, nil, fmt.Errorf("kernel: creating default image: %w", err)
		}
		return dev, efs, nil
	}
	dev, err := blockdev.OpenFileDevice(imagePath)
	if err != nil {
		return nil, nil, fmt.Errorf("kernel: %w", err)
	}
	efs, err := fs.Open(dev)
	if err != nil {
		return nil, nil, fmt.Errorf("kernel: mounting %s: %w", imagePath, err)
	}
	return dev, efs, nil
}

// RegisterProgram writes a synthetic ELF image for name into the root
// directory and records prog as the UserProgram standing in for its
// instruction stream: a later exec(name) opens and reads the bytes the
// ordinary way, then looks prog up by the same name to decide what to
// actually run, exactly like sys_exec's two-step load.
func (k *Kernel) RegisterProgram(name string, prog task.UserProgram) error {
	elfData := userelf.Build(64)
	f, ok := file.OpenFile(k.efs.RootInode(), name, defs.OCreate|defs.OWronly)
	if !ok {
		return fmt.Errorf("kernel: creating program image %q", name)
	}
	if n := f.Write(file.UserBuffer{Buffers: [][]byte{elfData}}); n != len(elfData) {
		return fmt.Errorf("kernel: short write registering program image %q", name)
	}
	k.sys.Programs[name] = syscall.ProgramImage{ELF: elfData, Run: prog}
	return nil
}

// SpawnInit builds the kernel's very first task from a registered program
// and enqueues it as the reparenting target for every future orphan. Must
// be called exactly once, after every program this boot needs is
// registered (a later exec can only resolve names already known to
// k.sys.Programs).
func (k *Kernel) SpawnInit(name string) error {
	prog, ok := k.sys.Programs[name]
	if !ok {
		return fmt.Errorf("kernel: no registered program named %q", name)
	}
	t, err := task.NewInitProc(k.pids, k.kernelSpace, k.alloc, k.trampolinePPN, k.proc, prog.ELF, prog.Run)
	if err != nil {
		return fmt.Errorf("kernel: building initproc: %w", err)
	}
	installStdio(t, k.firmware)
	k.proc.SetInitProc(t)
	k.proc.Add(t)
	k.initPID = t.PID()
	return nil
}

// InitPID returns pid 1's actual allocated pid, for callers (tests) that
// need to address it without assuming the allocator's numbering.
func (k *Kernel) InitPID() int { return k.initPID }

// installStdio gives a freshly built task its three standard fds. Relies
// on AllocFd filling the lowest free slot: called immediately after
// NewInitProc, fds 0-2 are still nil.
func installStdio(t *task.TaskControlBlock, fw *sbi.Firmware) {
	t.AllocFd(file.NewStdin(fw, t, t.Yielder()))
	t.AllocFd(file.NewStdout(fw, t))
	t.AllocFd(file.NewStdout(fw, t)) // stderr: same type as stdout
}

// Run drives the scheduler to quiescence (every task has exited and the
// ready queue is permanently empty), then requests shutdown through the
// firmware, succeeding iff initproc exited 0. In this hosted model the
// reset hook returns normally, so callers (tests, cmd/kernel) can inspect
// final state afterward.
func (k *Kernel) Run() {
	k.proc.RunTasks()
	failure := false
	if t, ok := k.mgr.Lookup(k.initPID); ok {
		failure = t.ExitCode() != 0
	}
	k.firmware.SystemReset(failure)
}

// Lookup resolves a pid to its TaskControlBlock, for tests asserting on
// final exit codes/zombie state.
func (k *Kernel) Lookup(pid int) (*task.TaskControlBlock, bool) {
	return k.mgr.Lookup(pid)
}

// Firmware exposes the simulated SBI instance, for tests that feed
// synthetic console input or inspect console output.
func (k *Kernel) Firmware() *sbi.Firmware { return k.firmware }

// FrameAllocator exposes the physical frame allocator, for tests
// asserting leak freedom (OutCount returns to its pre-run value once
// every task has exited and been reaped).
func (k *Kernel) FrameAllocator() *mem.FrameAllocator { return k.alloc }

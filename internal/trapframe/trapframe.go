// Package trapframe models the two register windows privilege-crossing
// depends on: TrapContext (user state saved across a U<->S crossing) and
// TaskContext (the kernel-side callee-saved window used to cooperatively
// switch between kernel threads). It also provides CrossToKernel and
// CrossToUser, the hosted stand-ins for the trampoline's
// __alltraps/__restore assembly.
package trapframe

// TrapContext is the fixed record placed on a process's TRAP_CONTEXT
// page: 32 general-purpose registers, the saved processor status and
// program counter, and the three fields the kernel writes at task-creation
// time for __restore to read on first entry.
type TrapContext struct {
	X [32]uint64 // general-purpose registers x0..x31; X[2] is sp

	Sstatus uint64
	Sepc    uint64

	KernelSatp  uint64
	KernelSP    uint64
	TrapHandler uint64
}

const (
	regSP = 2
	regA0 = 10
	regA1 = 11
	regA2 = 12
	regA7 = 17
)

// SetSP sets the saved stack pointer register (x2).
func (tc *TrapContext) SetSP(sp uint64) { tc.X[regSP] = sp }

// SP returns the saved stack pointer.
func (tc *TrapContext) SP() uint64 { return tc.X[regSP] }

// A0..A2 and A7 are the syscall ABI registers: a7 selects the syscall,
// a0-a2 carry its arguments, and the return value is written back into a0.
func (tc *TrapContext) A0() uint64     { return tc.X[regA0] }
func (tc *TrapContext) A1() uint64     { return tc.X[regA1] }
func (tc *TrapContext) A2() uint64     { return tc.X[regA2] }
func (tc *TrapContext) A7() uint64     { return tc.X[regA7] }
func (tc *TrapContext) SetA0(v uint64) { tc.X[regA0] = v }

// Sstatus SPP bit: 1 selects S-mode as the privilege the trap returns to.
// Real sstatus has the bit at position 8; the hosted model only needs the
// single bit NewAppInitContext clears, not the rest of the CSR's layout.
const sstatusSPP = 1 << 8

// NewAppInitContext builds the TrapContext a freshly created or exec'd
// task starts with: SPP cleared (return to U-mode), sepc set to the entry
// point, sp set on the user stack, and the three kernel-crossing fields
// recorded for __restore.
func NewAppInitContext(entry, sp, kernelSatp, kernelSP, trapHandler uint64) *TrapContext {
	tc := &TrapContext{
		Sstatus:     0 &^ sstatusSPP, // SPP = User
		Sepc:        entry,
		KernelSatp:  kernelSatp,
		KernelSP:    kernelSP,
		TrapHandler: trapHandler,
	}
	tc.SetSP(sp)
	return tc
}

// TaskContext is the small kernel-side window {ra, sp, s0..s11} the
// scheduler's switch primitive saves and restores.
type TaskContext struct {
	RA uint64
	SP uint64
	S  [12]uint64
}

// ZeroTaskContext returns an all-zero context, used only as a throwaway
// "previous context" destination for the idle processor's own switch-out.
func ZeroTaskContext() TaskContext { return TaskContext{} }

// GotoTrapReturn builds the TaskContext a brand new task's first switch-in
// resumes into: ra points at the kernel's trap-return path (here, the
// hosted CrossToUser entry point) and sp is the task's kernel stack top.
// trapReturnSentinel is recorded for inspection/logging, not a callable
// address; see Trampoline for how control actually transfers in this
// hosting model.
func GotoTrapReturn(kstackTop uint64, trapReturnSentinel uint64) TaskContext {
	return TaskContext{RA: trapReturnSentinel, SP: kstackTop}
}

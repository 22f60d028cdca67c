package trapframe

// Trampoline is the hosted stand-in for the shared trampoline page: a
// rendezvous between the kernel scheduler goroutine and the goroutine
// running a task's user code, handing control back and forth the way a
// real `sret`/trap would cross the privilege boundary. This is the one
// place the simulation represents "how" instead of "what": the
// TrapContext each side reads and writes carries the full saved register
// state, so the trap-context invariants stay testable even though the
// crossing itself is a channel handoff, not an instruction.
type Trampoline struct {
	toUser   chan struct{}
	toKernel chan struct{}
}

// NewTrampoline creates an idle trampoline; call Start once to launch the
// task's user-code goroutine before ever calling CrossToUser.
func NewTrampoline() *Trampoline {
	return &Trampoline{
		toUser:   make(chan struct{}),
		toKernel: make(chan struct{}),
	}
}

// Start launches run on its own goroutine, blocked until the first
// CrossToUser. run calls CrossToKernel whenever the task gives up the
// hart: a yield (explicit, blocking I/O, or timer preemption) or an exit,
// including a fault-induced one. A syscall that neither yields nor exits
// runs on the task's goroutine without crossing.
func (tr *Trampoline) Start(run func()) {
	go func() {
		<-tr.toUser
		run()
	}()
}

// CrossToUser is the hosted __restore: the kernel has finished preparing
// TrapContext and the address space, and hands control to the task's
// goroutine, blocking until that goroutine traps back via CrossToKernel.
func (tr *Trampoline) CrossToUser() {
	tr.toUser <- struct{}{}
	<-tr.toKernel
}

// CrossToKernel is the hosted __alltraps: called from inside the running
// task's goroutine when it yields or exits, handing control back to whichever kernel
// goroutine is blocked in CrossToUser, and blocking in turn until the
// kernel resumes it with another CrossToUser.
func (tr *Trampoline) CrossToKernel() {
	tr.toKernel <- struct{}{}
	<-tr.toUser
}

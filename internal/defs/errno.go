// Package defs holds the small vocabulary of types shared across kernel
// subsystems: the syscall ABI numbers, open-file flags, and the exit codes
// the kernel assigns when it terminates a task. Syscall failures surface
// to user space as a bare -1 in a0, so there is no errno table here;
// anything finer-grained is a log line, not a return value.
package defs

// Exit codes the kernel itself assigns when it terminates a task.
const (
	ExitPageFault          int32 = -2
	ExitIllegalInstruction int32 = -3
	ExitOtherTrap          int32 = -4
	ExitBadStdinRead       int32 = -9
	ExitStdoutRead         int32 = -10

	// ExitSignalKilled is recorded when SIGKILL/SIGDEF is delivered
	// in-kernel.
	ExitSignalKilled int32 = -(1 << 30)
	// ExitSignalDefault is recorded when any other signal without an
	// installed handler reaches its default action (terminate).
	ExitSignalDefault int32 = -(1 << 29)
)

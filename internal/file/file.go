// Package file implements the uniform File abstraction every fd in a
// task's fd table backs onto: Stdin, Stdout/Stderr, Pipe, and OSInode over
// internal/fs.
package file

import (
	"github.com/sv39edu/sv39kernel/internal/klog"
)

// UserBuffer is the translated-out, possibly page-split view of a user
// [ptr, ptr+len) range: exactly the slices pagetable.TranslatedByteBuffer
// returns. File implementations iterate it slice by slice so a read/write
// can cross physical page boundaries transparently.
type UserBuffer struct {
	Buffers [][]byte
}

// Len returns the total byte length across every chunk.
func (ub UserBuffer) Len() int {
	n := 0
	for _, b := range ub.Buffers {
		n += len(b)
	}
	return n
}

// Killer lets a File implementation terminate the calling task for an
// illegal access (Stdin write, Stdout read). It is satisfied by
// *task.TaskControlBlock without file importing task (which would cycle);
// the boot wiring's stdio setup and fork's fd rebinding supply the concrete
// task.
type Killer interface {
	Kill(exitCode int32)
}

// Yielder lets a blocking File implementation give up the CPU instead of
// spinning, used by Stdin's read and the Pipe read/write loops. Supplied
// per task by task.TaskControlBlock.Yielder, whose Yield suspends that task
// through internal/sched.
type Yielder interface {
	Yield()
}

// File is the interface every fd ultimately implements.
type File interface {
	Readable() bool
	Writable() bool
	Read(buf UserBuffer) int
	Write(buf UserBuffer) int
}

// Rebinder is implemented by backings that hold a reference to the task
// using them: a Killer to terminate it on illegal access, a Yielder to
// block it. Fork calls Rebind on each inherited fd so that blocking or an
// illegal access in the child suspends and kills the child, not the parent
// the backing was first built for. Backings with no task reference
// (OSInode) are shared as-is.
type Rebinder interface {
	Rebind(k Killer, y Yielder) File
}

// log is shared by every file backing in this package for consistent
// subsystem tagging.
var log = klog.For("file")

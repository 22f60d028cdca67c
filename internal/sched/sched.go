// Package sched implements the uniprocessor cooperative scheduler: a FIFO
// ready queue (TaskManager) and a single Processor that runs tasks to
// completion or yield point, one at a time, on one simulated hart. Each
// task owns a goroutine parked on a channel rendezvous, and
// Processor.RunTasks is the "hart" that hands control to exactly one of
// them at a time.
package sched

import (
	"sync"

	"github.com/sv39edu/sv39kernel/internal/klog"
	"github.com/sv39edu/sv39kernel/internal/task"
	"github.com/sv39edu/sv39kernel/internal/trapframe"
)

var log = klog.For("sched")

// TaskManager is the FIFO ready queue plus the pid->TCB map backing
// cross-task kill.
type TaskManager struct {
	mu    sync.Mutex
	ready []*task.TaskControlBlock
	byPID map[int]*task.TaskControlBlock
}

// NewTaskManager returns an empty ready queue.
func NewTaskManager() *TaskManager {
	return &TaskManager{byPID: make(map[int]*task.TaskControlBlock)}
}

// Add enqueues tcb at the tail and registers it in the pid map.
func (m *TaskManager) Add(tcb *task.TaskControlBlock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tcb.SetStatus(task.Ready)
	m.ready = append(m.ready, tcb)
	m.byPID[tcb.PID()] = tcb
}

// Lookup returns the task registered under pid, supporting sys_kill's
// cross-task delivery.
func (m *TaskManager) Lookup(pid int) (*task.TaskControlBlock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byPID[pid]
	return t, ok
}

// Fetch dequeues and returns the head task, or nil if the queue is empty.
func (m *TaskManager) Fetch() *task.TaskControlBlock {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ready) == 0 {
		return nil
	}
	t := m.ready[0]
	m.ready = m.ready[1:]
	return t
}

// Processor is the single simulated hart: it repeatedly fetches the next
// ready task and runs it until that task yields, blocks, or exits. There
// is exactly one Processor for the whole kernel; this kernel is strictly
// uniprocessor.
type Processor struct {
	mgr *TaskManager

	mu      sync.Mutex
	current *task.TaskControlBlock

	initproc *task.TaskControlBlock

	// idleTaskCx is the Processor's own switch-out point: RunTasks parks
	// here (conceptually) between tasks. In this hosted model the Go call
	// stack of RunTasks itself is the idle context, so nothing is ever
	// saved into it, so it stays zero.
	idleTaskCx trapframe.TaskContext
}

// NewProcessor builds a Processor driven by mgr.
func NewProcessor(mgr *TaskManager) *Processor {
	return &Processor{mgr: mgr, idleTaskCx: trapframe.ZeroTaskContext()}
}

// Add enqueues a freshly created task, satisfying task.Scheduler.
func (p *Processor) Add(tcb *task.TaskControlBlock) { p.mgr.Add(tcb) }

// Current returns the task presently running on the (single) hart, or nil.
func (p *Processor) Current() *task.TaskControlBlock {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Processor) setCurrent(t *task.TaskControlBlock) {
	p.mu.Lock()
	p.current = t
	p.mu.Unlock()
}

// RunTasks is the hart's main loop: fetch the next ready task, switch to
// it, and block until it next yields/exits, at which point fetch the
// next one. Returns once the ready queue is permanently empty and no task
// is running, i.e. the whole system has quiesced.
func (p *Processor) RunTasks() {
	for {
		t := p.mgr.Fetch()
		if t == nil {
			log.Debug("run_tasks: ready queue empty, halting")
			return
		}
		t.SetStatus(task.Running)
		p.setCurrent(t)

		if !t.Started() {
			t.MarkStarted()
			t.Trampoline().Start(t.RunProgram)
		}
		// The address-space switch happens on the trap-return path, before
		// control crosses back to user code, the same order __restore does
		// it in.
		t.MemorySet().Activate()
		t.Trampoline().CrossToUser()

		p.setCurrent(nil)
	}
}

// SuspendAndRunNext satisfies task.Scheduler: it re-enqueues tcb as Ready
// and hands control back to RunTasks. Called from a task's own goroutine
// (via file.Yielder or a direct yield syscall), so it must cross back to
// the hart side of the Trampoline rendezvous rather than return normally.
func (p *Processor) SuspendAndRunNext(tcb *task.TaskControlBlock) {
	tcb.SetStatus(task.Ready)
	p.mgr.Add(tcb)
	tcb.Trampoline().CrossToKernel()
}

// ExitAndRunNext satisfies task.Scheduler: it marks tcb Zombie, records its
// exit code, recycles its user address space, reparents its children onto
// initproc, and returns control to the hart without ever resuming tcb's
// goroutine again. p.initproc is read lazily (not at Processor
// construction time) since initproc itself is the first task added and
// does not exist yet when the Processor is built.
func (p *Processor) ExitAndRunNext(tcb *task.TaskControlBlock, exitCode int32) {
	tcb.SetExitCode(exitCode)
	tcb.SetStatus(task.Zombie)

	if initproc := p.initproc; initproc != nil && tcb != initproc {
		for _, child := range tcb.Children() {
			initproc.AddChild(child)
		}
	}
	tcb.ClearChildren()
	tcb.CloseAllFds()
	tcb.RecycleMemory()

	log.Debugf("task %d exited with code %d", tcb.PID(), exitCode)
	tcb.Trampoline().CrossToKernel()
}

// SetInitProc records the kernel's first task as the reparenting target for
// every subsequent orphan, called once by the boot-wiring package right
// after NewInitProc.
func (p *Processor) SetInitProc(initproc *task.TaskControlBlock) {
	p.initproc = initproc
}

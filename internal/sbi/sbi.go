// Package sbi simulates the SBI firmware layer below the kernel: console
// byte I/O, the timer, and system reset. A real kernel reaches these
// through `ecall` from S-mode; hosted Go cannot issue that instruction, so
// Firmware stands in for the firmware behind the same call surface.
package sbi

import (
	"io"
	"sync"
)

// Firmware is one simulated SBI instance: an output sink, a pending input
// queue, a monotonic clock, and a shutdown hook the boot harness installs.
type Firmware struct {
	mu       sync.Mutex
	out      io.Writer
	input    []byte
	clock    uint64
	timerSet bool
	timerAt  uint64
	onReset  func(failure bool)
}

// New builds a Firmware writing console output to out and invoking onReset
// when the kernel asks to shut down. onReset may return normally: the
// kernel's boot wiring installs a hook that only logs the request, and tests
// may supply a hook that just records the call.
func New(out io.Writer, onReset func(failure bool)) *Firmware {
	return &Firmware{out: out, onReset: onReset}
}

// ConsolePutchar writes one byte to the console.
func (fw *Firmware) ConsolePutchar(c byte) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.out.Write([]byte{c})
}

// FeedInput appends bytes to the simulated console's input queue: the
// boot harness's way of delivering keystrokes a real SBI would read off a
// UART.
func (fw *Firmware) FeedInput(b []byte) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.input = append(fw.input, b...)
}

// ConsoleGetchar returns the next queued input byte, non-blocking: ok is
// false if no byte is available, matching the console_getchar SBI call
// internal/file's Stdin polls via yield rather than a blocking read.
func (fw *Firmware) ConsoleGetchar() (c byte, ok bool) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if len(fw.input) == 0 {
		return 0, false
	}
	c = fw.input[0]
	fw.input = fw.input[1:]
	return c, true
}

// SetTimer arms the next timer interrupt at the absolute tick deadline.
func (fw *Firmware) SetTimer(deadline uint64) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.timerSet = true
	fw.timerAt = deadline
}

// Tick advances the simulated clock by one unit and reports whether the
// armed timer has now fired (and, if so, disarms it: a real timer
// interrupt is one-shot until re-armed).
func (fw *Firmware) Tick() (fired bool) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.clock++
	if fw.timerSet && fw.clock >= fw.timerAt {
		fw.timerSet = false
		return true
	}
	return false
}

// ReadTime returns the simulated monotonic tick count, standing in for
// the `time` CSR.
func (fw *Firmware) ReadTime() uint64 {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.clock
}

// SystemReset invokes the installed shutdown hook.
func (fw *Firmware) SystemReset(failure bool) {
	fw.onReset(failure)
}

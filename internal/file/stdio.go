package file

import (
	"github.com/sv39edu/sv39kernel/internal/defs"
)

// Console is the shared console I/O surface Stdin/Stdout are built on,
// satisfied by *sbi.Firmware. Kept as an interface here so file does not
// import sbi directly (the dependency only needs two methods).
type Console interface {
	ConsolePutchar(c byte)
	ConsoleGetchar() (c byte, ok bool)
}

// Stdin reads one byte at a time from the console, yielding (not
// spinning) while none is available.
type Stdin struct {
	console Console
	killer  Killer
	yielder Yielder
}

// NewStdin builds a Stdin backed by console, killing the owning task via
// killer on an illegal access and yielding via yielder while blocked.
func NewStdin(console Console, killer Killer, yielder Yielder) *Stdin {
	return &Stdin{console: console, killer: killer, yielder: yielder}
}

// Rebind returns a Stdin on the same console bound to the inheriting
// task; fork's half of fd duplication.
func (s *Stdin) Rebind(k Killer, y Yielder) File {
	return NewStdin(s.console, k, y)
}

func (s *Stdin) Readable() bool { return true }
func (s *Stdin) Writable() bool { return false }

func (s *Stdin) Read(buf UserBuffer) int {
	if buf.Len() != 1 {
		log.Warn("stdin: only read size 1 is supported, killing caller")
		s.killer.Kill(defs.ExitBadStdinRead)
		return 0
	}
	for {
		c, ok := s.console.ConsoleGetchar()
		if !ok {
			s.yielder.Yield()
			continue
		}
		buf.Buffers[0][0] = c
		return 1
	}
}

func (s *Stdin) Write(UserBuffer) int {
	log.Warn("stdin: not writable, killing caller")
	s.killer.Kill(defs.ExitStdoutRead)
	return 0
}

// Stdout writes each buffer slice to the console as bytes. Stderr is the
// same type installed under a second fd.
type Stdout struct {
	console Console
	killer  Killer
}

// NewStdout builds a Stdout/Stderr backed by console.
func NewStdout(console Console, killer Killer) *Stdout {
	return &Stdout{console: console, killer: killer}
}

// Rebind returns a Stdout on the same console bound to the inheriting
// task.
func (s *Stdout) Rebind(k Killer, _ Yielder) File {
	return NewStdout(s.console, k)
}

func (s *Stdout) Readable() bool { return false }
func (s *Stdout) Writable() bool { return true }

func (s *Stdout) Read(UserBuffer) int {
	log.Warn("stdout: not readable, killing caller")
	s.killer.Kill(defs.ExitStdoutRead)
	return 0
}

func (s *Stdout) Write(buf UserBuffer) int {
	n := 0
	for _, chunk := range buf.Buffers {
		for _, b := range chunk {
			s.console.ConsolePutchar(b)
		}
		n += len(chunk)
	}
	return n
}

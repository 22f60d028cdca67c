package file

import "sync"

// pipeCapacity is the fixed ring-buffer size. Writes longer than this
// simply block in chunks; it only needs to be big enough that small
// messages cross in one scheduling round trip.
const pipeCapacity = 32

// ring is the shared circular buffer both pipe ends read/write through:
// head/tail counters modulo capacity, rather than a separate "full" flag.
type ring struct {
	mu         sync.Mutex
	buf        [pipeCapacity]byte
	head, tail int // head-tail (mod not yet applied) tracks used bytes

	readers, writers int32 // live peer counts; 0 means that end is gone
}

func (r *ring) used() int { return r.head - r.tail }
func (r *ring) full() bool { return r.used() == pipeCapacity }
func (r *ring) empty() bool { return r.used() == 0 }

// PipeReadEnd is the read half of a pipe. Each end carries the yielder of
// the task whose fd table holds it, so a blocked read suspends that task
// and not whichever task originally created the pipe.
type PipeReadEnd struct {
	r       *ring
	yielder Yielder
}

// PipeWriteEnd is the write half of a pipe.
type PipeWriteEnd struct {
	r       *ring
	yielder Yielder
}

// MakePipe builds a connected pair of pipe ends sharing one ring buffer,
// both bound to the creating task's yielder.
func MakePipe(yielder Yielder) (*PipeReadEnd, *PipeWriteEnd) {
	r := &ring{readers: 1, writers: 1}
	return &PipeReadEnd{r: r, yielder: yielder}, &PipeWriteEnd{r: r, yielder: yielder}
}

// Dup increments the read end's peer count for a second fd-table slot in
// the same task (sys_dup). Returns File (not *PipeReadEnd) so it satisfies
// sys_dup's duper interface alongside every other fd kind sys_dup may
// duplicate.
func (p *PipeReadEnd) Dup() File {
	p.r.mu.Lock()
	p.r.readers++
	p.r.mu.Unlock()
	return &PipeReadEnd{r: p.r, yielder: p.yielder}
}

// Dup increments the write end's peer count.
func (p *PipeWriteEnd) Dup() File {
	p.r.mu.Lock()
	p.r.writers++
	p.r.mu.Unlock()
	return &PipeWriteEnd{r: p.r, yielder: p.yielder}
}

// Rebind bumps the peer count like Dup but binds the new end to the
// inheriting task's yielder; fork's half of fd duplication.
func (p *PipeReadEnd) Rebind(_ Killer, y Yielder) File {
	p.r.mu.Lock()
	p.r.readers++
	p.r.mu.Unlock()
	return &PipeReadEnd{r: p.r, yielder: y}
}

// Rebind bumps the write-end peer count and binds to the inheritor.
func (p *PipeWriteEnd) Rebind(_ Killer, y Yielder) File {
	p.r.mu.Lock()
	p.r.writers++
	p.r.mu.Unlock()
	return &PipeWriteEnd{r: p.r, yielder: y}
}

// Close decrements the read end's peer count; once it reaches zero, any
// blocked writer's "readers gone" check will observe it.
func (p *PipeReadEnd) Close() {
	p.r.mu.Lock()
	p.r.readers--
	p.r.mu.Unlock()
}

// Close decrements the write end's peer count; once it reaches zero, a
// blocked reader sees EOF (returns 0) instead of yielding forever.
func (p *PipeWriteEnd) Close() {
	p.r.mu.Lock()
	p.r.writers--
	p.r.mu.Unlock()
}

func (p *PipeReadEnd) Readable() bool  { return true }
func (p *PipeReadEnd) Writable() bool  { return false }
func (p *PipeWriteEnd) Readable() bool { return false }
func (p *PipeWriteEnd) Writable() bool { return true }

// Read drains up to buf's length from the ring, yielding while empty
// unless every write end has closed, which is EOF: return 0.
func (p *PipeReadEnd) Read(buf UserBuffer) int {
	r := p.r
	for {
		r.mu.Lock()
		if !r.empty() {
			break
		}
		if r.writers == 0 {
			r.mu.Unlock()
			return 0
		}
		r.mu.Unlock()
		p.yielder.Yield()
	}
	defer r.mu.Unlock()

	total := 0
	for _, chunk := range buf.Buffers {
		for i := range chunk {
			if r.empty() {
				return total
			}
			chunk[i] = r.buf[r.tail%pipeCapacity]
			r.tail++
			total++
		}
	}
	return total
}

func (p *PipeReadEnd) Write(UserBuffer) int { panic("file: Write on a pipe read end") }

// Write fills the ring with up to buf's length, yielding while full
// unless every read end has closed, in which case it gives up and returns
// the short count written so far.
func (p *PipeWriteEnd) Write(buf UserBuffer) int {
	r := p.r
	total := 0
	for _, chunk := range buf.Buffers {
		for i := range chunk {
			r.mu.Lock()
			for r.full() {
				if r.readers == 0 {
					r.mu.Unlock()
					return total
				}
				r.mu.Unlock()
				p.yielder.Yield()
				r.mu.Lock()
			}
			r.buf[r.head%pipeCapacity] = chunk[i]
			r.head++
			total++
			r.mu.Unlock()
		}
	}
	return total
}

func (p *PipeWriteEnd) Read(UserBuffer) int { panic("file: Read on a pipe write end") }

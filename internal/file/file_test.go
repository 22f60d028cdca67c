package file

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeConsole struct {
	in  []byte
	out []byte
}

func (c *fakeConsole) ConsolePutchar(b byte) { c.out = append(c.out, b) }
func (c *fakeConsole) ConsoleGetchar() (byte, bool) {
	if len(c.in) == 0 {
		return 0, false
	}
	b := c.in[0]
	c.in = c.in[1:]
	return b, true
}

type fakeKiller struct{ code int32; killed bool }

func (k *fakeKiller) Kill(code int32) { k.killed = true; k.code = code }

type fakeYielder struct{ yields int }

func (y *fakeYielder) Yield() { y.yields++ }

func TestStdinReadsOneByte(t *testing.T) {
	c := &fakeConsole{in: []byte("x")}
	k := &fakeKiller{}
	y := &fakeYielder{}
	stdin := NewStdin(c, k, y)

	buf := UserBuffer{Buffers: [][]byte{make([]byte, 1)}}
	n := stdin.Read(buf)
	require.Equal(t, 1, n)
	require.Equal(t, byte('x'), buf.Buffers[0][0])
	require.False(t, k.killed)
}

// actingYielder runs fn on each Yield, standing in for "another task got
// scheduled and did something" without needing a second goroutine, since
// the kernel's yield path is exactly that: the blocked reader gives up the
// hart and the peer runs before it is resumed.
type actingYielder struct {
	yields int
	fn     func(yields int)
}

func (y *actingYielder) Yield() {
	y.yields++
	if y.fn != nil {
		y.fn(y.yields)
	}
}

func TestStdinYieldsWhileEmpty(t *testing.T) {
	c := &fakeConsole{}
	y := &actingYielder{}
	y.fn = func(yields int) {
		// Input arrives only after the reader has yielded a few times.
		if yields == 3 {
			c.in = []byte("q")
		}
	}
	stdin := NewStdin(c, &fakeKiller{}, y)

	buf := UserBuffer{Buffers: [][]byte{make([]byte, 1)}}
	n := stdin.Read(buf)
	require.Equal(t, 1, n)
	require.Equal(t, byte('q'), buf.Buffers[0][0])
	require.Equal(t, 3, y.yields)
}

func TestStdinIllegalLengthKillsCaller(t *testing.T) {
	k := &fakeKiller{}
	stdin := NewStdin(&fakeConsole{}, k, &fakeYielder{})
	buf := UserBuffer{Buffers: [][]byte{make([]byte, 2)}}
	stdin.Read(buf)
	require.True(t, k.killed)
	require.EqualValues(t, -9, k.code)
}

func TestStdinWriteIsIllegal(t *testing.T) {
	k := &fakeKiller{}
	stdin := NewStdin(&fakeConsole{}, k, &fakeYielder{})
	stdin.Write(UserBuffer{})
	require.True(t, k.killed)
}

func TestStdoutWritesBytes(t *testing.T) {
	c := &fakeConsole{}
	stdout := NewStdout(c, &fakeKiller{})
	n := stdout.Write(UserBuffer{Buffers: [][]byte{[]byte("hi")}})
	require.Equal(t, 2, n)
	require.Equal(t, []byte("hi"), c.out)
}

func TestStdoutReadIsIllegal(t *testing.T) {
	k := &fakeKiller{}
	stdout := NewStdout(&fakeConsole{}, k)
	stdout.Read(UserBuffer{})
	require.True(t, k.killed)
	require.EqualValues(t, -10, k.code)
}

func TestPipeReadWriteRoundTrip(t *testing.T) {
	y := &fakeYielder{}
	r, w := MakePipe(y)
	n := w.Write(UserBuffer{Buffers: [][]byte{[]byte("hello")}})
	require.Equal(t, 5, n)

	out := make([]byte, 5)
	n = r.Read(UserBuffer{Buffers: [][]byte{out}})
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(out))
}

func TestPipeReadReturnsEOFWhenWriterGone(t *testing.T) {
	y := &fakeYielder{}
	r, w := MakePipe(y)
	w.Close()

	out := make([]byte, 1)
	n := r.Read(UserBuffer{Buffers: [][]byte{out}})
	require.Equal(t, 0, n)
}

func TestPipeWriteShortCountWhenReaderGone(t *testing.T) {
	y := &fakeYielder{}
	r, w := MakePipe(y)
	r.Close()

	n := w.Write(UserBuffer{Buffers: [][]byte{make([]byte, pipeCapacity+5)}})
	require.LessOrEqual(t, n, pipeCapacity)
}

func TestPipeRebindBindsInheritor(t *testing.T) {
	parentY := &fakeYielder{}
	r, w := MakePipe(parentY)

	childY := &actingYielder{}
	rc := r.Rebind(&fakeKiller{}, childY).(*PipeReadEnd)
	r.Close()

	// The inheritor blocks on an empty pipe: its own yielder must be the
	// one invoked, never the creator's.
	childY.fn = func(yields int) {
		if yields == 1 {
			w.Write(UserBuffer{Buffers: [][]byte{[]byte("z")}})
		}
	}
	out := make([]byte, 1)
	n := rc.Read(UserBuffer{Buffers: [][]byte{out}})
	require.Equal(t, 1, n)
	require.Equal(t, byte('z'), out[0])
	require.Equal(t, 1, childY.yields)
	require.Zero(t, parentY.yields)
}

func TestStdinRebindKillsInheritor(t *testing.T) {
	parentK := &fakeKiller{}
	stdin := NewStdin(&fakeConsole{}, parentK, &fakeYielder{})

	childK := &fakeKiller{}
	inherited := stdin.Rebind(childK, &fakeYielder{})
	inherited.Read(UserBuffer{Buffers: [][]byte{make([]byte, 2)}})
	require.True(t, childK.killed)
	require.False(t, parentK.killed)
}

func TestPipeDupIncrementsPeerCount(t *testing.T) {
	y := &actingYielder{}
	r, w := MakePipe(y)
	w2 := w.Dup().(*PipeWriteEnd)
	w.Close()

	// One writer (w2) is still live, so a read from empty yields rather
	// than returning EOF; the "other task" delivers a byte on the first
	// yield and the read completes.
	y.fn = func(yields int) {
		if yields == 1 {
			w2.Write(UserBuffer{Buffers: [][]byte{[]byte("Q")}})
			w2.Close()
		}
	}
	out := make([]byte, 1)
	n := r.Read(UserBuffer{Buffers: [][]byte{out}})
	require.Equal(t, 1, n)
	require.Equal(t, byte('Q'), out[0])
	require.Equal(t, 1, y.yields)
}

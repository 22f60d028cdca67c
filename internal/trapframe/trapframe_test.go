package trapframe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppInitContextSetsSPAndEntry(t *testing.T) {
	tc := NewAppInitContext(0x1000, 0x8000_0000, 0xabc, 0xdef, 0x123)
	require.Equal(t, uint64(0x1000), tc.Sepc)
	require.Equal(t, uint64(0x8000_0000), tc.SP())
	require.Equal(t, uint64(0xabc), tc.KernelSatp)
	require.Equal(t, uint64(0xdef), tc.KernelSP)
	require.Equal(t, uint64(0x123), tc.TrapHandler)
	require.Equal(t, uint64(0), tc.Sstatus&sstatusSPP, "new task must return to user mode")
}

func TestSyscallABIRegisters(t *testing.T) {
	var tc TrapContext
	tc.X[regA7] = 64
	tc.X[regA0] = 1
	tc.X[regA1] = 0x2000
	tc.X[regA2] = 10
	require.Equal(t, uint64(64), tc.A7())
	require.Equal(t, uint64(1), tc.A0())
	require.Equal(t, uint64(0x2000), tc.A1())
	require.Equal(t, uint64(10), tc.A2())

	tc.SetA0(0)
	require.Equal(t, uint64(0), tc.A0())
}

func TestTrampolineCrossingHandsControlBackAndForth(t *testing.T) {
	tr := NewTrampoline()
	order := make([]string, 0, 4)

	tr.Start(func() {
		order = append(order, "user-ran")
		tr.CrossToKernel()
		order = append(order, "user-resumed")
		tr.CrossToKernel()
	})

	tr.CrossToUser()
	require.Equal(t, []string{"user-ran"}, order)

	tr.CrossToUser()
	require.Equal(t, []string{"user-ran", "user-resumed"}, order)
}

func TestTrampolineCrossingDoesNotRaceOnSharedContext(t *testing.T) {
	tr := NewTrampoline()
	tc := &TrapContext{}

	tr.Start(func() {
		tc.SetA0(1)
		tr.CrossToKernel()
	})

	done := make(chan struct{})
	go func() {
		tr.CrossToUser()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("trampoline crossing did not complete")
	}
	require.Equal(t, uint64(1), tc.A0())
}

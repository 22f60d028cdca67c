package signal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSigSetAddRemoveHas(t *testing.T) {
	var s SigSet
	require.False(t, s.Has(SIGINT))

	s = s.Add(SIGINT).Add(SIGKILL)
	require.True(t, s.Has(SIGINT))
	require.True(t, s.Has(SIGKILL))
	require.False(t, s.Has(SIGSTOP))

	s = s.Remove(SIGINT)
	require.False(t, s.Has(SIGINT))
	require.True(t, s.Has(SIGKILL))
}

func TestBitRejectsOutOfRange(t *testing.T) {
	require.EqualValues(t, 0, Bit(0))
	require.EqualValues(t, 0, Bit(MaxSig+1))
	require.EqualValues(t, 1, Bit(1))
}

func TestNextPendingLowestFirst(t *testing.T) {
	var actions [MaxSig + 1]Action
	pending := SigSet(0).Add(SIGTERM).Add(SIGINT)

	signo, ok := NextPending(pending, 0, -1, actions)
	require.True(t, ok)
	require.Equal(t, SIGINT, signo, "lowest signal number wins")
}

func TestNextPendingHonorsTaskMask(t *testing.T) {
	var actions [MaxSig + 1]Action
	pending := SigSet(0).Add(SIGINT).Add(SIGTERM)
	mask := SigSet(0).Add(SIGINT)

	signo, ok := NextPending(pending, mask, -1, actions)
	require.True(t, ok)
	require.Equal(t, SIGTERM, signo)

	mask = mask.Add(SIGTERM)
	_, ok = NextPending(pending, mask, -1, actions)
	require.False(t, ok, "fully masked pending set delivers nothing")
}

func TestNextPendingHonorsHandlerMask(t *testing.T) {
	var actions [MaxSig + 1]Action
	actions[SIGUSR1] = Action{Handler: 0x1000, Mask: SigSet(0).Add(SIGINT)}
	pending := SigSet(0).Add(SIGINT)

	// while handling SIGUSR1, its handler mask blocks SIGINT too
	_, ok := NextPending(pending, 0, SIGUSR1, actions)
	require.False(t, ok)

	// once the handler returns (handlingSig = -1), SIGINT is deliverable
	signo, ok := NextPending(pending, 0, -1, actions)
	require.True(t, ok)
	require.Equal(t, SIGINT, signo)
}

func TestIsKernelSignal(t *testing.T) {
	require.True(t, IsKernelSignal(SIGKILL))
	require.True(t, IsKernelSignal(SIGSTOP))
	require.True(t, IsKernelSignal(SIGCONT))
	require.True(t, IsKernelSignal(SIGDEF))
	require.False(t, IsKernelSignal(SIGINT))
	require.False(t, IsKernelSignal(SIGUSR1))
}

func TestRejectedFixedSignals(t *testing.T) {
	require.True(t, Rejected(SIGKILL))
	require.True(t, Rejected(SIGSTOP))
	require.False(t, Rejected(SIGINT))
	require.False(t, Rejected(SIGCONT))
}

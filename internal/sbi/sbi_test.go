package sbi

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConsolePutcharWritesToOutput(t *testing.T) {
	var buf bytes.Buffer
	fw := New(&buf, nil)
	fw.ConsolePutchar('h')
	fw.ConsolePutchar('i')
	require.Equal(t, "hi", buf.String())
}

func TestConsoleGetcharNonBlocking(t *testing.T) {
	fw := New(&bytes.Buffer{}, nil)
	_, ok := fw.ConsoleGetchar()
	require.False(t, ok)

	fw.FeedInput([]byte("ab"))
	c, ok := fw.ConsoleGetchar()
	require.True(t, ok)
	require.Equal(t, byte('a'), c)

	c, ok = fw.ConsoleGetchar()
	require.True(t, ok)
	require.Equal(t, byte('b'), c)

	_, ok = fw.ConsoleGetchar()
	require.False(t, ok)
}

func TestTimerFiresAtDeadline(t *testing.T) {
	fw := New(&bytes.Buffer{}, nil)
	fw.SetTimer(3)

	require.False(t, fw.Tick()) // clock=1
	require.False(t, fw.Tick()) // clock=2
	require.True(t, fw.Tick())  // clock=3, fires
	require.False(t, fw.Tick()) // already disarmed
}

func TestSystemResetInvokesHook(t *testing.T) {
	var gotFailure bool
	var called bool
	fw := New(&bytes.Buffer{}, func(failure bool) {
		called = true
		gotFailure = failure
	})
	fw.SystemReset(true)
	require.True(t, called)
	require.True(t, gotFailure)
}

// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottleToRateReturnsOnceRateSatisfied(t *testing.T) {
	start := time.Now()
	throttleToRate(&start, 1000, func() int64 { return 1 })
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestParseRateDuration(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "w", KindClient)

	rate, dur, err := parseRateDuration(w, "10 2", "_RPS")
	require.NoError(t, err)
	assert.Equal(t, int64(10), rate)
	assert.Equal(t, 2*time.Second, dur)

	_, _, err = parseRateDuration(w, "10", "_RPS")
	assert.Error(t, err)

	_, _, err = parseRateDuration(w, "0 2", "_RPS")
	assert.Error(t, err)

	_, _, err = parseRateDuration(w, "abc 2", "_RPS")
	assert.Error(t, err)
}

// attachPipeSocket gives w a current socket backed by an in-memory
// net.Pipe, with the remote end drained by a background goroutine so
// writes from the body under test never block.
func attachPipeSocket(t *testing.T, w *Worker) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() { local.Close(); remote.Close() })
	go io.Copy(io.Discard, remote)

	entry := w.Sockets.Get("pipe")
	entry.Conn = local
	entry.State = SocketConnected
	w.Sockets.SetCurrent("pipe")
}

func TestBPSWithZeroDurationRunsBodyExactlyOnce(t *testing.T) {
	gc := newTestGlobal()
	w := newLineWorker(t, gc, []string{
		`_BPS 1000000 0`,
		`__ hi`,
		`_END`,
	})
	attachPipeSocket(t, w)

	require.NoError(t, Interpret(context.Background(), w))
	assert.Equal(t, int64(4), w.Counters.BytesSent, "\"hi\\r\\n\" is 4 bytes")
}

func TestRPSWithZeroDurationRunsBodyExactlyOnce(t *testing.T) {
	gc := newTestGlobal()
	w := newLineWorker(t, gc, []string{
		`_RPS 1 0`,
		`_SET X=1`,
		`_END`,
	})
	require.NoError(t, Interpret(context.Background(), w))
	v, ok := w.Scope.Get("X")
	require.True(t, ok)
	assert.Equal(t, "1", v.Str)
}

func TestProcLockUnlockRoundTrip(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "w", KindClient)

	require.NoError(t, cmdProcLock(context.Background(), w, "mylock", NewArena()))
	require.NoError(t, cmdProcUnlock(context.Background(), w, "mylock", NewArena()))

	// Locking and unlocking again must not deadlock: the table reuses the
	// same named mutex rather than creating a fresh (still-locked) one.
	done := make(chan struct{})
	go func() {
		cmdProcLock(context.Background(), w, "mylock", NewArena())
		cmdProcUnlock(context.Background(), w, "mylock", NewArena())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("_PROC:LOCK/_PROC:UNLOCK deadlocked on a reused lock name")
	}
}

func TestProcLockMissingNameFails(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "w", KindClient)
	err := cmdProcLock(context.Background(), w, "  ", NewArena())
	assert.Error(t, err)
}

func TestCallBindsParamsAndRetvars(t *testing.T) {
	gc := newTestGlobal()
	block := NewWorker(gc, "_GREET", KindBlock)
	block.Params = []string{"NAME"}
	block.Retvars = []string{"OUT"}
	block.Lines = []Line{
		{Origin: Origin{File: "t", Lineno: 1}, Text: `_SET OUT=hello ${NAME}`},
	}
	gc.Modules.Declare(DefaultModule, &Block{Name: "_GREET", Module: DefaultModule, Worker: block})

	w := NewWorker(gc, "w", KindClient)
	w.Lines = []Line{
		{Origin: Origin{File: "t", Lineno: 1}, Text: `_CALL _GREET world RESULT`},
	}
	require.NoError(t, Interpret(context.Background(), w))

	v, ok := w.Scope.Get("RESULT")
	require.True(t, ok)
	assert.Equal(t, "hello world", v.Str)
}

func TestCallUnknownBlockFailsENOENT(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "w", KindClient)
	err := cmdCall(context.Background(), w, "_NOPE", NewArena())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENOENT")
}

func TestExpectMatchesPeekedBuffer(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "w", KindClient)
	entry := w.Sockets.Get("k")
	entry.PushPeek([]byte("hello world"))
	w.Sockets.SetCurrent("k")

	entry.PushPeek([]byte("hello world"))
	require.NoError(t, cmdExpect(context.Background(), w, `. "hello"`, NewArena()))

	entry.PushPeek([]byte("hello world"))
	err := cmdExpect(context.Background(), w, `. "goodbye"`, NewArena())
	assert.Error(t, err)
}

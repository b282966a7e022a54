// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"sync"
)

// Fabric is the concurrency orchestrator spec.md §4.4/§5 describes:
// goroutines stand in for "true OS threads" (see SPEC_FULL.md §F.5).
type Fabric struct {
	Global *GlobalContext
	wg     sync.WaitGroup
}

// NewFabric returns a [*Fabric] bound to global.
func NewFabric(global *GlobalContext) *Fabric { return &Fabric{Global: global} }

// Go starts every daemon, server, and client worker the assembler
// collected, blocking until all of them finish, per spec.md §4.4's
// worker-lifecycle description and §5's rendezvous protocol: daemons
// start immediately; servers start under an armed [*Rendezvous]; clients
// block on that rendezvous as their first act so no client dials before
// every server's listener is up.
func (f *Fabric) Go() {
	gc := f.Global
	ctx := context.Background()

	for _, d := range gc.Daemons {
		f.start(ctx, d.Clone())
	}

	serverCount := 0
	for _, s := range gc.Servers {
		serverCount += workerCount(s)
	}
	gc.Rendezvous.Begin(serverCount)
	for _, s := range gc.Servers {
		for i := 0; i < workerCount(s); i++ {
			f.start(ctx, s.Clone())
		}
	}
	go gc.Rendezvous.End()

	for _, c := range gc.Clients {
		for i := 0; i < workerCount(c); i++ {
			f.start(ctx, c.Clone())
		}
	}

	f.wg.Wait()
}

// WaitAll blocks until every worker started by this fabric has finished.
// Go itself already does this; WaitAll exists for in-package callers
// (such as tests) that start workers through [*Fabric.start] directly.
func (f *Fabric) WaitAll() { f.wg.Wait() }

// workerCount reads a CLIENT/SERVER worker's optional trailing replica
// count (stashed as __COUNT by the assembler), defaulting to one.
func workerCount(w *Worker) int {
	v, ok := w.Scope.Get("__COUNT")
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(v.Str)
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

func (f *Fabric) start(ctx context.Context, w *Worker) {
	f.Global.IncThreads()
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.Global.DecThreads()
		runWorker(ctx, w)
	}()
}

// runWorker executes one worker instance end to end: assigns its span id,
// interprets its line range, and finalizes (closes sockets, runs the
// worker_finally hook chain, clears the success latch on an unabsorbed
// error), per spec.md §4.4's worker-finalization sequence.
func runWorker(ctx context.Context, w *Worker) {
	w.ThreadID = NewSpanID()
	if l, ok := w.Logger.(*slog.Logger); ok {
		w.Logger = l.With("spanID", w.ThreadID)
	}
	w.Scope.Set("__THREAD", StringValue(w.ThreadID))
	w.Logger.Info("worker start", "name", w.Name, "thread", w.ThreadID)

	if w.Kind == KindServer {
		// A bind command handler signals as soon as its listener is up;
		// this defer is the fallback that keeps a server with no (or a
		// failing) bind command from deadlocking every client forever.
		defer w.SignalServerBound()
	}
	if w.Kind == KindClient {
		w.Global.Rendezvous.ClientWait()
	}

	err := Interpret(ctx, w)

	// spec.md §4.4 step 1: unconditional, regardless of AUTO_CLOSE — the
	// original's worker_finally calls worker_conn_close_all(worker) with
	// no flag check (original_source/src/httest.c:1445,1449).
	w.Sockets.CloseAll()

	exitOK, isExit := IsExit(err)
	failed := err != nil && !IsBreak(err) && !(isExit && exitOK)

	w.Scope.Set("__ERROR", errorMessage(err))
	w.Scope.Set("__STATUS", statusString(failed))

	abandonProcess := false
	if failed {
		w.Global.Latch.Clear()
		w.Logger.Info("worker failed", "name", w.Name, "thread", w.ThreadID, "error", err.Error())
		if block, ok := w.Global.Modules.Resolve("ON_ERROR", DefaultModule); ok {
			onErr := block.Worker.Clone()
			onErr.Logger = DefaultSLogger() // "calls it with logging muted", per spec.md §4.4
			Interpret(ctx, onErr)
		} else {
			abandonProcess = true
		}
	} else {
		w.Logger.Info("worker done", "name", w.Name, "thread", w.ThreadID)
	}

	w.Global.Hooks.Run(HookWorkerFinally, w)

	if w.Global.RunningThreads() == 1 {
		if block, ok := w.Global.Modules.Resolve("FINALLY", DefaultModule); ok {
			finally := block.Worker.Clone()
			finally.Logger = DefaultSLogger()
			Interpret(ctx, finally)
		}
	}

	if abandonProcess {
		// spec.md §4.4 step 5 / §7: a failed worker with no ON_ERROR block
		// clears the latch and "exits the whole process immediately (other
		// threads are abandoned)", matching the original's direct exit(1)
		// from the failing thread (original_source/src/httest.c:1444-1446).
		// os.Exit is the same category of hard, non-cooperative process
		// kill that C's exit(1) is — no stack unwinding or cleanup for
		// other goroutines either.
		os.Exit(1)
	}
}

func errorMessage(err error) Value {
	if err == nil || IsBreak(err) {
		return StringValue("")
	}
	return StringValue(err.Error())
}

func statusString(failed bool) Value {
	if failed {
		return StringValue("FAILED")
	}
	return StringValue("OK")
}

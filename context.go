// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"sync"
	"sync/atomic"
)

// Latch is the process-wide monotonic success flag spec.md §3 and §5
// describe: "once cleared it is never re-set" and "any thread may clear
// it, none may set it".
type Latch struct {
	ok int32
}

// NewLatch returns a latch initialized to success.
func NewLatch() *Latch { return &Latch{ok: 1} }

// Clear monotonically clears the latch. Safe to call from any goroutine,
// any number of times.
func (l *Latch) Clear() { atomic.StoreInt32(&l.ok, 0) }

// OK reports whether the latch is still set.
func (l *Latch) OK() bool { return atomic.LoadInt32(&l.ok) != 0 }

// Rendezvous is the lock clients acquire once to ensure servers are
// bound, per spec.md §4.4 and §5: "the orchestrator holds it when
// spawning servers and releases it only after all servers have called
// listener-up; clients lock-then-unlock the mutex as their first act."
type Rendezvous struct {
	mu sync.Mutex
	wg sync.WaitGroup
}

// Begin is called once by the orchestrator before spawning server
// threads: it locks the rendezvous and arms the wait group for nServers
// listener-up signals.
func (r *Rendezvous) Begin(nServers int) {
	r.mu.Lock()
	r.wg.Add(nServers)
}

// ServerBound is called by a server thread once its listener is bound.
func (r *Rendezvous) ServerBound() { r.wg.Done() }

// End blocks until every spawned server has called ServerBound, then
// releases the rendezvous so waiting clients can proceed.
func (r *Rendezvous) End() {
	r.wg.Wait()
	r.mu.Unlock()
}

// ClientWait is a client thread's first act: lock-then-unlock blocks
// until the orchestrator's End call has run.
func (r *Rendezvous) ClientWait() {
	r.mu.Lock()
	r.mu.Unlock()
}

// NamedMutexTable backs _PROC:LOCK/_PROC:UNLOCK: script-level
// synchronization over shared (global) variables, referenced but not
// fully specified by spec.md §5.
type NamedMutexTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewNamedMutexTable returns an empty table.
func NewNamedMutexTable() *NamedMutexTable {
	return &NamedMutexTable{locks: map[string]*sync.Mutex{}}
}

// Lock locks the named mutex, creating it on first use.
func (t *NamedMutexTable) Lock(name string) {
	t.mu.Lock()
	m, ok := t.locks[name]
	if !ok {
		m = &sync.Mutex{}
		t.locks[name] = m
	}
	t.mu.Unlock()
	m.Lock()
}

// Unlock unlocks the named mutex. Unlocking a mutex that was never
// locked by this goroutine is a caller error, matching sync.Mutex.
func (t *NamedMutexTable) Unlock(name string) {
	t.mu.Lock()
	m, ok := t.locks[name]
	t.mu.Unlock()
	if ok {
		m.Unlock()
	}
}

// GlobalContext holds everything spec.md §3 "Global context" lists:
// the variable store, command registry, hook dispatcher, worker tables,
// module→block-map, running-thread count, rendezvous, success latch,
// default socket timeout, and thread attributes. Workers hold a
// non-owning back-reference to their GlobalContext (spec.md §9 "Cyclic
// references": "global owns workers; workers hold a non-owning
// back-reference").
type GlobalContext struct {
	Config *Config
	Logger SLogger

	Vars     *Scope
	Registry *CommandRegistry
	Hooks    *HookDispatcher
	Modules  *ModuleTable

	Clients []*Worker
	Servers []*Worker
	Daemons []*Worker
	Files   []*Worker

	Rendezvous *Rendezvous
	Latch      *Latch
	ProcMutex  *NamedMutexTable

	runningThreads int64

	AutoClose bool

	// TempFiles are paths created by FILE blocks, removed at process exit.
	TempFiles []string

	Connector *Connector

	// moduleState holds per-module global state that outlives any single
	// dispatch, keyed by module name — e.g. PERF's Prometheus collectors.
	// Mirrors the worker-level equivalent in worker.go; both follow the
	// original's module_get_config/module_set_config pattern, which keeps
	// state at both the global and the worker scope.
	moduleState map[string]any
	moduleMu    sync.Mutex
}

// GlobalModuleState returns the state a compatibility module previously
// stored under name via SetGlobalModuleState, or nil if none exists yet.
func (gc *GlobalContext) GlobalModuleState(name string) any {
	gc.moduleMu.Lock()
	defer gc.moduleMu.Unlock()
	return gc.moduleState[name]
}

// SetGlobalModuleState stores v under name for later retrieval.
func (gc *GlobalContext) SetGlobalModuleState(name string, v any) {
	gc.moduleMu.Lock()
	defer gc.moduleMu.Unlock()
	if gc.moduleState == nil {
		gc.moduleState = map[string]any{}
	}
	gc.moduleState[name] = v
}

// NewGlobalContext creates a ready-to-use global context. Callers should
// then call RegisterBuiltins and any compatibility-module Register
// functions before running the assembler.
func NewGlobalContext(cfg *Config, logger SLogger) *GlobalContext {
	if logger == nil {
		logger = DefaultSLogger()
	}
	vars := NewGlobalScope()
	gc := &GlobalContext{
		Config:     cfg,
		Logger:     logger,
		Vars:       vars,
		Registry:   NewCommandRegistry(),
		Hooks:      NewHookDispatcher(),
		Modules:    NewModuleTable(),
		Rendezvous: &Rendezvous{},
		Latch:      NewLatch(),
		ProcMutex:  NewNamedMutexTable(),
		AutoClose:  true,
	}
	gc.Connector = &Connector{Cfg: cfg, Logger: logger}
	return gc
}

// IncThreads increments the running-thread count. Called once per
// started thread.
func (gc *GlobalContext) IncThreads() { atomic.AddInt64(&gc.runningThreads, 1) }

// DecThreads decrements the running-thread count and returns the new
// value; a thread calls this exactly once at exit, per spec.md §3's
// invariant.
func (gc *GlobalContext) DecThreads() int64 { return atomic.AddInt64(&gc.runningThreads, -1) }

// RunningThreads reports the current running-thread count.
func (gc *GlobalContext) RunningThreads() int64 { return atomic.LoadInt64(&gc.runningThreads) }

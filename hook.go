// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import "sort"

// HookID names one of the ordered hook chains spec.md §4.2 lists.
type HookID int

const (
	HookReadLine HookID = iota
	HookBlockStart
	HookBlockEnd
	HookPreConnect
	HookPostConnect
	HookLineSent
	HookWaitBegin
	HookWaitEnd
	HookReadStatus
	HookReadHeader
	HookReadBuf
	HookWorkerClone
	HookWorkerFinally
	HookWorkerJoined
	HookClientCreate
	HookClientStart
	HookAccept
	HookServerPortArgs
)

// notImplemented is the sentinel first-match handlers return to signal
// "I don't handle this event; try the next callback", per spec.md §4.3.
var notImplemented = struct{}{}

// NotImplemented is the value a first-match [HookFunc] returns to pass
// the event to the next registered callback.
func NotImplemented() (any, error) { return notImplemented, nil }

func isNotImplemented(v any) bool { return v == notImplemented }

// HookFunc is one callback in a hook chain. It receives the event's
// payload (whatever is meaningful for that [HookID]: a line, a worker, a
// socket key, ...) and returns a result plus an error.
type HookFunc func(payload any) (any, error)

// RunMode controls how a hook chain's callbacks combine their results,
// per spec.md §4.3.
type RunMode int

const (
	// RunFirstMatch runs handlers in priority order until one returns
	// something other than [NotImplemented]; that result wins. Used for
	// read_line, block_start, server_port_args, worker_clone.
	RunFirstMatch RunMode = iota

	// RunAll runs every handler; the last non-nil-error result wins. Used
	// for observational hooks (line_sent, pre_connect, post_connect, ...).
	RunAll
)

type hookEntry struct {
	priority int
	fn       HookFunc
}

// HookDispatcher holds every hook chain, keyed by [HookID]. Modules
// install callbacks during initialization only; the dispatcher is frozen
// (read-only in practice) once [*Fabric.Go] starts, matching spec.md §9.
type HookDispatcher struct {
	chains map[HookID][]hookEntry
	modes  map[HookID]RunMode
}

// NewHookDispatcher returns an empty [*HookDispatcher] with every chain
// defaulting to [RunAll] unless overridden by [*HookDispatcher.SetMode].
func NewHookDispatcher() *HookDispatcher {
	return &HookDispatcher{
		chains: map[HookID][]hookEntry{},
		modes: map[HookID]RunMode{
			HookReadLine:        RunFirstMatch,
			HookBlockStart:      RunFirstMatch,
			HookServerPortArgs:  RunFirstMatch,
			HookWorkerClone:     RunFirstMatch,
		},
	}
}

// SetMode overrides the run mode for a chain.
func (d *HookDispatcher) SetMode(id HookID, mode RunMode) { d.modes[id] = mode }

// Install registers fn on the id chain with the given priority (lower
// priority hints run first, matching insertion order on ties, since
// Go's sort.SliceStable preserves registration order for equal keys).
func (d *HookDispatcher) Install(id HookID, priority int, fn HookFunc) {
	d.chains[id] = append(d.chains[id], hookEntry{priority: priority, fn: fn})
	sort.SliceStable(d.chains[id], func(i, j int) bool {
		return d.chains[id][i].priority < d.chains[id][j].priority
	})
}

// Run invokes the id chain against payload according to its [RunMode].
func (d *HookDispatcher) Run(id HookID, payload any) (any, error) {
	entries := d.chains[id]
	mode, ok := d.modes[id]
	if !ok {
		mode = RunAll
	}

	if len(entries) == 0 {
		if mode == RunFirstMatch {
			return notImplemented, nil
		}
		return payload, nil
	}

	switch mode {
	case RunFirstMatch:
		for _, e := range entries {
			res, err := e.fn(payload)
			if err != nil {
				return nil, err
			}
			if !isNotImplemented(res) {
				return res, nil
			}
		}
		return notImplemented, nil

	default: // RunAll
		var last any = payload
		for _, e := range entries {
			res, err := e.fn(last)
			if err != nil {
				return nil, err
			}
			if !isNotImplemented(res) {
				last = res
			}
		}
		return last, nil
	}
}

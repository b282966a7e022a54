// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import "context"

// CommandFlags are the per-command flags spec.md §4.3 defines.
type CommandFlags int

const (
	// FlagNone is the zero value: an ordinary, non-body, non-deprecated command.
	FlagNone CommandFlags = 0

	// FlagBody marks a body-opening command (_IF, _LOOP, _FOR, _BPS, _RPS,
	// _SOCKET, _ERROR, _PROCESS, _LUA). The interpreter uses this flag to
	// hand the command the line range of its body; the assembler counts
	// body nesting from its own bodyOpeners table.
	FlagBody CommandFlags = 1 << iota

	// FlagDeprecated emits a warning through the logger when dispatched.
	FlagDeprecated

	// FlagLink marks an alias entry: Syntax holds the target command name.
	// The interpreter rewrites the line by replacing the token with the
	// target and re-dispatches.
	FlagLink
)

func (f CommandFlags) Has(flag CommandFlags) bool { return f&flag != 0 }

// Handler is a command implementation. worker is the executing [*Worker],
// args is the unparsed tail of the line (after the command token), and
// arena is a per-command scratch map handlers may use for working state
// that must not leak past the call (spec.md §9 "Memory arenas").
type Handler func(ctx context.Context, worker *Worker, args string, arena *Arena) error

// Arena is the per-command scratch allocator spec.md §9 describes: a
// bump-allocator stand-in backed by a plain map, reset (discarded) at the
// end of each command dispatch.
type Arena struct {
	data map[string]any
}

// NewArena returns an empty [*Arena].
func NewArena() *Arena { return &Arena{data: map[string]any{}} }

// Put stores a value in the arena.
func (a *Arena) Put(key string, value any) { a.data[key] = value }

// Get retrieves a value previously stored with Put.
func (a *Arena) Get(key string) (any, bool) { v, ok := a.data[key]; return v, ok }

// Command is one entry of the [*CommandRegistry]: a name keyed by module,
// with syntax/help text, a handler, and flags, per spec.md §4.3.
type Command struct {
	Module  string
	Name    string
	Syntax  string
	Help    string
	Handler Handler
	Flags   CommandFlags
}

// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"context"
	"strings"
)

// maxLinkChain bounds LINK-alias rewriting; a legitimate alias chain is
// one or two hops, so this only guards against a registration mistake
// that would otherwise loop forever.
const maxLinkChain = 8

// bodyArenaKey is the arena key a [FlagBody] command's handler uses to
// retrieve the pre-computed sub-range of its own body, via [BodyRange].
const bodyArenaKey = "__body_range"

// bodyRange is the sub-range [From, End) a body-opening command's own
// lines occupy: From is the first line of the body (just after the
// opener), End is the index of the matching "_END ..." line.
type bodyRange struct {
	From, End int
}

// BodyRange retrieves the current body's [from, end) line range from
// arena; handlers for [FlagBody] commands (_IF, _LOOP, _FOR, _BPS, _RPS,
// _SOCKET, _ERROR, _PROCESS) call this to build the [*Worker.SubRange]
// they execute.
func BodyRange(arena *Arena) (from, end int) {
	v, _ := arena.Get(bodyArenaKey)
	br, _ := v.(bodyRange)
	return br.From, br.End
}

// Interpret runs worker's line range sequentially, dispatching each line
// through the command registry, per spec.md §4.2.
//
// A [*StatusError] or the [errBreak] sentinel returned by a handler stops
// execution immediately and is returned to the caller; loop constructs
// and _ERROR are responsible for catching and translating what their own
// nested [Interpret] call returns.
func Interpret(ctx context.Context, w *Worker) error {
	from, to := w.bounds()
	i := from
	for i < to {
		if err := ctx.Err(); err != nil {
			return NewStatusError(KindTimeout, w.Lines[i].Origin, "", err.Error())
		}

		next, err := dispatchLine(ctx, w, i)
		if err != nil {
			return err
		}
		i = next
	}
	return nil
}

// dispatchLine resolves and runs the line at index i, following LINK
// aliases until a concrete handler is found, and returns the index of the
// next line to execute (i+1 for an ordinary command, or the line just
// after a body command's matching _END).
func dispatchLine(ctx context.Context, w *Worker, i int) (next int, err error) {
	line := w.Lines[i]
	token, rest := splitToken(strings.TrimRight(line.Text, "\r"))
	if token == "" {
		return i + 1, nil
	}

	// spec.md §4.2 step 3: a bare name that resolves to a block in the
	// current module search path takes priority over the command table,
	// dispatched exactly as "_CALL <blockname> ...".
	if _, ok := w.Global.Modules.Resolve(token, w.UseModule); ok {
		return dispatchCall(ctx, w, i, token+" "+rest)
	}

	searchPath := commandSearchPath(w)

	var cmd *Command
	for hop := 0; ; hop++ {
		if hop >= maxLinkChain {
			return i, NewStatusError(KindFatal, line.Origin, token, "LINK alias chain too long")
		}
		found, ok := w.Global.Registry.Lookup(token, searchPath)
		if !ok {
			// spec.md §4.2 step 6: fall back to _CALL with the whole line,
			// treating ENOENT (no such block either) as the original
			// unknown-command syntax error.
			next, callErr := dispatchCall(ctx, w, i, token+" "+rest)
			if se, ok := callErr.(*StatusError); ok && strings.Contains(se.Msg, "ENOENT") {
				return i, NewStatusError(KindDispatch, line.Origin, token, "unknown command")
			}
			return next, callErr
		}
		if !found.Flags.Has(FlagLink) {
			cmd = found
			break
		}
		token = found.Syntax
	}

	if cmd.Flags.Has(FlagDeprecated) {
		w.Logger.Info("deprecated command used", "command", cmd.Name, "origin", line.Origin.String())
	}

	w.Logger.Debug("dispatch", "command", cmd.Name, "origin", line.Origin.String())

	arena := NewArena()
	endIdx := i + 1
	if cmd.Flags.Has(FlagBody) {
		end, ferr := FindBodyEnd(w.Lines, i)
		if ferr != nil {
			return i, ferr
		}
		arena.Put(bodyArenaKey, bodyRange{From: i + 1, End: end})
		endIdx = end + 1
	}

	// Substitution happens inside each handler, not here: some commands
	// (_MATCH and friends) need the raw, unsubstituted argument text,
	// per spec.md §4.2.
	handlerErr := cmd.Handler(ctx, w, rest, arena)
	if handlerErr != nil && !IsBreak(handlerErr) {
		w.Scope.Set("__ERROR", StringValue(handlerErr.Error()))
		kind := ""
		if se, ok := handlerErr.(*StatusError); ok {
			kind = se.Kind.String()
		}
		w.Scope.Set("__STATUS", StringValue(kind))
	}
	if handlerErr != nil {
		return i, handlerErr
	}
	return endIdx, nil
}

// dispatchCall runs args through the real _CALL handler (cmdCall, in
// commands_builtin.go) and applies the same __ERROR/__STATUS bookkeeping
// an ordinary dispatch would. Blocks never open a body, so the next line
// is always i+1 on success.
func dispatchCall(ctx context.Context, w *Worker, i int, args string) (int, error) {
	callErr := cmdCall(ctx, w, args, NewArena())
	if callErr != nil && !IsBreak(callErr) {
		w.Scope.Set("__ERROR", StringValue(callErr.Error()))
		kind := ""
		if se, ok := callErr.(*StatusError); ok {
			kind = se.Kind.String()
		}
		w.Scope.Set("__STATUS", StringValue(kind))
	}
	if callErr != nil {
		return i, callErr
	}
	return i + 1, nil
}

// commandSearchPath returns the module search order for bare (unqualified)
// command lookups: the worker's _USEd module, then [DefaultModule].
func commandSearchPath(w *Worker) []string {
	if w.UseModule == "" || w.UseModule == DefaultModule {
		return []string{DefaultModule}
	}
	return []string{w.UseModule, DefaultModule}
}

// FindBodyEnd scans lines starting at openIdx+1 (which must immediately
// follow a body-opening command) and returns the index of the matching
// "_END ..." line, using the same nesting counter the assembler uses, per
// spec.md §4.2: "a body extractor that finds the matching _END using the
// same nesting counter as the assembler."
func FindBodyEnd(lines []Line, openIdx int) (endIdx int, err error) {
	ends := 1
	for i := openIdx + 1; i < len(lines); i++ {
		token := firstToken(strings.TrimSpace(lines[i].Text))
		switch {
		case bodyOpeners[token]:
			ends++
		case strings.HasPrefix(token, "_END"):
			ends--
			if ends == 0 {
				return i, nil
			}
		}
	}
	return 0, NewStatusError(KindParse, lines[openIdx].Origin, firstToken(lines[openIdx].Text), "unterminated body")
}

// FindElse scans a _IF body's [from, end) range (end exclusive, matching
// [BodyRange]'s End) for a top-level (nesting depth 1) "_ELSE" line and
// returns its index, or -1 if none exists.
func FindElse(lines []Line, from, end int) int {
	ends := 1
	for i := from; i < end; i++ {
		token := firstToken(strings.TrimSpace(lines[i].Text))
		switch {
		case bodyOpeners[token]:
			ends++
		case strings.HasPrefix(token, "_END"):
			ends--
		case token == "_ELSE" && ends == 1:
			return i
		}
	}
	return -1
}

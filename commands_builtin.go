// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RegisterBuiltins installs every core worker-local command in the
// [DefaultModule] namespace, per spec.md §4.2/§6/§9. Compatibility
// modules (module_*.go) register their own commands separately.
func RegisterBuiltins(gc *GlobalContext) {
	reg := func(name, syntax, help string, flags CommandFlags, h Handler) {
		gc.Registry.Register(&Command{Module: DefaultModule, Name: name, Syntax: syntax, Help: help, Flags: flags, Handler: h})
	}
	link := func(name, target string) {
		gc.Registry.Register(&Command{Module: DefaultModule, Name: name, Syntax: target, Flags: FlagLink})
	}

	reg("_SET", "_SET NAME=VALUE", "set a worker variable", FlagNone, cmdSet)
	reg("_UNSET", "_UNSET NAME", "remove a worker variable", FlagNone, cmdUnset)
	reg("_LOCAL", "_LOCAL NAME=VALUE", "set a block-local variable", FlagNone, cmdLocal)
	reg("_CALL", "_CALL [Module:]NAME args... [retvars...]", "invoke a block", FlagNone, cmdCall)
	reg("_USE", "_USE MODULE", "set the module searched for unqualified _CALL", FlagNone, cmdUse)

	reg("_IF", `_IF "<left>" [NOT] OP "<right>" | _IF (expr)`, "conditional body", FlagBody, cmdIf)
	reg("_ELSE", "_ELSE", "else branch marker (never dispatched directly)", FlagNone, cmdElse)
	reg("_LOOP", "_LOOP N|FOREVER", "repeat body N times", FlagBody, cmdLoop)
	reg("_FOR", `_FOR VAR "tok1 tok2 ..."`, "repeat body binding VAR to each token", FlagBody, cmdFor)
	reg("_BPS", "_BPS rate duration", "rate-limit body by bytes/sec", FlagBody, cmdBPS)
	reg("_RPS", "_RPS rate duration", "rate-limit body by requests/sec", FlagBody, cmdRPS)
	reg("_BREAK", "_BREAK", "terminate the innermost loop successfully", FlagNone, cmdBreak)
	reg("_ERROR", "_ERROR <regex>", "run body, converting a matching error to success", FlagBody, cmdErrorScope)
	reg("_SOCKET", "_SOCKET host port [tag]", "run body with a scoped connection as current socket", FlagBody, cmdSocketBody)
	reg("_PROCESS", "_PROCESS name { ... }", "run body concurrently, recorded under name", FlagBody, cmdProcess)

	reg("_REQ", "_REQ host port [tag]", "connect and make the socket current", FlagNone, cmdReq)
	reg("_RES", "_RES", "accept the next connection on this server's listener", FlagNone, cmdRes)
	reg("_WAIT", "_WAIT", "block until data is available on the current socket", FlagNone, cmdWait)
	reg("_CLOSE", "_CLOSE", "close the current socket", FlagNone, cmdClose)
	reg("_TIMEOUT", "_TIMEOUT ms", "set this worker's per-operation timeout", FlagNone, cmdTimeout)
	reg("_EXPECT", `_EXPECT . "<pattern>"`, "fail unless the last _WAIT buffer matches pattern", FlagNone, cmdExpect)
	reg("_MATCH", `_MATCH "<text>" "<pattern>"`, "fail unless text matches pattern", FlagNone, cmdMatch)
	reg("__", "__ <text>", "send text verbatim with a trailing CRLF", FlagNone, cmdSendCRLF)
	reg("_-", "_- <text>", "send text verbatim with no trailing CRLF", FlagNone, cmdSendRaw)

	reg("_EXIT", "_EXIT OK|FAILED", "terminate this worker immediately", FlagNone, cmdExit)
	reg("_DEBUG", "_DEBUG <msg>", "log a debug message", FlagNone, cmdDebug)
	reg("_LOG_LEVEL", "_LOG_LEVEL name", "record the requested log level (informational)", FlagNone, cmdLogLevel)
	reg("_LOG_LEVEL_SET", "_LOG_LEVEL_SET name", "record the requested log level (informational)", FlagNone, cmdLogLevel)
	reg("_SLEEP", "_SLEEP ms", "sleep for the given duration", FlagNone, cmdSleep)
	reg("_EXEC", "_EXEC VAR cmd args...", "run a subprocess, capturing stdout into VAR", FlagNone, cmdExecLocal)
	reg("_VAR_DUMP", "_VAR_DUMP", "log this worker's variables in insertion order", FlagNone, cmdVarDump)
	reg("_PROC_WAIT", "_PROC_WAIT name", "wait for a _PROCESS body started under name", FlagNone, cmdProcWait)

	gc.Registry.Register(&Command{Module: "_PROC", Name: "LOCK", Syntax: "_PROC:LOCK name", Help: "acquire a named cross-worker mutex", Handler: cmdProcLock})
	gc.Registry.Register(&Command{Module: "_PROC", Name: "UNLOCK", Syntax: "_PROC:UNLOCK name", Help: "release a named cross-worker mutex", Handler: cmdProcUnlock})

	link("_OP", "_MATH:OP")
	link("_RAND", "_MATH:RAND")

	RegisterMathModule(gc)
}

// cmdProcLock/cmdProcUnlock back spec.md §5's "shared variables guarded by
// _PROC:LOCK/_PROC:UNLOCK" with GlobalContext.ProcMutex, a process-wide
// table of named mutexes keyed by the lock name a script chooses.
func cmdProcLock(ctx context.Context, w *Worker, args string, arena *Arena) error {
	name := strings.TrimSpace(substituted(w, args))
	if name == "" {
		return NewStatusError(KindArgument, Origin{}, "_PROC:LOCK", "missing lock name")
	}
	w.Global.ProcMutex.Lock(name)
	return nil
}

func cmdProcUnlock(ctx context.Context, w *Worker, args string, arena *Arena) error {
	name := strings.TrimSpace(substituted(w, args))
	if name == "" {
		return NewStatusError(KindArgument, Origin{}, "_PROC:UNLOCK", "missing lock name")
	}
	w.Global.ProcMutex.Unlock(name)
	return nil
}

func substituted(w *Worker, args string) string { return Substitute(w.Scope, args) }

// --- variables ---

func cmdSet(ctx context.Context, w *Worker, args string, arena *Arena) error {
	k, v, ok := strings.Cut(substituted(w, args), "=")
	k = strings.TrimSpace(k)
	if !ok || !ValidVariableName(k) {
		return NewStatusError(KindParse, Origin{}, "_SET", "bad assignment: "+args)
	}
	w.Scope.Set(k, StringValue(v))
	return nil
}

func cmdUnset(ctx context.Context, w *Worker, args string, arena *Arena) error {
	w.Scope.Unset(strings.TrimSpace(substituted(w, args)))
	return nil
}

func cmdLocal(ctx context.Context, w *Worker, args string, arena *Arena) error {
	k, v, ok := strings.Cut(substituted(w, args), "=")
	k = strings.TrimSpace(k)
	if !ok || !ValidVariableName(k) {
		return NewStatusError(KindParse, Origin{}, "_LOCAL", "bad assignment: "+args)
	}
	if !w.localScopePushed {
		w.Scope = NewChildScope(w.Scope)
		w.localScopePushed = true
	}
	w.Scope.Set(k, StringValue(v))
	return nil
}

func cmdUse(ctx context.Context, w *Worker, args string, arena *Arena) error {
	w.UseModule = strings.TrimSpace(substituted(w, args))
	return nil
}

// --- blocks ---

func cmdCall(ctx context.Context, w *Worker, args string, arena *Arena) error {
	tokens := strings.Fields(substituted(w, args))
	if len(tokens) == 0 {
		return NewStatusError(KindArgument, Origin{}, "_CALL", "missing block name")
	}
	name := tokens[0]
	block, ok := w.Global.Modules.Resolve(name, w.UseModule)
	if !ok {
		return NewStatusError(KindDispatch, Origin{}, "_CALL", "ENOENT: "+name)
	}

	rest := tokens[1:]
	nParams := len(block.Params)
	if len(rest) < nParams {
		return NewStatusError(KindArgument, Origin{}, "_CALL", "not enough arguments for "+name)
	}
	paramVals, retNames := rest[:nParams], rest[nParams:]

	inst := block.Worker.Clone()
	for i, p := range block.Params {
		inst.Scope.Set(p, StringValue(paramVals[i]))
	}

	err := Interpret(ctx, inst)
	if err != nil && !IsBreak(err) {
		return err
	}

	for i, rv := range block.Retvars {
		if i >= len(retNames) {
			break
		}
		if v, ok := inst.Scope.Get(rv); ok {
			w.Scope.Set(retNames[i], v)
		}
	}
	return nil
}

// --- conditionals and loops ---

func cmdIf(ctx context.Context, w *Worker, args string, arena *Arena) error {
	from, end := BodyRange(arena)
	cond, err := evalIfCondition(w, args)
	if err != nil {
		return err
	}

	elseIdx := FindElse(w.Lines, from, end)
	var sub *Worker
	switch {
	case cond && elseIdx >= 0:
		sub = w.SubRange(from, elseIdx)
	case cond:
		sub = w.SubRange(from, end)
	case elseIdx >= 0:
		sub = w.SubRange(elseIdx+1, end)
	default:
		return nil
	}
	return Interpret(ctx, sub)
}

func cmdElse(ctx context.Context, w *Worker, args string, arena *Arena) error {
	return NewStatusError(KindFatal, Origin{}, "_ELSE", "_ELSE outside an _IF body")
}

// evalIfCondition implements both _IF forms: the quoted comparison form
// and the parenthesized expression form, per spec.md §4.2.
func evalIfCondition(w *Worker, args string) (bool, error) {
	text := strings.TrimSpace(args)
	if strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")") {
		inner := substituted(w, text[1:len(text)-1])
		v, err := EvalExpr(inner)
		if err != nil {
			return false, NewStatusError(KindParse, Origin{}, "_IF", err.Error())
		}
		return v != 0, nil
	}

	toks, err := tokenizeQuoted(text)
	if err != nil {
		return false, NewStatusError(KindParse, Origin{}, "_IF", err.Error())
	}
	if len(toks) < 3 {
		return false, NewStatusError(KindParse, Origin{}, "_IF", "malformed condition: "+args)
	}
	left := substituted(w, toks[0])
	rest := toks[1:]
	negate := false
	if strings.EqualFold(rest[0], "NOT") {
		negate = true
		rest = rest[1:]
	}
	if len(rest) < 2 {
		return false, NewStatusError(KindParse, Origin{}, "_IF", "missing operator/right operand: "+args)
	}
	op := strings.ToUpper(rest[0])
	right := substituted(w, rest[1])

	result, err := evalCompare(op, left, right)
	if err != nil {
		return false, NewStatusError(KindParse, Origin{}, "_IF", err.Error())
	}
	if negate {
		result = !result
	}
	return result, nil
}

func evalCompare(op, left, right string) (bool, error) {
	switch op {
	case "MATCH":
		re, err := regexp.Compile("(?m)" + right)
		if err != nil {
			return false, err
		}
		return re.MatchString(left), nil
	case "EQUAL":
		return left == right, nil
	case "EQ", "LT", "GT", "LE", "GE":
		l, err1 := strconv.ParseFloat(left, 64)
		r, err2 := strconv.ParseFloat(right, 64)
		if err1 != nil || err2 != nil {
			return false, fmt.Errorf("non-numeric operand for %s: %q %q", op, left, right)
		}
		switch op {
		case "EQ":
			return l == r, nil
		case "LT":
			return l < r, nil
		case "GT":
			return l > r, nil
		case "LE":
			return l <= r, nil
		case "GE":
			return l >= r, nil
		}
	}
	return false, fmt.Errorf("unknown _IF operator: %s", op)
}

// tokenizeQuoted splits s into whitespace-separated tokens, treating
// "..." spans as single tokens with the quotes stripped.
func tokenizeQuoted(s string) ([]string, error) {
	var toks []string
	i := 0
	for i < len(s) {
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if i >= len(s) {
			break
		}
		if s[i] == '"' {
			j := i + 1
			for j < len(s) && s[j] != '"' {
				j++
			}
			if j >= len(s) {
				return nil, fmt.Errorf("unterminated quoted string")
			}
			toks = append(toks, s[i+1:j])
			i = j + 1
			continue
		}
		j := i
		for j < len(s) && s[j] != ' ' && s[j] != '\t' {
			j++
		}
		toks = append(toks, s[i:j])
		i = j
	}
	return toks, nil
}

func cmdLoop(ctx context.Context, w *Worker, args string, arena *Arena) error {
	from, end := BodyRange(arena)
	spec := strings.TrimSpace(substituted(w, args))

	forever := strings.EqualFold(spec, "FOREVER")
	n := 0
	if !forever {
		var err error
		n, err = strconv.Atoi(spec)
		if err != nil {
			return NewStatusError(KindParse, Origin{}, "_LOOP", "bad count: "+spec)
		}
	}

	for i := 0; forever || i < n; i++ {
		sub := w.SubRange(from, end)
		err := Interpret(ctx, sub)
		if IsBreak(err) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func cmdFor(ctx context.Context, w *Worker, args string, arena *Arena) error {
	from, end := BodyRange(arena)
	toks, err := tokenizeQuoted(strings.TrimSpace(args))
	if err != nil || len(toks) < 1 {
		return NewStatusError(KindParse, Origin{}, "_FOR", "malformed: "+args)
	}
	varName := toks[0]
	list := ""
	if len(toks) > 1 {
		list = toks[1]
	}
	list = substituted(w, list)

	for _, tok := range strings.Fields(list) {
		w.Scope.Set(varName, StringValue(tok))
		sub := w.SubRange(from, end)
		err := Interpret(ctx, sub)
		if IsBreak(err) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// cmdBPS and cmdRPS share the same shape: run the body once, measure how
// long that took, and if the observed rate (bytes or requests over that
// interval) exceeds the target, sleep in 1ms steps until it no longer
// does, then repeat until duration seconds have elapsed in total. Ported
// from command_BPS/command_RPS in httest.c, which does the identical
// measure-then-throttle dance over apr_time_now() deltas.

func cmdBPS(ctx context.Context, w *Worker, args string, arena *Arena) error {
	from, end := BodyRange(arena)
	rate, duration, err := parseRateDuration(w, args, "_BPS")
	if err != nil {
		return err
	}

	init := time.Now()
	for {
		start := time.Now()
		w.Counters.BytesSent = 0
		sub := w.SubRange(from, end)
		if ierr := Interpret(ctx, sub); IsBreak(ierr) {
			return nil
		} else if ierr != nil {
			return ierr
		}
		throttleToRate(&start, rate, func() int64 { return w.Counters.BytesSent })
		if time.Since(init) >= duration {
			return nil
		}
	}
}

func cmdRPS(ctx context.Context, w *Worker, args string, arena *Arena) error {
	from, end := BodyRange(arena)
	rate, duration, err := parseRateDuration(w, args, "_RPS")
	if err != nil {
		return err
	}

	init := time.Now()
	for {
		start := time.Now()
		w.Counters.Requests = 0
		sub := w.SubRange(from, end)
		if ierr := Interpret(ctx, sub); IsBreak(ierr) {
			return nil
		} else if ierr != nil {
			return ierr
		}
		throttleToRate(&start, rate, func() int64 { return w.Counters.Requests })
		if time.Since(init) >= duration {
			return nil
		}
	}
}

func parseRateDuration(w *Worker, args string, name string) (rate int64, duration time.Duration, err error) {
	fields := strings.Fields(substituted(w, args))
	if len(fields) < 2 {
		return 0, 0, NewStatusError(KindArgument, Origin{}, name, "usage: "+name+" rate duration")
	}
	rate, rerr := strconv.ParseInt(fields[0], 10, 64)
	secs, serr := strconv.ParseInt(fields[1], 10, 64)
	if rerr != nil || serr != nil || rate <= 0 {
		return 0, 0, NewStatusError(KindParse, Origin{}, name, "bad rate or duration: "+args)
	}
	return rate, time.Duration(secs) * time.Second, nil
}

// throttleToRate sleeps in 1ms steps, re-measuring elapsed time against
// *start, until count()/elapsed no longer exceeds rate per second.
func throttleToRate(start *time.Time, rate int64, count func() int64) {
	for {
		elapsed := time.Since(*start)
		if elapsed <= 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		if float64(count())/elapsed.Seconds() <= float64(rate) {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func cmdBreak(ctx context.Context, w *Worker, args string, arena *Arena) error {
	return errBreak
}

func cmdErrorScope(ctx context.Context, w *Worker, args string, arena *Arena) error {
	from, end := BodyRange(arena)
	pattern := strings.Trim(strings.TrimSpace(substituted(w, args)), `"`)

	sub := w.SubRange(from, end)
	err := Interpret(ctx, sub)
	if err == nil || IsBreak(err) {
		return err
	}

	re, cerr := regexp.Compile(pattern)
	if cerr != nil {
		return NewStatusError(KindParse, Origin{}, "_ERROR", cerr.Error())
	}
	if re.MatchString(err.Error()) {
		return nil
	}
	return err
}

func cmdSocketBody(ctx context.Context, w *Worker, args string, arena *Arena) error {
	from, end := BodyRange(arena)
	toks := strings.Fields(substituted(w, args))
	if len(toks) < 2 {
		return NewStatusError(KindArgument, Origin{}, "_SOCKET", "usage: _SOCKET host port [tag]")
	}
	host, port := toks[0], toks[1]
	tag := ""
	if len(toks) > 2 {
		tag = toks[2]
	}
	key := SocketKey(host, port, tag)
	entry := w.Sockets.Get(key)
	if err := w.Global.Connector.Connect(ctx, entry, "tcp", host, port, false); err != nil {
		return NewStatusError(KindIO, Origin{}, "_SOCKET", err.Error())
	}
	w.Sockets.SetCurrent(key)

	sub := w.SubRange(from, end)
	return Interpret(ctx, sub)
}

func cmdProcess(ctx context.Context, w *Worker, args string, arena *Arena) error {
	from, end := BodyRange(arena)
	name := strings.TrimSpace(substituted(w, args))
	if name == "" {
		return NewStatusError(KindArgument, Origin{}, "_PROCESS", "missing name")
	}
	if w.procHandles == nil {
		w.procHandles = map[string]*procHandle{}
	}
	h := &procHandle{done: make(chan error, 1)}
	w.procHandles[name] = h

	sub := w.SubRange(from, end)
	go func() { h.done <- Interpret(ctx, sub) }()
	return nil
}

func cmdProcWait(ctx context.Context, w *Worker, args string, arena *Arena) error {
	name := strings.TrimSpace(substituted(w, args))
	h, ok := w.procHandles[name]
	if !ok {
		return NewStatusError(KindArgument, Origin{}, "_PROC_WAIT", "no such process: "+name)
	}
	err := <-h.done
	if err != nil && !IsBreak(err) {
		return err
	}
	return nil
}

// --- sockets ---

func cmdReq(ctx context.Context, w *Worker, args string, arena *Arena) error {
	toks := strings.Fields(substituted(w, args))
	if len(toks) < 2 {
		return NewStatusError(KindArgument, Origin{}, "_REQ", "usage: _REQ host port [tag]")
	}
	host, port := toks[0], toks[1]
	tag := ""
	if len(toks) > 2 {
		tag = toks[2]
	}
	key := SocketKey(host, port, tag)
	entry := w.Sockets.Get(key)

	dctx := ctx
	if timeout := w.GetTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Millisecond)
		defer cancel()
	}
	if err := w.Global.Connector.Connect(dctx, entry, "tcp", host, port, false); err != nil {
		return NewStatusError(KindIO, Origin{}, "_REQ", err.Error())
	}
	w.Sockets.SetCurrent(key)
	return nil
}

func cmdRes(ctx context.Context, w *Worker, args string, arena *Arena) error {
	if w.listener == nil {
		host, _ := w.Scope.Get("__BIND_HOST")
		portVal, _ := w.Scope.Get("__BIND_PORT")
		bindHost := host.Str
		if bindHost == "" {
			bindHost = "127.0.0.1"
		}
		ln, err := net.Listen("tcp", net.JoinHostPort(bindHost, portVal.Str))
		if err != nil {
			return NewStatusError(KindIO, Origin{}, "_RES", err.Error())
		}
		w.listener = ln
		if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
			w.Global.Vars.Set("SERVER_PORT", StringValue(strconv.Itoa(tcpAddr.Port)))
			w.Global.Vars.Set(w.Name+"_PORT", StringValue(strconv.Itoa(tcpAddr.Port)))
		}
		w.SignalServerBound()
	}

	conn, err := w.listener.Accept()
	if err != nil {
		return NewStatusError(KindIO, Origin{}, "_RES", err.Error())
	}
	observed, _ := NewObserveConnFunc(w.Global.Config, w.Logger).Call(ctx, conn)

	entry := w.Sockets.Get("accepted")
	entry.Conn = observed
	entry.State = SocketConnected
	w.Sockets.SetCurrent("accepted")
	return nil
}

func cmdWait(ctx context.Context, w *Worker, args string, arena *Arena) error {
	entry := w.Sockets.Current()
	if entry == nil || entry.Conn == nil {
		return NewStatusError(KindIO, Origin{}, "_WAIT", "no current socket")
	}
	if timeout := w.GetTimeout(); timeout > 0 {
		entry.Conn.SetReadDeadline(time.Now().Add(time.Duration(timeout) * time.Millisecond))
	}
	buf := make([]byte, 8192)
	n, err := entry.Conn.Read(buf)
	if err != nil {
		return NewStatusError(KindTimeout, Origin{}, "_WAIT", err.Error())
	}
	entry.PushPeek(buf[:n])
	w.Counters.Requests++
	return nil
}

func cmdClose(ctx context.Context, w *Worker, args string, arena *Arena) error {
	if entry := w.Sockets.Current(); entry != nil {
		entry.Close()
	}
	return nil
}

func cmdTimeout(ctx context.Context, w *Worker, args string, arena *Arena) error {
	ms, err := strconv.Atoi(strings.TrimSpace(substituted(w, args)))
	if err != nil {
		return NewStatusError(KindParse, Origin{}, "_TIMEOUT", err.Error())
	}
	w.SetTimeout(int64(ms))
	return nil
}

func cmdExpect(ctx context.Context, w *Worker, args string, arena *Arena) error {
	toks, err := tokenizeQuoted(strings.TrimSpace(args))
	if err != nil || len(toks) < 2 {
		return NewStatusError(KindParse, Origin{}, "_EXPECT", "usage: _EXPECT . \"pattern\"")
	}
	pattern := substituted(w, toks[1])

	entry := w.Sockets.Current()
	var buf string
	if entry != nil {
		buf = string(entry.Peek())
	}
	re, cerr := regexp.Compile("(?m)" + pattern)
	if cerr != nil {
		return NewStatusError(KindParse, Origin{}, "_EXPECT", cerr.Error())
	}
	if !re.MatchString(buf) {
		return NewStatusError(KindExpectation, Origin{}, "_EXPECT", fmt.Sprintf("expected %q, got %q", pattern, buf))
	}
	return nil
}

func cmdMatch(ctx context.Context, w *Worker, args string, arena *Arena) error {
	toks, err := tokenizeQuoted(strings.TrimSpace(args))
	if err != nil || len(toks) < 2 {
		return NewStatusError(KindParse, Origin{}, "_MATCH", "usage: _MATCH \"text\" \"pattern\"")
	}
	text := substituted(w, toks[0])
	pattern := substituted(w, toks[1])
	re, cerr := regexp.Compile("(?m)" + pattern)
	if cerr != nil {
		return NewStatusError(KindParse, Origin{}, "_MATCH", cerr.Error())
	}
	if !re.MatchString(text) {
		return NewStatusError(KindExpectation, Origin{}, "_MATCH", fmt.Sprintf("%q does not match %q", text, pattern))
	}
	return nil
}

func cmdSendCRLF(ctx context.Context, w *Worker, args string, arena *Arena) error {
	return sendRaw(w, substituted(w, args)+"\r\n")
}

func cmdSendRaw(ctx context.Context, w *Worker, args string, arena *Arena) error {
	return sendRaw(w, substituted(w, args))
}

func sendRaw(w *Worker, text string) error {
	entry := w.Sockets.Current()
	if entry == nil || entry.Conn == nil {
		return NewStatusError(KindIO, Origin{}, "__", "no current socket")
	}
	n, err := entry.Conn.Write([]byte(text))
	if err != nil {
		return NewStatusError(KindIO, Origin{}, "__", err.Error())
	}
	w.Counters.BytesSent += int64(n)
	return nil
}

// --- misc ---

func cmdExit(ctx context.Context, w *Worker, args string, arena *Arena) error {
	verdict := strings.ToUpper(strings.TrimSpace(substituted(w, args)))
	return exitSentinel{ok: verdict != "FAILED"}
}

func cmdDebug(ctx context.Context, w *Worker, args string, arena *Arena) error {
	w.Logger.Debug(substituted(w, args))
	return nil
}

func cmdLogLevel(ctx context.Context, w *Worker, args string, arena *Arena) error {
	w.Global.Vars.Set("__LOG_LEVEL", StringValue(strings.TrimSpace(substituted(w, args))))
	return nil
}

func cmdSleep(ctx context.Context, w *Worker, args string, arena *Arena) error {
	ms, err := strconv.Atoi(strings.TrimSpace(substituted(w, args)))
	if err != nil {
		return NewStatusError(KindParse, Origin{}, "_SLEEP", err.Error())
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return NewStatusError(KindTimeout, Origin{}, "_SLEEP", ctx.Err().Error())
	}
	return nil
}

func cmdExecLocal(ctx context.Context, w *Worker, args string, arena *Arena) error {
	fields := strings.Fields(substituted(w, args))
	if len(fields) < 2 {
		return NewStatusError(KindArgument, Origin{}, "_EXEC", "usage: _EXEC VAR cmd args...")
	}
	varName, cmdName, cmdArgs := fields[0], fields[1], fields[2:]
	out, err := exec.CommandContext(ctx, cmdName, cmdArgs...).Output()
	if err != nil {
		return NewStatusError(KindChild, Origin{}, "_EXEC", err.Error())
	}
	w.Scope.Set(varName, StringValue(strings.TrimRight(string(out), "\n")))
	return nil
}

func cmdVarDump(ctx context.Context, w *Worker, args string, arena *Arena) error {
	var b strings.Builder
	wr := bufio.NewWriter(&b)
	for _, k := range w.Scope.Keys() {
		v, _ := w.Scope.Get(k)
		fmt.Fprintf(wr, "%s=%s\n", k, v.Str)
	}
	wr.Flush()
	w.Logger.Info("var dump", "worker", w.Name, "vars", b.String())
	return nil
}

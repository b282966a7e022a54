// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"context"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// RegisterLuaModule installs the one command lua_module.c provides:
// _LUA { ... _END LUA }, a body of raw Lua source run against an
// interpreter seeded with this worker's variables. Backed by
// github.com/yuin/gopher-lua, a pure-Go Lua 5.1 VM, since the original
// embeds C Lua 5.1 directly and the pack has no cgo Lua binding.
func RegisterLuaModule(gc *GlobalContext) {
	gc.Registry.Register(&Command{
		Module: DefaultModule, Name: "_LUA",
		Syntax:  "_LUA { ... _END LUA }",
		Help:    "run a body of Lua source seeded with this worker's variables",
		Flags:   FlagBody,
		Handler: cmdLua,
	})
}

func cmdLua(ctx context.Context, w *Worker, args string, arena *Arena) error {
	from, end := BodyRange(arena)

	var src strings.Builder
	for i := from; i < end; i++ {
		src.WriteString(w.Lines[i].Text)
		src.WriteByte('\n')
	}

	names := w.Scope.Keys()

	L := lua.NewState()
	defer L.Close()

	for _, n := range names {
		if v, ok := w.Scope.Get(n); ok {
			L.SetGlobal(n, lua.LString(v.Str))
		}
	}

	if err := L.DoString(src.String()); err != nil {
		return NewStatusError(KindChild, Origin{}, "_LUA", err.Error())
	}

	for _, n := range names {
		gv := L.GetGlobal(n)
		if s, ok := gv.(lua.LString); ok {
			w.Scope.Set(n, StringValue(string(s)))
		}
	}
	return nil
}

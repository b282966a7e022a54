// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// bodyOpeners are the worker-local commands that carry [FlagBody]: lines
// starting with one of these, while a top-level body is being collected,
// push the nesting counter so a later "_END ..." at the matching depth
// doesn't trip the outer body's own terminator, per spec.md §4.1.
var bodyOpeners = map[string]bool{
	"_IF": true, "_LOOP": true, "_FOR": true, "_BPS": true,
	"_RPS": true, "_SOCKET": true, "_ERROR": true, "_PROCESS": true,
	"_LUA": true,
}

// Assembler reads one or more script files and produces the named workers
// (clients, servers, daemons, blocks, files) spec.md §4.1 describes.
type Assembler struct {
	Global *GlobalContext

	currentModule string
	includeDepth  int
}

// NewAssembler returns an assembler bound to global.
func NewAssembler(global *GlobalContext) *Assembler {
	return &Assembler{Global: global, currentModule: DefaultModule}
}

// AssembleFile opens path and assembles it as a top-level script.
func (a *Assembler) AssembleFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return NewStatusError(KindIO, Origin{File: path}, "INCLUDE", err.Error())
	}
	defer f.Close()
	return a.assembleReader(path, f)
}

// state distinguishes whether the assembler is collecting global
// declarations or appending lines to a worker body under construction.
type asmState int

const (
	stateNone asmState = iota
	stateBody
)

func (a *Assembler) assembleReader(file string, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	state := stateNone
	var cur *Worker
	var ends int
	lineno := 0

	finishBody := func() error {
		switch cur.Kind {
		case KindClient:
			a.Global.Clients = append(a.Global.Clients, cur)
		case KindServer:
			a.Global.Servers = append(a.Global.Servers, cur)
		case KindDaemon:
			a.Global.Daemons = append(a.Global.Daemons, cur)
		case KindFile:
			a.Global.Files = append(a.Global.Files, cur)
		case KindBlock:
			a.Global.Modules.Declare(cur.Module, &Block{Name: cur.Name, Module: cur.Module, Worker: cur})
		}
		cur = nil
		state = stateNone
		return nil
	}

	for scanner.Scan() {
		lineno++
		origin := Origin{File: file, Lineno: lineno}
		raw := scanner.Text()

		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if res, err := a.Global.Hooks.Run(HookReadLine, &Line{Origin: origin, Text: raw}); err != nil {
			return err
		} else if ln, ok := res.(*Line); ok && ln != nil {
			raw = ln.Text
			trimmed = strings.TrimSpace(raw)
		}

		if state == stateBody {
			token := firstToken(trimmed)
			switch {
			case bodyOpeners[token]:
				ends++
				cur.Lines = append(cur.Lines, Line{Origin: origin, Text: raw})
			case strings.HasPrefix(token, "_END"):
				ends--
				cur.Lines = append(cur.Lines, Line{Origin: origin, Text: raw})
				if ends < 0 {
					return NewStatusError(KindParse, origin, token, "unmatched _END")
				}
			case token == "END" && ends == 1:
				if err := finishBody(); err != nil {
					return err
				}
			default:
				cur.Lines = append(cur.Lines, Line{Origin: origin, Text: raw})
			}
			continue
		}

		// state == stateNone: this line must be a global command.
		token, rest := splitToken(trimmed)
		switch strings.ToUpper(token) {
		case "CLIENT":
			w := NewWorker(a.Global, "client", KindClient)
			if n := strings.TrimSpace(rest); n != "" {
				if count, err := strconv.Atoi(n); err == nil {
					w.Scope.Set("__COUNT", StringValue(strconv.Itoa(count)))
				}
			}
			cur, ends, state = w, 1, stateBody

		case "SERVER":
			fields := strings.Fields(strings.TrimSpace(rest))
			if len(fields) == 0 {
				return NewStatusError(KindParse, origin, "SERVER", "missing addr_port")
			}
			w := NewWorker(a.Global, fmt.Sprintf("server%d", len(a.Global.Servers)), KindServer)
			_, host, port := parseBindAddr(fields[0])
			w.Scope.Set("__BIND_HOST", StringValue(host))
			w.Scope.Set("__BIND_PORT", StringValue(port))
			if len(fields) > 1 {
				w.Scope.Set("__COUNT", StringValue(fields[1]))
			}
			cur, ends, state = w, 1, stateBody

		case "DAEMON":
			w := NewWorker(a.Global, "daemon", KindDaemon)
			cur, ends, state = w, 1, stateBody

		case "BLOCK":
			name, sig, _ := strings.Cut(strings.TrimSpace(rest), " ")
			if a.currentModule == "" {
				a.currentModule = DefaultModule
			}
			w := NewWorker(a.Global, name, KindBlock)
			w.Module = a.currentModule
			w.Params, w.Retvars = ParseSignature(sig)
			cur, ends, state = w, 1, stateBody

		case "FILE":
			w := NewWorker(a.Global, strings.TrimSpace(rest), KindFile)
			cur, ends, state = w, 1, stateBody

		case "MODULE":
			name := strings.TrimSpace(rest)
			if name == DefaultModule {
				return NewStatusError(KindParse, origin, "MODULE", "DEFAULT is reserved")
			}
			if name == "" {
				a.currentModule = DefaultModule
			} else {
				a.currentModule = name
			}

		case "INCLUDE":
			if a.includeDepth >= a.Global.Config.IncludeDepthLimit {
				return NewStatusError(KindParse, origin, "INCLUDE", "include depth limit exceeded")
			}
			var candidates []string
			for _, p := range strings.Fields(rest) {
				if !filepath.IsAbs(p) {
					candidates = append(candidates, filepath.Join(filepath.Dir(file), p))
				}
				candidates = append(candidates, p)
			}
			path, ok := firstExisting(candidates)
			if !ok {
				return NewStatusError(KindIO, origin, "INCLUDE", "no readable path in: "+rest)
			}
			a.includeDepth++
			err := a.AssembleFile(path)
			a.includeDepth--
			a.currentModule = DefaultModule
			if err != nil {
				return err
			}

		case "EXEC":
			if err := runGlobalExec(strings.TrimSpace(rest)); err != nil {
				return NewStatusError(KindChild, origin, "EXEC", err.Error())
			}

		case "SET":
			k, v, ok := strings.Cut(strings.TrimSpace(rest), "=")
			if !ok || !ValidVariableName(strings.TrimSpace(k)) {
				return NewStatusError(KindParse, origin, "SET", "bad assignment: "+rest)
			}
			a.Global.Vars.Set(strings.TrimSpace(k), StringValue(Substitute(a.Global.Vars, v)))

		case "TIMEOUT":
			ms, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil {
				return NewStatusError(KindParse, origin, "TIMEOUT", err.Error())
			}
			a.Global.Config.DefaultTimeout = time.Duration(ms) * time.Millisecond

		case "AUTO_CLOSE":
			a.Global.AutoClose = strings.EqualFold(strings.TrimSpace(rest), "on")

		case "PROCESS":
			n, varName, err := parseProcessArgs(rest)
			if err != nil {
				return NewStatusError(KindParse, origin, "PROCESS", err.Error())
			}
			if err := ForkGlobalProcesses(a.Global, n, varName); err != nil {
				return NewStatusError(KindChild, origin, "PROCESS", err.Error())
			}

		case "GO":
			fab := NewFabric(a.Global)
			fab.Go()

		case "END":
			// a top-level END with nothing open is the script's explicit
			// terminator: assembly of this file stops here.
			return scanErr(scanner)

		default:
			return NewStatusError(KindParse, origin, token, "unknown global command")
		}
	}

	if state == stateBody {
		return NewStatusError(KindParse, Origin{File: file, Lineno: lineno}, cur.Name, "unterminated body")
	}
	return scanErr(scanner)
}

func scanErr(s *bufio.Scanner) error { return s.Err() }

func firstToken(s string) string {
	tok, _ := splitToken(s)
	return tok
}

func splitToken(s string) (token, rest string) {
	s = strings.TrimLeft(s, " \t")
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}

func firstExisting(paths []string) (string, bool) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// parseBindAddr splits a SERVER line's "[<proto>:]addr_port" field into
// its optional protocol tag, bind host, and port, per spec.md §6's
// "SERVER [<proto>:]addr_port [N]". addr_port may be a bare port ("0"
// meaning "any port"; with no host, _RES binds 127.0.0.1) or "host:port".
func parseBindAddr(field string) (proto, host, port string) {
	if p, rest, ok := strings.Cut(field, ":"); ok {
		if h, prt, ok2 := strings.Cut(rest, ":"); ok2 {
			return p, h, prt
		}
		// Only one colon: ambiguous between "proto:port" and "host:port".
		// A numeric (IP address) left side means it was "host:port" with
		// no protocol.
		if net.ParseIP(p) != nil {
			return "", p, rest
		}
		return p, "", rest
	}
	return "", "", field
}

func parseProcessArgs(rest string) (n int, varName string, err error) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return 0, "", fmt.Errorf("PROCESS requires a count")
	}
	n, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", err
	}
	if len(fields) > 1 {
		varName = fields[1]
	}
	return n, varName, nil
}

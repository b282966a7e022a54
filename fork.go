// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// forkEnvDepth names the environment variable this process's own PROCESS
// fork (if any) set for its children, guarding against runaway recursion
// when a re-executed child's script reaches another PROCESS line.
const forkEnvDepth = "HTTEST_PROCESS_DEPTH"

// maxForkDepth bounds PROCESS nesting; the original's apr_proc_fork had no
// such limit, but an unbounded re-exec chain has no idiomatic Go analogue.
const maxForkDepth = 4

// ForkGlobalProcesses implements the global "PROCESS N [VAR]" command.
//
// Go has no fork(2); re-running the current binary against the same
// script file is the idiomatic stand-in (cmd/httest/main.go already
// supports being re-invoked this way). Each child gets VAR set in its
// environment to its zero-based index, so the child's own global scope
// resolves $VAR through the environment fallback (spec.md §3) without any
// special-cased plumbing. The parent waits for every child, clears its
// latch on any non-zero exit, and then continues assembling/running its
// own remaining script lines — so a PROCESS line yields N+1 parallel
// interpreters of the same script (spec.md §9's "Open Question" on
// PROCESS semantics, resolved here: parent participates too, see
// DESIGN.md).
func ForkGlobalProcesses(gc *GlobalContext, n int, varName string) error {
	if n <= 0 {
		return fmt.Errorf("PROCESS count must be positive, got %d", n)
	}

	depth := 0
	if d, err := strconv.Atoi(os.Getenv(forkEnvDepth)); err == nil {
		depth = d
	}
	if depth >= maxForkDepth {
		gc.Logger.Info("PROCESS nesting limit reached, running inline", "depth", depth)
		return nil
	}

	scriptPath, _ := gc.Vars.Get("__SCRIPT")
	if scriptPath.Str == "" {
		return fmt.Errorf("PROCESS requires a script path (__SCRIPT unset)")
	}

	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}

	children := make([]*exec.Cmd, 0, n)
	for i := 0; i < n; i++ {
		c := exec.Command(exe, os.Args[1:]...)
		c.Env = append(os.Environ(), forkEnvDepth+"="+strconv.Itoa(depth+1))
		if varName != "" {
			c.Env = append(c.Env, varName+"="+strconv.Itoa(i))
		}
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		children = append(children, c)
	}

	for _, c := range children {
		if err := c.Start(); err != nil {
			gc.Latch.Clear()
			gc.Logger.Info("PROCESS child failed to start", "error", err.Error())
		}
	}
	for _, c := range children {
		if c.Process == nil {
			continue
		}
		if err := c.Wait(); err != nil {
			gc.Latch.Clear()
			gc.Logger.Info("PROCESS child exited non-zero", "error", err.Error())
		}
	}
	return nil
}

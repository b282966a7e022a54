// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"os/exec"
	"strings"
)

// runGlobalExec runs cmd synchronously via the shell, discarding its
// output, matching the original's global EXEC directive (htt_executable.c):
// an external command run to completion during assembly, typically used
// to stage fixtures before CLIENT/SERVER bodies run. A non-zero exit
// status is returned as an error.
func runGlobalExec(cmd string) error {
	if cmd == "" {
		return nil
	}
	c := exec.Command("/bin/sh", "-c", cmd)
	return c.Run()
}

// splitShellWords is a small whitespace tokenizer that splits s into
// argv-style words. It has no callers: worker-local _EXEC splits its
// command line with [strings.Fields] itself and binds no positional
// variables.
func splitShellWords(s string) []string {
	return strings.Fields(s)
}

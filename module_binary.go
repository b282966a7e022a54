// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"context"
	"encoding/hex"
	"io"
	"strconv"
	"strings"
)

// RegisterBinaryModule installs the BINARY compatibility module's two
// commands, grounded on binary_module.c: _HEX_SEND writes hex-decoded
// bytes verbatim (no CRLF) to the current socket, and _HEX_RECV reads a
// fixed number of raw bytes and stores their hex dump in a variable.
func RegisterBinaryModule(gc *GlobalContext) {
	gc.Registry.Register(&Command{
		Module: DefaultModule, Name: "_HEX_SEND",
		Syntax:  "_HEX_SEND <hex-digits>",
		Help:    "send hex-decoded bytes verbatim to the current socket",
		Handler: cmdHexSend,
	})
	gc.Registry.Register(&Command{
		Module: DefaultModule, Name: "_HEX_RECV",
		Syntax:  "_HEX_RECV <n> VAR",
		Help:    "read n raw bytes from the current socket, storing their hex dump in VAR",
		Handler: cmdHexRecv,
	})
}

func cmdHexSend(ctx context.Context, w *Worker, args string, arena *Arena) error {
	digits := strings.Join(strings.Fields(substituted(w, args)), "")
	if len(digits)%2 != 0 {
		return NewStatusError(KindArgument, Origin{}, "_HEX_SEND", "binary data must have an even number of hex digits")
	}
	buf, err := hex.DecodeString(digits)
	if err != nil {
		return NewStatusError(KindParse, Origin{}, "_HEX_SEND", err.Error())
	}

	entry := w.Sockets.Current()
	if entry == nil || entry.Conn == nil {
		return NewStatusError(KindIO, Origin{}, "_HEX_SEND", "no current socket")
	}
	n, werr := entry.Conn.Write(buf)
	if werr != nil {
		return NewStatusError(KindIO, Origin{}, "_HEX_SEND", werr.Error())
	}
	w.Counters.BytesSent += int64(n)
	return nil
}

func cmdHexRecv(ctx context.Context, w *Worker, args string, arena *Arena) error {
	fields := strings.Fields(substituted(w, args))
	if len(fields) < 2 {
		return NewStatusError(KindArgument, Origin{}, "_HEX_RECV", "usage: _HEX_RECV n VAR")
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 0 {
		return NewStatusError(KindParse, Origin{}, "_HEX_RECV", "bad byte count: "+fields[0])
	}
	varName := fields[1]

	entry := w.Sockets.Current()
	if entry == nil || entry.Conn == nil {
		return NewStatusError(KindIO, Origin{}, "_HEX_RECV", "no current socket")
	}

	buf := make([]byte, n)
	already := entry.Peek()
	copy(buf, already)
	read := len(already)
	if read > n {
		read = n
	}
	for read < n {
		k, rerr := entry.Conn.Read(buf[read:])
		read += k
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return NewStatusError(KindIO, Origin{}, "_HEX_RECV", rerr.Error())
		}
	}

	w.Scope.Set(varName, StringValue(hex.EncodeToString(buf[:read])))
	return nil
}

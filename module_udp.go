// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"context"
	"net"
	"strings"
)

// RegisterUDPModule installs the UDP compatibility module's two
// commands, grounded on udp_module.c: _UDP:CONNECT dials a UDP peer and
// makes it the current socket; _UDP:BIND opens a UDP listener on a local
// port for receiving datagrams from any sender.
func RegisterUDPModule(gc *GlobalContext) {
	gc.Registry.Register(&Command{
		Module: "_UDP", Name: "CONNECT",
		Syntax:  "_UDP:CONNECT <ip> <port>",
		Help:    "connect to a udp destination",
		Handler: cmdUDPConnect,
	})
	gc.Registry.Register(&Command{
		Module: "_UDP", Name: "BIND",
		Syntax:  "_UDP:BIND <port>",
		Help:    "bind this worker's current socket to a local udp port",
		Handler: cmdUDPBind,
	})
}

func cmdUDPConnect(ctx context.Context, w *Worker, args string, arena *Arena) error {
	fields := strings.Fields(substituted(w, args))
	if len(fields) < 2 {
		return NewStatusError(KindArgument, Origin{}, "_UDP:CONNECT", "usage: _UDP:CONNECT host port")
	}
	host, port := fields[0], fields[1]

	entry := w.Sockets.Get(SocketKey(host, port, "udp"))
	if err := w.Global.Connector.Connect(ctx, entry, "udp", host, port, false); err != nil {
		return NewStatusError(KindIO, Origin{}, "_UDP:CONNECT", err.Error())
	}
	w.Sockets.SetCurrent(entry.Key)
	return nil
}

func cmdUDPBind(ctx context.Context, w *Worker, args string, arena *Arena) error {
	port := strings.TrimSpace(substituted(w, args))
	if port == "" {
		return NewStatusError(KindArgument, Origin{}, "_UDP:BIND", "missing port")
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort("0.0.0.0", port))
	if err != nil {
		return NewStatusError(KindParse, Origin{}, "_UDP:BIND", err.Error())
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return NewStatusError(KindIO, Origin{}, "_UDP:BIND", err.Error())
	}

	key := SocketKey("0.0.0.0", port, "udp")
	entry := w.Sockets.Get(key)
	entry.Conn = conn
	entry.Network = "udp"
	entry.State = SocketConnected
	w.Sockets.SetCurrent(key)
	return nil
}

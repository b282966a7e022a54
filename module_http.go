// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const httpModuleName = "_HTTP"

// RegisterHTTPModule installs the HTTP compatibility module. _REQ/_RES
// (commands_builtin.go) stay at the raw-socket level the original tool
// always worked at — scripts write their own request lines and read raw
// response bytes. _HTTP:CONNECT upgrades the worker's current socket to a
// real HTTP(S) round-tripper (HTTP/1.1 or h2, picked by ALPN), and
// _HTTP:REQUEST drives one request/response through it, for scripts that
// want header/body-aware HTTP instead of hand-written wire text.
func RegisterHTTPModule(gc *GlobalContext) {
	gc.Registry.Register(&Command{
		Module: httpModuleName, Name: "CONNECT",
		Syntax:  "_HTTP:CONNECT",
		Help:    "upgrade the current socket to an HTTP(S) round-tripper",
		Handler: cmdHTTPConnect,
	})
	gc.Registry.Register(&Command{
		Module: httpModuleName, Name: "REQUEST",
		Syntax:  "_HTTP:REQUEST method url VAR",
		Help:    "perform one HTTP round trip, storing the status code in VAR and the body in VAR_BODY",
		Handler: cmdHTTPRequest,
	})
}

func cmdHTTPConnect(ctx context.Context, w *Worker, args string, arena *Arena) error {
	entry := w.Sockets.Current()
	if entry == nil || entry.Conn == nil {
		return NewStatusError(KindIO, Origin{}, "_HTTP:CONNECT", "no current socket")
	}

	cfg := w.Global.Connector.Cfg
	logger := w.Logger

	var hc *HTTPConn
	var err error
	if entry.IsTLS {
		tconn, ok := entry.Conn.(TLSConn)
		if !ok {
			return NewStatusError(KindDispatch, Origin{}, "_HTTP:CONNECT", "current socket is not a TLS connection")
		}
		hc, err = NewHTTPConnFuncTLS(cfg, logger).Call(ctx, tconn)
	} else {
		hc, err = NewHTTPConnFuncPlain(cfg, logger).Call(ctx, entry.Conn)
	}
	if err != nil {
		return NewStatusError(KindIO, Origin{}, "_HTTP:CONNECT", err.Error())
	}
	w.SetModuleState(httpModuleName, hc)
	return nil
}

func cmdHTTPRequest(ctx context.Context, w *Worker, args string, arena *Arena) error {
	fields := strings.Fields(substituted(w, args))
	if len(fields) < 3 {
		return NewStatusError(KindArgument, Origin{}, "_HTTP:REQUEST", "usage: _HTTP:REQUEST method url VAR")
	}
	method, url, varName := fields[0], fields[1], fields[2]

	hc, ok := w.ModuleState(httpModuleName).(*HTTPConn)
	if !ok || hc == nil {
		return NewStatusError(KindDispatch, Origin{}, "_HTTP:REQUEST", "do _HTTP:CONNECT first")
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return NewStatusError(KindParse, Origin{}, "_HTTP:REQUEST", err.Error())
	}

	resp, err := hc.RoundTrip(req)
	if err != nil {
		return NewStatusError(KindIO, Origin{}, "_HTTP:REQUEST", err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewStatusError(KindIO, Origin{}, "_HTTP:REQUEST", err.Error())
	}

	RecordHTTPStatus(w.Global, resp.StatusCode)
	w.Scope.Set(varName, StringValue(strconv.Itoa(resp.StatusCode)))
	w.Scope.Set(varName+"_BODY", StringValue(string(body)))
	return nil
}

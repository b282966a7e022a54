// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"
)

// SocketState is the lifecycle state of a [SocketEntry].
type SocketState int

const (
	// SocketClosed is the initial state, and the state after _CLOSE.
	// Closed entries may be retained for state inspection but are never
	// read from, per spec.md §3's invariant.
	SocketClosed SocketState = iota

	// SocketConnected marks a live, readable/writable connection.
	SocketConnected
)

// SocketEntry is one entry of a worker's socket table, keyed by
// "<host>:<port>[:<tag>]" as spec.md §3 describes.
//
// For every entry marked [SocketConnected], Conn is guaranteed non-nil;
// this invariant is maintained by [*Connector.Connect] and [*SocketEntry.Close].
type SocketEntry struct {
	Key     string
	Conn    net.Conn
	IsTLS   bool
	State   SocketState
	Timeout time.Duration

	// Network is "tcp" or "udp", set by whatever connected this entry.
	// module_dns.go reads it (together with IsTLS) to pick a DNS
	// transport for _DNS:QUERY without the caller having to repeat it.
	Network string

	// peek holds bytes read ahead of a blocking _WAIT/_RES call (e.g. by a
	// module command that needs to sniff the first bytes of a connection).
	peek []byte
}

// Peek returns and clears any bytes previously stashed by PushPeek.
func (e *SocketEntry) Peek() []byte {
	b := e.peek
	e.peek = nil
	return b
}

// PushPeek stashes bytes to be returned by the next Peek call.
func (e *SocketEntry) PushPeek(b []byte) {
	e.peek = append(e.peek, b...)
}

// Close closes the underlying connection (if any) and marks the entry closed.
func (e *SocketEntry) Close() error {
	if e.State == SocketClosed {
		return nil
	}
	e.State = SocketClosed
	if e.Conn == nil {
		return nil
	}
	conn := e.Conn
	e.Conn = nil
	return conn.Close()
}

// SocketTable is a worker's table of [SocketEntry] values plus a pointer
// to the entry current _REQ/_RES operate on, as spec.md §3 describes
// ("a worker has a current-socket pointer set by _REQ/_RES").
type SocketTable struct {
	entries map[string]*SocketEntry
	order   []string
	current string
}

// NewSocketTable returns an empty [*SocketTable].
func NewSocketTable() *SocketTable {
	return &SocketTable{entries: map[string]*SocketEntry{}}
}

// SocketKey builds the "<host>:<port>[:<tag>]" key spec.md §3 describes.
func SocketKey(host, port, tag string) string {
	if tag == "" {
		return host + ":" + port
	}
	return host + ":" + port + ":" + tag
}

// Get returns the entry for key, creating a CLOSED placeholder if absent.
func (t *SocketTable) Get(key string) *SocketEntry {
	if e, ok := t.entries[key]; ok {
		return e
	}
	e := &SocketEntry{Key: key, State: SocketClosed}
	t.entries[key] = e
	t.order = append(t.order, key)
	return e
}

// SetCurrent sets the current-socket pointer used by bare _WAIT/_CLOSE/_EXPECT.
func (t *SocketTable) SetCurrent(key string) { t.current = key }

// Current returns the entry _REQ/_RES last pointed at, or nil if none yet.
func (t *SocketTable) Current() *SocketEntry {
	if t.current == "" {
		return nil
	}
	return t.Get(t.current)
}

// CloseAll closes every entry, ignoring individual errors, matching the
// worker-finalization step of spec.md §4.4 ("Closes all its sockets").
func (t *SocketTable) CloseAll() {
	for _, key := range t.order {
		t.entries[key].Close()
	}
}

// Connector dials and optionally TLS-wraps a socket entry, composing the
// teacher's [*ConnectFunc], [*CancelWatchFunc], [*ObserveConnFunc] and
// [*TLSHandshakeFunc] primitives in this order: dial, bind context
// cancellation, observe for logging, then (optionally) handshake.
type Connector struct {
	Cfg       *Config
	Logger    SLogger
	TLSConfig *tls.Config
}

// Connect dials network ("tcp" or "udp") host:port, wraps the connection
// with cancellation-watching and logging, optionally performs a TLS
// handshake, and stores the result into entry.
func (c *Connector) Connect(ctx context.Context, entry *SocketEntry, network, host, port string, useTLS bool) error {
	addr := net.JoinHostPort(host, port)
	resolved, err := net.ResolveTCPAddr(network, addr)
	var target string
	if err == nil && resolved != nil {
		target = resolved.String()
	} else {
		target = addr
	}
	_ = target // address formatting retained for future structured logging use

	dialFn := NewConnectFunc(c.Cfg, network, c.Logger)
	conn, dialErr := dialFn.Dialer.DialContext(ctx, network, addr)
	if dialErr != nil {
		return fmt.Errorf("connect %s: %w", addr, dialErr)
	}

	watched, _ := (&CancelWatchFunc{}).Call(ctx, conn)
	observeFn := NewObserveConnFunc(c.Cfg, c.Logger)
	observed, _ := observeFn.Call(ctx, watched)

	var final net.Conn = observed
	if useTLS {
		handshake := NewTLSHandshakeFunc(c.Cfg, c.tlsConfigFor(host), c.Logger)
		tconn, hsErr := handshake.Call(ctx, observed)
		if hsErr != nil {
			return hsErr
		}
		final = tconn
	}

	entry.Conn = final
	entry.IsTLS = useTLS
	entry.Network = network
	entry.State = SocketConnected
	return nil
}

func (c *Connector) tlsConfigFor(host string) *tls.Config {
	cfg := c.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	cfg = cfg.Clone()
	if cfg.ServerName == "" && net.ParseIP(host) == nil {
		cfg.ServerName = host
	}
	return cfg
}

// ParseHostPortTag splits a socket key "<host>:<port>[:<tag>]" into parts.
func ParseHostPortTag(key string) (host, port, tag string) {
	parts := strings.Split(key, ":")
	switch len(parts) {
	case 2:
		return parts[0], parts[1], ""
	case 3:
		return parts[0], parts[1], parts[2]
	default:
		return key, "", ""
	}
}

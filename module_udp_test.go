// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPBindThenConnectExchangesDatagram(t *testing.T) {
	gc := newTestGlobal()
	server := NewWorker(gc, "server", KindServer)

	require.NoError(t, cmdUDPBind(context.Background(), server, "0", NewArena()))
	serverEntry := server.Sockets.Current()
	require.NotNil(t, serverEntry)
	_, port, err := net.SplitHostPort(serverEntry.Conn.LocalAddr().String())
	require.NoError(t, err)

	client := NewWorker(gc, "client", KindClient)
	require.NoError(t, cmdUDPConnect(context.Background(), client, "127.0.0.1 "+port, NewArena()))
	clientEntry := client.Sockets.Current()
	require.NotNil(t, clientEntry)
	assert.Equal(t, "udp", clientEntry.Network)

	_, werr := clientEntry.Conn.Write([]byte("ping"))
	require.NoError(t, werr)

	buf := make([]byte, 16)
	serverEntry.Conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, rerr := serverEntry.Conn.(*net.UDPConn).ReadFromUDP(buf)
	require.NoError(t, rerr)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestUDPConnectRejectsMissingPort(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "w", KindClient)
	err := cmdUDPConnect(context.Background(), w, "127.0.0.1", NewArena())
	assert.Error(t, err)
}

func TestUDPBindRejectsMissingPort(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "w", KindClient)
	err := cmdUDPBind(context.Background(), w, "", NewArena())
	assert.Error(t, err)
}

func TestUDPBindRejectsBadPort(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "w", KindClient)
	err := cmdUDPBind(context.Background(), w, "not-a-port", NewArena())
	assert.Error(t, err)
}

func TestUDPConnectSetsCurrentSocketKey(t *testing.T) {
	gc := newTestGlobal()
	server := NewWorker(gc, "server", KindServer)
	require.NoError(t, cmdUDPBind(context.Background(), server, "0", NewArena()))
	_, port, _ := net.SplitHostPort(server.Sockets.Current().Conn.LocalAddr().String())
	_, perr := strconv.Atoi(port)
	require.NoError(t, perr)

	client := NewWorker(gc, "client", KindClient)
	require.NoError(t, cmdUDPConnect(context.Background(), client, "127.0.0.1 "+port, NewArena()))
	assert.Equal(t, SocketKey("127.0.0.1", port, "udp"), client.Sockets.Current().Key)
}

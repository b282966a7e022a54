// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerCountDefaultsToOne(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "c", KindClient)
	assert.Equal(t, 1, workerCount(w))
}

func TestWorkerCountReadsCOUNT(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "c", KindClient)
	w.Scope.Set("__COUNT", StringValue("5"))
	assert.Equal(t, 5, workerCount(w))
}

func TestWorkerCountIgnoresGarbage(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "c", KindClient)
	w.Scope.Set("__COUNT", StringValue("not-a-number"))
	assert.Equal(t, 1, workerCount(w))
}

func countRecordsWithMessage(records []slog.Record, msg string) int {
	n := 0
	for _, r := range records {
		if r.Message == msg {
			n++
		}
	}
	return n
}

func TestFabricRunsClientNInstances(t *testing.T) {
	logger, records := newCapturingLogger()
	gc := NewGlobalContext(NewConfig(), logger)
	RegisterBuiltins(gc)

	client := NewWorker(gc, "client", KindClient)
	client.Scope.Set("__COUNT", StringValue("5"))
	gc.Clients = append(gc.Clients, client)

	NewFabric(gc).Go()

	assert.Equal(t, int64(0), gc.RunningThreads(), "running-thread count must return to zero once Go returns")
	assert.Equal(t, 5, countRecordsWithMessage(*records, "worker start"))
	assert.Equal(t, 5, countRecordsWithMessage(*records, "worker done"))
}

func TestFabricServerRendezvousReleasesClients(t *testing.T) {
	logger, records := newCapturingLogger()
	gc := NewGlobalContext(NewConfig(), logger)
	RegisterBuiltins(gc)

	server := NewWorker(gc, "server0", KindServer)
	gc.Servers = append(gc.Servers, server)

	client := NewWorker(gc, "client", KindClient)
	gc.Clients = append(gc.Clients, client)

	NewFabric(gc).Go()

	require.Equal(t, int64(0), gc.RunningThreads())
	assert.Equal(t, 2, countRecordsWithMessage(*records, "worker done"))
}

// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 identifying one worker thread's lifetime.
//
// The interpreter stores this in the worker's __THREAD variable at start
// and attaches it to the worker's logger via [*slog.Logger.With], so all
// log entries emitted while interpreting that worker's lines share the
// same spanID. The span terminology is borrowed from OTel.
//
// This function panics if the system random number generator fails,
// which should only happen under extraordinary circumstances.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}

// SPDX-License-Identifier: GPL-3.0-or-later

// Package httest implements the execution engine of a scripted protocol
// test driver: a line-oriented script describes clients, servers, daemons
// and reusable blocks that exchange bytes over real TCP/UDP/TLS sockets,
// and running the script succeeds only if every participant reaches
// end-of-script with all declared expectations satisfied.
//
// # Core Abstraction
//
// A script is assembled into a set of [*Worker] values (kind client,
// server, or daemon) plus named [*Block] definitions grouped into module
// namespaces. The [*Assembler] reads script text into workers; the
// [*Fabric] then spawns one goroutine per participant and drives each
// worker's lines through [Interpret].
//
// # Execution Model
//
//   - [*Assembler]: groups lines into workers and nested bodies, resolves
//     module/block definitions, performs first-pass structural validation.
//     See assembler.go.
//   - [*Worker]: a per-participant record (name, kind, lines, variable
//     scopes, socket table, counters), run by the package-level
//     [Interpret]. See worker.go and interpreter.go.
//   - [*Scope]: three-scope (global/worker/block-local) variable
//     lookup with insertion-order iteration. See store.go.
//   - [*CommandRegistry] and [*HookDispatcher]: the extension points that
//     built-in and compatibility modules use to add commands and observe
//     script lifecycle events. See registry.go and hook.go.
//   - [*Fabric]: thread lifecycle, the client/server rendezvous, and the
//     global success latch. See concurrency.go. Process forking for the
//     global PROCESS directive lives in fork.go.
//
// # Compatibility Modules
//
// Seven compatibility modules plug into the command registry and hook
// dispatcher exactly like any third-party module would: binary (hex
// send/recv), UDP connect/bind, HTML parse/XPath, an embedded Lua block,
// DNS exchange over UDP/TCP/TLS/HTTPS, an HTTP connection wrapper, and
// performance counters. See the module_*.go files.
//
// # Observability
//
// All components accept an [SLogger] (compatible with [log/slog]). By
// default, logging is disabled; set a custom [*slog.Logger] to enable it.
// Error classification is configurable via [ErrClassifier]; by default,
// [DefaultErrClassifier] is used. Worker lifecycle events (worker start,
// done, failed) are logged at Info; per-line dispatch is logged at Debug.
//
// # Design Boundaries
//
// This package implements the core engine only. HTTP framing beyond the
// thin wrapper in module_http.go, TLS policy, and application protocols
// are compatibility-module or script responsibilities. The engine does
// not persist state across runs and does not sandbox executed
// subprocesses.
package httest

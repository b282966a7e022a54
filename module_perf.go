// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const perfModuleName = "_PERF"

// perfState is the PERF module's global state: named counters and
// histograms, created on first reference, registered against the
// process's default Prometheus registry so --metrics-addr can serve
// them. Grounded on perf_module.c's global/worker config split, reduced
// to the two statistics a script can actually name. The only metric
// recorded automatically is the per-status HTTP counter that
// [RecordHTTPStatus] feeds from _HTTP:REQUEST (module_http.go).
type perfState struct {
	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	histograms map[string]prometheus.Histogram
}

func getPerfState(gc *GlobalContext) *perfState {
	if s, ok := gc.GlobalModuleState(perfModuleName).(*perfState); ok {
		return s
	}
	s := &perfState{counters: map[string]prometheus.Counter{}, histograms: map[string]prometheus.Histogram{}}
	gc.SetGlobalModuleState(perfModuleName, s)
	return s
}

// RegisterPerfModule installs _PERF:COUNTER and _PERF:HISTOGRAM, backed
// by github.com/prometheus/client_golang (this repo's one source of a
// metrics client, confirmed against the pack's secondary example repo).
func RegisterPerfModule(gc *GlobalContext) {
	gc.Registry.Register(&Command{
		Module: perfModuleName, Name: "COUNTER",
		Syntax:  "_PERF:COUNTER name [by]",
		Help:    "increment a named counter (default 1)",
		Handler: cmdPerfCounter,
	})
	gc.Registry.Register(&Command{
		Module: perfModuleName, Name: "HISTOGRAM",
		Syntax:  "_PERF:HISTOGRAM name value",
		Help:    "observe a value into a named histogram",
		Handler: cmdPerfHistogram,
	})
}

func cmdPerfCounter(ctx context.Context, w *Worker, args string, arena *Arena) error {
	fields := strings.Fields(substituted(w, args))
	if len(fields) == 0 {
		return NewStatusError(KindArgument, Origin{}, "_PERF:COUNTER", "missing name")
	}
	name := fields[0]
	by := 1.0
	if len(fields) > 1 {
		if v, err := parseFloatLoose(fields[1]); err == nil {
			by = v
		}
	}

	state := getPerfState(w.Global)
	state.mu.Lock()
	c, ok := state.counters[name]
	if !ok {
		c = prometheus.NewCounter(prometheus.CounterOpts{Name: "httest_" + sanitizeMetricName(name), Help: "httest script counter " + name})
		prometheus.MustRegister(c)
		state.counters[name] = c
	}
	state.mu.Unlock()
	c.Add(by)
	return nil
}

func cmdPerfHistogram(ctx context.Context, w *Worker, args string, arena *Arena) error {
	fields := strings.Fields(substituted(w, args))
	if len(fields) < 2 {
		return NewStatusError(KindArgument, Origin{}, "_PERF:HISTOGRAM", "usage: _PERF:HISTOGRAM name value")
	}
	name := fields[0]
	v, err := parseFloatLoose(fields[1])
	if err != nil {
		return NewStatusError(KindParse, Origin{}, "_PERF:HISTOGRAM", err.Error())
	}

	state := getPerfState(w.Global)
	state.mu.Lock()
	h, ok := state.histograms[name]
	if !ok {
		h = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "httest_" + sanitizeMetricName(name), Help: "httest script histogram " + name})
		prometheus.MustRegister(h)
		state.histograms[name] = h
	}
	state.mu.Unlock()
	h.Observe(v)
	return nil
}

// RecordHTTPStatus increments a per-status-code counter, giving
// module_http.go's request/response commands a PERF-visible equivalent
// of the original's automatic per-request bookkeeping without resurrecting
// perf_module.c's full PERF:STAT machinery.
func RecordHTTPStatus(gc *GlobalContext, code int) {
	name := fmt.Sprintf("http_status_%d", code)
	state := getPerfState(gc)
	state.mu.Lock()
	c, ok := state.counters[name]
	if !ok {
		c = prometheus.NewCounter(prometheus.CounterOpts{Name: "httest_" + name, Help: "HTTP responses observed with this status code"})
		prometheus.MustRegister(c)
		state.counters[name] = c
	}
	state.mu.Unlock()
	c.Add(1)
}

func sanitizeMetricName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func parseFloatLoose(s string) (float64, error) { return EvalExpr(s) }

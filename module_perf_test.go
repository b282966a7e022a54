// SPDX-License-Identifier: GPL-3.0-or-later

package httest

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Prometheus counters/histograms registered by these commands live on the
// process-wide default registry, so every test below picks its own unique
// metric name to avoid a MustRegister panic from a second test reusing one.

func TestPerfCounterDefaultsToIncrementByOne(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "w", KindClient)

	require.NoError(t, cmdPerfCounter(context.Background(), w, "perf_counter_default", NewArena()))
	require.NoError(t, cmdPerfCounter(context.Background(), w, "perf_counter_default", NewArena()))

	state := getPerfState(gc)
	assert.Equal(t, float64(2), testutil.ToFloat64(state.counters["perf_counter_default"]))
}

func TestPerfCounterAcceptsExplicitIncrement(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "w", KindClient)

	require.NoError(t, cmdPerfCounter(context.Background(), w, "perf_counter_by 5", NewArena()))
	state := getPerfState(gc)
	assert.Equal(t, float64(5), testutil.ToFloat64(state.counters["perf_counter_by"]))
}

func TestPerfCounterRejectsMissingName(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "w", KindClient)
	err := cmdPerfCounter(context.Background(), w, "  ", NewArena())
	assert.Error(t, err)
}

func TestPerfHistogramObservesValue(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "w", KindClient)

	require.NoError(t, cmdPerfHistogram(context.Background(), w, "perf_hist_value 1.5", NewArena()))
	state := getPerfState(gc)
	require.Contains(t, state.histograms, "perf_hist_value")
	assert.Equal(t, 1, testutil.CollectAndCount(state.histograms["perf_hist_value"]))
}

func TestPerfHistogramRejectsBadValue(t *testing.T) {
	gc := newTestGlobal()
	w := NewWorker(gc, "w", KindClient)
	err := cmdPerfHistogram(context.Background(), w, "perf_hist_bad notanumber", NewArena())
	assert.Error(t, err)
}

func TestRecordHTTPStatusIncrementsPerStatusCounter(t *testing.T) {
	gc := newTestGlobal()
	RecordHTTPStatus(gc, 599)
	RecordHTTPStatus(gc, 599)

	state := getPerfState(gc)
	assert.Equal(t, float64(2), testutil.ToFloat64(state.counters["http_status_599"]))
}

func TestSanitizeMetricNameReplacesInvalidRunes(t *testing.T) {
	assert.Equal(t, "a_b_c", sanitizeMetricName("a.b-c"))
}

package obs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockMetricsRecordsCountersAndHistograms(t *testing.T) {
	m := NewMockMetrics()
	m.IncCounter(MetricModelCalls, map[string]string{"provider": "anthropic"})
	m.IncCounter(MetricModelCalls, map[string]string{"provider": "openai"})
	m.ObserveHistogram(MetricStageDuration, 1.5, map[string]string{"stage": "retrieve"})

	require.Equal(t, 2, m.Counters[MetricModelCalls])
	require.Equal(t, []float64{1.5}, m.Hists[MetricStageDuration])
	require.Len(t, m.Labels[MetricModelCalls], 2)
}

func TestOtelMetricsDoesNotPanicAgainstGlobalNoopProvider(t *testing.T) {
	m := NewOtelMetrics()
	require.NotPanics(t, func() {
		m.IncCounter(MetricTasksActive, nil)
		m.ObserveHistogram(MetricCacheHits, 0.2, map[string]string{"stage": "extract"})
	})
}

func TestNilOtelMetricsIsSafe(t *testing.T) {
	var m *OtelMetrics
	require.NotPanics(t, func() {
		m.IncCounter("x", nil)
		m.ObserveHistogram("y", 1, nil)
	})
}

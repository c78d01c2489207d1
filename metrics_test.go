package pwnode

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNoOpObserverDoesNotPanic(t *testing.T) {
	var o Observer = NoOpObserver{}
	o.ObserveMessage("process_output")
	o.ObserveMmap("map", 4096)
	o.ObserveBufferRebuild("input", 0, 4)
	o.ObserveStateChange("connecting", "connected")
}

func TestMetricsObserverMessageCounts(t *testing.T) {
	m := NewMetrics("pwnode", "test_messages")
	o := NewMetricsObserver(m)

	o.ObserveMessage("process_output")
	o.ObserveMessage("process_output")
	o.ObserveMessage("process_input")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.messagesTotal.WithLabelValues("process_output")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.messagesTotal.WithLabelValues("process_input")))
}

func TestMetricsObserverMmapCounts(t *testing.T) {
	m := NewMetrics("pwnode", "test_mmap")
	o := NewMetricsObserver(m)

	o.ObserveMmap("map", 4096)
	o.ObserveMmap("map", 8192)
	o.ObserveMmap("unmap", 4096)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.mmapTotal.WithLabelValues("map")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.mmapTotal.WithLabelValues("unmap")))
	assert.Equal(t, float64(12288), testutil.ToFloat64(m.mmapBytesTotal.WithLabelValues("map")))
	assert.Equal(t, float64(4096), testutil.ToFloat64(m.mmapBytesTotal.WithLabelValues("unmap")))
}

func TestMetricsObserverBufferRebuild(t *testing.T) {
	m := NewMetrics("pwnode", "test_buffer")
	o := NewMetricsObserver(m)

	o.ObserveBufferRebuild("input", 0, 4)
	o.ObserveBufferRebuild("input", 0, 2)
	o.ObserveBufferRebuild("output", 1, 8)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.bufferRebuildsTotal.WithLabelValues("input")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.bufferRebuildsTotal.WithLabelValues("output")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.bufferCount.WithLabelValues("input")), "gauge should reflect the latest rebuild, not a cumulative count")
	assert.Equal(t, float64(8), testutil.ToFloat64(m.bufferCount.WithLabelValues("output")))
}

func TestMetricsObserverStateTransitions(t *testing.T) {
	m := NewMetrics("pwnode", "test_state")
	o := NewMetricsObserver(m)

	o.ObserveStateChange("unconnected", "connecting")
	o.ObserveStateChange("connecting", "connected")
	o.ObserveStateChange("connecting", "connected")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.stateTransitionsTotal.WithLabelValues("unconnected", "connecting")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.stateTransitionsTotal.WithLabelValues("connecting", "connected")))
}

func TestMetricsCollectorsReturnsEveryCollector(t *testing.T) {
	m := NewMetrics("pwnode", "test_collectors")
	assert.Len(t, m.Collectors(), 6)
}

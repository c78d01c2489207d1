package pwnode

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Observer is the pluggable metrics-collection contract every component
// records through. A caller that does not pass an Observer in Options
// gets a NoOpObserver: metrics collection is always on, only the sink
// is swappable.
type Observer interface {
	// ObserveMessage is called once per control event dispatched
	// (internal/control) and once per real-time message dispatched by
	// the data loop (internal/rtloop).
	ObserveMessage(kind string)

	// ObserveMmap is called for every mmap/munmap of a registered
	// memory region (internal/memregistry).
	ObserveMmap(op string, sizeBytes uint64)

	// ObserveBufferRebuild is called each time a port's buffer table is
	// successfully rebuilt from a port_use_buffers event (internal/control).
	ObserveBufferRebuild(direction string, portID uint32, count int)

	// ObserveStateChange is called on every session state transition,
	// mirroring internal/session's OnStateChange hook.
	ObserveStateChange(from, to string)
}

// NoOpObserver discards every observation. It is the default Observer
// when Options.Observer is nil.
type NoOpObserver struct{}

func (NoOpObserver) ObserveMessage(string)                    {}
func (NoOpObserver) ObserveMmap(string, uint64)               {}
func (NoOpObserver) ObserveBufferRebuild(string, uint32, int) {}
func (NoOpObserver) ObserveStateChange(string, string)        {}

var _ Observer = NoOpObserver{}

// Metrics holds the prometheus collectors backing a MetricsObserver.
// Register it with a prometheus.Registerer of the caller's choosing;
// this package never registers against the default registry itself, so
// a process exporting more than one node can give each its own
// registry without collector-name collisions.
type Metrics struct {
	messagesTotal *prometheus.CounterVec

	mmapTotal      *prometheus.CounterVec
	mmapBytesTotal *prometheus.CounterVec

	bufferRebuildsTotal *prometheus.CounterVec
	bufferCount         *prometheus.GaugeVec

	stateTransitionsTotal *prometheus.CounterVec
}

// NewMetrics creates the collector set. namespace/subsystem prefix every
// metric name, so multiple exported nodes in one process can register
// distinct collector sets by giving each a different subsystem.
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rt_messages_total",
			Help:      "Real-time messages dispatched by kind.",
		}, []string{"kind"}),

		mmapTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mmap_ops_total",
			Help:      "Memory-region map/unmap calls by operation.",
		}, []string{"op"}),

		mmapBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mmap_bytes_total",
			Help:      "Cumulative bytes mapped or unmapped by operation.",
		}, []string{"op"}),

		bufferRebuildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "buffer_table_rebuilds_total",
			Help:      "port_use_buffers rebuilds of a port's buffer table, by direction.",
		}, []string{"direction"}),

		bufferCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "buffer_table_size",
			Help:      "Current buffer count for the most recently rebuilt port, by direction.",
		}, []string{"direction"}),

		stateTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "session_state_transitions_total",
			Help:      "Session connection-state transitions, by from/to state.",
		}, []string{"from", "to"}),
	}
}

// Collectors returns every prometheus.Collector in the set, for a
// caller to pass to a Registerer's MustRegister/Register in one call.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.messagesTotal,
		m.mmapTotal,
		m.mmapBytesTotal,
		m.bufferRebuildsTotal,
		m.bufferCount,
		m.stateTransitionsTotal,
	}
}

// MetricsObserver implements Observer against a Metrics collector set.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an Observer recording into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveMessage(kind string) {
	o.metrics.messagesTotal.WithLabelValues(kind).Inc()
}

func (o *MetricsObserver) ObserveMmap(op string, sizeBytes uint64) {
	o.metrics.mmapTotal.WithLabelValues(op).Inc()
	o.metrics.mmapBytesTotal.WithLabelValues(op).Add(float64(sizeBytes))
}

func (o *MetricsObserver) ObserveBufferRebuild(direction string, portID uint32, count int) {
	o.metrics.bufferRebuildsTotal.WithLabelValues(direction).Inc()
	o.metrics.bufferCount.WithLabelValues(direction).Set(float64(count))
}

func (o *MetricsObserver) ObserveStateChange(from, to string) {
	o.metrics.stateTransitionsTotal.WithLabelValues(from, to).Inc()
}

var _ Observer = (*MetricsObserver)(nil)

// Package observability provides Prometheus metrics for the bridge and an
// optional HTTP endpoint to expose them.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BridgeMetrics contains Prometheus metrics for ring buffer and transfer
// worker operations, labelled by client.
type BridgeMetrics struct {
	registry *prometheus.Registry

	slotsWrittenTotal   *prometheus.CounterVec
	slotsForwardedTotal *prometheus.CounterVec
	overrunsTotal       *prometheus.CounterVec
	resizesTotal        *prometheus.CounterVec
	sinkErrorsTotal     *prometheus.CounterVec
	forwardDuration     *prometheus.HistogramVec
	bufferCapacityGauge *prometheus.GaugeVec
}

// NewBridgeMetrics creates and registers new bridge metrics.
func NewBridgeMetrics(registry *prometheus.Registry) (*BridgeMetrics, error) {
	m := &BridgeMetrics{registry: registry}

	m.slotsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jackbridge_slots_written_total",
			Help: "Total number of slots written by the process callback",
		},
		[]string{"client"},
	)

	m.slotsForwardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jackbridge_slots_forwarded_total",
			Help: "Total number of slots forwarded to the sink",
		},
		[]string{"client"},
	)

	m.overrunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jackbridge_overruns_total",
			Help: "Times the transfer worker observed overwritten unread slots",
		},
		[]string{"client"},
	)

	m.resizesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jackbridge_resizes_total",
			Help: "Total number of ring buffer reallocations due to period size changes",
		},
		[]string{"client"},
	)

	m.sinkErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jackbridge_sink_errors_total",
			Help: "Total number of errors returned by the sink",
		},
		[]string{"client"},
	)

	m.forwardDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jackbridge_forward_duration_seconds",
			Help:    "Time spent forwarding one slot to the sink",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100µs to ~400ms
		},
		[]string{"client"},
	)

	m.bufferCapacityGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jackbridge_buffer_capacity_slots",
			Help: "Current ring buffer capacity in slots",
		},
		[]string{"client"},
	)

	collectors := []prometheus.Collector{
		m.slotsWrittenTotal,
		m.slotsForwardedTotal,
		m.overrunsTotal,
		m.resizesTotal,
		m.sinkErrorsTotal,
		m.forwardDuration,
		m.bufferCapacityGauge,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// ForClient resolves the label lookup once and returns per-client metrics.
// The returned counters are plain atomic operations, safe to update from the
// real-time callback.
func (m *BridgeMetrics) ForClient(client string) *SessionMetrics {
	return &SessionMetrics{
		slotsWritten:   m.slotsWrittenTotal.WithLabelValues(client),
		slotsForwarded: m.slotsForwardedTotal.WithLabelValues(client),
		overruns:       m.overrunsTotal.WithLabelValues(client),
		resizes:        m.resizesTotal.WithLabelValues(client),
		sinkErrors:     m.sinkErrorsTotal.WithLabelValues(client),
		forward:        m.forwardDuration.WithLabelValues(client),
		bufferCapacity: m.bufferCapacityGauge.WithLabelValues(client),
	}
}

// SessionMetrics holds pre-resolved metrics for one client session. All
// methods are no-ops on a nil receiver so metrics stay optional.
type SessionMetrics struct {
	slotsWritten   prometheus.Counter
	slotsForwarded prometheus.Counter
	overruns       prometheus.Counter
	resizes        prometheus.Counter
	sinkErrors     prometheus.Counter
	forward        prometheus.Observer
	bufferCapacity prometheus.Gauge
}

// IncSlotsWritten counts one slot written by the process callback.
func (m *SessionMetrics) IncSlotsWritten() {
	if m == nil {
		return
	}
	m.slotsWritten.Inc()
}

// ObserveForward counts one slot forwarded to the sink and how long the
// forward took.
func (m *SessionMetrics) ObserveForward(seconds float64) {
	if m == nil {
		return
	}
	m.slotsForwarded.Inc()
	m.forward.Observe(seconds)
}

// IncOverruns counts an observed overwrite of unread slots.
func (m *SessionMetrics) IncOverruns() {
	if m == nil {
		return
	}
	m.overruns.Inc()
}

// IncResizes counts a ring buffer reallocation.
func (m *SessionMetrics) IncResizes() {
	if m == nil {
		return
	}
	m.resizes.Inc()
}

// IncSinkErrors counts an error returned by the sink.
func (m *SessionMetrics) IncSinkErrors() {
	if m == nil {
		return
	}
	m.sinkErrors.Inc()
}

// SetBufferCapacity records the current ring capacity in slots.
func (m *SessionMetrics) SetBufferCapacity(slots int) {
	if m == nil {
		return
	}
	m.bufferCapacity.Set(float64(slots))
}

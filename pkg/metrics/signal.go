package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initSignalMetrics() {
	m.signalWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_writes_total",
			Help: "Total number of signal value changes",
		},
		[]string{"signal", "value"},
	)

	m.signalDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_deliveries_total",
			Help: "Total number of signal values delivered to subscribers",
		},
		[]string{"signal"},
	)

	m.mirrorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_mirror_failures_total",
			Help: "Total number of Redis mirror failures",
		},
		[]string{"operation", "reason"},
	)

	m.registry.MustRegister(m.signalWrites)
	m.registry.MustRegister(m.signalDeliveries)
	m.registry.MustRegister(m.mirrorFailures)
}

// RecordSignalWrite implements signal.MetricsRecorder.
func (m *Manager) RecordSignalWrite(name string, value bool) {
	if !m.enabled {
		return
	}
	m.signalWrites.WithLabelValues(name, strconv.FormatBool(value)).Inc()
}

// RecordSignalDelivered implements signal.MetricsRecorder.
func (m *Manager) RecordSignalDelivered(name string) {
	if !m.enabled {
		return
	}
	m.signalDeliveries.WithLabelValues(name).Inc()
}

// RecordMirrorFailed implements signal.MetricsRecorder.
func (m *Manager) RecordMirrorFailed(operation string, reason string) {
	if !m.enabled {
		return
	}
	m.mirrorFailures.WithLabelValues(operation, reason).Inc()
}

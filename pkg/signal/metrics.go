package signal

import (
	"sync"
)

// MetricsRecorder defines metrics hooks for signal operations.
type MetricsRecorder interface {
	RecordSignalWrite(name string, value bool)
	RecordSignalDelivered(name string)
	RecordMirrorFailed(operation string, reason string)
}

type nopMetrics struct{}

func (n *nopMetrics) RecordSignalWrite(name string, value bool)          {}
func (n *nopMetrics) RecordSignalDelivered(name string)                  {}
func (n *nopMetrics) RecordMirrorFailed(operation string, reason string) {}

var (
	metricsMu sync.RWMutex
	metrics   MetricsRecorder = &nopMetrics{}
)

// SetMetricsRecorder sets the package-level signal metrics recorder.
func SetMetricsRecorder(recorder MetricsRecorder) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if recorder == nil {
		metrics = &nopMetrics{}
		return
	}
	metrics = recorder
}

func metricsRecorder() MetricsRecorder {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if metrics == nil {
		return &nopMetrics{}
	}
	return metrics
}

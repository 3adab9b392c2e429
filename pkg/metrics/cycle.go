package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/goclaw/pumpcycle/pkg/cycle"
)

func (m *Manager) initCycleMetrics(cfg Config) {
	m.cycleRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cycle_runs_total",
			Help: "Total number of finished cycle runs by outcome",
		},
		[]string{"outcome"},
	)

	m.cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cycle_duration_seconds",
			Help:    "Cycle run duration in seconds by outcome",
			Buckets: cfg.CycleDurationBuckets,
		},
		[]string{"outcome"},
	)

	m.cycleActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cycle_active",
			Help: "1 while a cycle run is in progress",
		},
	)

	m.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cycle_stage_duration_seconds",
			Help:    "Time spent in each cycle stage",
			Buckets: cfg.StageDurationBuckets,
		},
		[]string{"stage"},
	)

	m.stageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cycle_stage_failures_total",
			Help: "Total number of runs that ended in a stage, by reason",
		},
		[]string{"stage", "reason"},
	)

	m.registry.MustRegister(m.cycleRuns)
	m.registry.MustRegister(m.cycleDuration)
	m.registry.MustRegister(m.cycleActive)
	m.registry.MustRegister(m.stageDuration)
	m.registry.MustRegister(m.stageFailures)
}

// RecordCycleStarted marks a run as active.
func (m *Manager) RecordCycleStarted() {
	if !m.enabled {
		return
	}
	m.cycleActive.Set(1)
}

// RecordCycleFinished records a finished run.
func (m *Manager) RecordCycleFinished(outcome string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.cycleActive.Set(0)
	m.cycleRuns.WithLabelValues(outcome).Inc()
	m.cycleDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordStageDuration records time spent in a stage.
func (m *Manager) RecordStageDuration(stage string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordStageFailure records the stage and reason a run failed in.
func (m *Manager) RecordStageFailure(stage, reason string) {
	if !m.enabled {
		return
	}
	m.stageFailures.WithLabelValues(stage, reason).Inc()
}

// OnCycleEvent implements cycle.Observer.
func (m *Manager) OnCycleEvent(e cycle.Event) {
	switch e.Type {
	case cycle.EventStarted:
		m.RecordCycleStarted()
	case cycle.EventCompleted, cycle.EventFailed, cycle.EventCancelled:
		if e.Result == nil {
			return
		}
		for _, tr := range e.Result.Transitions {
			m.RecordStageDuration(tr.Stage.String(), tr.Duration())
		}
		if e.Type == cycle.EventFailed {
			m.RecordStageFailure(e.Result.LastStage.String(), FailureReason(e.Err))
		}
		m.RecordCycleFinished(e.Result.Outcome.String(), e.Result.Duration())
	}
}

// FailureReason maps a terminal error to a low-cardinality label.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case cycle.IsEmergencyStop(err):
		return "emergency_stop"
	case cycle.IsCancelled(err):
		return "cancelled"
	case errors.Is(err, cycle.ErrLowPressure):
		return "low_pressure"
	case errors.Is(err, cycle.ErrStageTimeout):
		return "timeout"
	default:
		return "other"
	}
}

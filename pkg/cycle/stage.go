package cycle

import (
	"time"
)

// Stage is one phase of a cycle run.
type Stage int

const (
	StageClosingValves1 Stage = iota
	StagePrimeDelay
	StagePriming
	StageWaitForPrime
	StageOpenValve
	StageStartPump
	StagePressureMonitorDelay
	StageMonitorTankAndPressure
	StagePostPumpValveDelay
	StageClosingValves2
	StageCompleted
	StageFailed
	StageCancelled
)

var stageNames = [...]string{
	StageClosingValves1:         "ClosingValves1",
	StagePrimeDelay:             "PrimeDelay",
	StagePriming:                "Priming",
	StageWaitForPrime:           "WaitForPrime",
	StageOpenValve:              "OpenValve",
	StageStartPump:              "StartPump",
	StagePressureMonitorDelay:   "PressureMonitorDelay",
	StageMonitorTankAndPressure: "MonitorTankAndPressure",
	StagePostPumpValveDelay:     "PostPumpValveDelay",
	StageClosingValves2:         "ClosingValves2",
	StageCompleted:              "Completed",
	StageFailed:                 "Failed",
	StageCancelled:              "Cancelled",
}

// String returns the stage name.
func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "Unknown"
	}
	return stageNames[s]
}

// Terminal reports whether s ends a run.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// ParseStage returns the stage with the given name.
func ParseStage(name string) (Stage, bool) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), true
		}
	}
	return 0, false
}

// Outcome is the terminal state of a run.
type Outcome int

const (
	OutcomeRunning Outcome = iota
	OutcomeCompleted
	OutcomeFailed
	OutcomeCancelled
)

// String returns the string representation of Outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeRunning:
		return "running"
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseOutcome parses an outcome string.
func ParseOutcome(s string) (Outcome, bool) {
	switch s {
	case "running":
		return OutcomeRunning, true
	case "completed":
		return OutcomeCompleted, true
	case "failed":
		return OutcomeFailed, true
	case "cancelled":
		return OutcomeCancelled, true
	default:
		return 0, false
	}
}

// Stage returns the terminal stage for the outcome.
func (o Outcome) Stage() Stage {
	switch o {
	case OutcomeCompleted:
		return StageCompleted
	case OutcomeCancelled:
		return StageCancelled
	default:
		return StageFailed
	}
}

// StageTransition records one stage of a run.
type StageTransition struct {
	Stage     Stage
	EnteredAt time.Time
	ExitedAt  time.Time
	Error     string
}

// Duration returns how long the stage was active.
func (t StageTransition) Duration() time.Duration {
	if t.ExitedAt.IsZero() {
		return 0
	}
	return t.ExitedAt.Sub(t.EnteredAt)
}

// Result is the terminal summary of a run.
type Result struct {
	RunID   string
	Outcome Outcome

	// LastStage is the stage that was active when the run ended.
	LastStage Stage
	Err       error

	StartedAt   time.Time
	EndedAt     time.Time
	Transitions []StageTransition
}

// Duration returns the total run time.
func (r *Result) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

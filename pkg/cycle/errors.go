package cycle

import (
	"errors"
	"fmt"
)

var (
	// ErrStageTimeout matches every StageTimeoutError.
	ErrStageTimeout = errors.New("stage timeout")

	// ErrLowPressure is the fault raised when pressure drops while pumping.
	ErrLowPressure = &ProcessFaultError{Reason: "low pressure"}

	// ErrEmergencyStop terminates a run when the emergency stop input is asserted.
	ErrEmergencyStop = errors.New("Emergency stop signal received")

	// ErrCancelled is the terminal error of a run cancelled by its caller.
	ErrCancelled = errors.New("cycle cancelled")
)

// StageTimeoutError is returned when a stage does not advance before its deadline.
type StageTimeoutError struct {
	Stage Stage
}

func (e *StageTimeoutError) Error() string {
	switch e.Stage {
	case StageClosingValves1, StageClosingValves2:
		return "Close valves timeout reached"
	case StageWaitForPrime:
		return "Priming timeout reached"
	case StageMonitorTankAndPressure:
		return "Pumping timeout reached"
	default:
		return fmt.Sprintf("%s timeout reached", e.Stage)
	}
}

func (e *StageTimeoutError) Is(target error) bool {
	return target == ErrStageTimeout
}

// ProcessFaultError is a fault reported by the plant while a stage is active.
type ProcessFaultError struct {
	Reason string
}

func (e *ProcessFaultError) Error() string {
	return e.Reason
}

func (e *ProcessFaultError) Is(target error) bool {
	t, ok := target.(*ProcessFaultError)
	return ok && t.Reason == e.Reason
}

// ConfigError is returned for an invalid cycle configuration.
type ConfigError struct {
	Field string
	Cause error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid cycle config %s: %v", e.Field, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// IsEmergencyStop reports whether err is an emergency stop abort.
func IsEmergencyStop(err error) bool {
	return errors.Is(err, ErrEmergencyStop)
}

// IsCancelled reports whether err is a caller cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

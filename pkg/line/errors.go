package line

import (
	"errors"
	"fmt"
)

var (
	// ErrCycleActive is returned by StartCycle while a run is in flight.
	ErrCycleActive = errors.New("a cycle is already running")

	// ErrNoActiveCycle is returned by CancelCycle when the line is idle.
	ErrNoActiveCycle = errors.New("no active cycle")

	// ErrClosed is returned once the controller has been closed.
	ErrClosed = errors.New("line controller is closed")
)

// UnknownSignalError reports a write to a signal that is not an input.
type UnknownSignalError struct {
	Name string
}

func (e *UnknownSignalError) Error() string {
	return fmt.Sprintf("unknown input signal: %s", e.Name)
}

package cycle

import (
	"time"
)

// EventType identifies a run event.
type EventType int

const (
	EventStarted EventType = iota
	EventStageEntered
	EventStageExited
	EventCompleted
	EventFailed
	EventCancelled
)

// String returns the string representation of EventType.
func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "STARTED"
	case EventStageEntered:
		return "STAGE_ENTERED"
	case EventStageExited:
		return "STAGE_EXITED"
	case EventCompleted:
		return "COMPLETED"
	case EventFailed:
		return "FAILED"
	case EventCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the event ends a run.
func (t EventType) Terminal() bool {
	return t == EventCompleted || t == EventFailed || t == EventCancelled
}

// Event is a run state change.
type Event struct {
	RunID     string
	Type      EventType
	Stage     Stage
	Err       error
	Timestamp time.Time

	// Result is set on terminal events.
	Result *Result
}

// Observer receives run events synchronously from the run goroutine.
// Observers must not block.
type Observer interface {
	OnCycleEvent(event Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(event Event)

// OnCycleEvent implements Observer.
func (f ObserverFunc) OnCycleEvent(event Event) { f(event) }

// Package events fans line events out to live subscribers such as websocket
// clients.
package events

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goclaw/pumpcycle/pkg/cycle"
)

// Event types.
const (
	TypeSignalChanged = "signal.changed"
	cycleTypePrefix   = "cycle."
)

// Event is the canonical event payload broadcast to websocket subscribers.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// CycleEventType returns the wire type of a run event, e.g. cycle.stage_entered.
func CycleEventType(t cycle.EventType) string {
	return cycleTypePrefix + strings.ToLower(t.String())
}

// Broadcaster broadcasts events to in-process subscribers. Slow subscribers
// lose events rather than block the run goroutine.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	dropped     atomic.Uint64
	closed      bool
}

// NewBroadcaster creates a broadcaster instance.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe subscribes to events with a buffered channel. The channel is
// closed by Unsubscribe or Close.
func (b *Broadcaster) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// Broadcast delivers event to every subscriber with buffer space.
func (b *Broadcaster) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events lost to full subscriber buffers.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// BroadcastCycleEvent emits a run event of a line.
func (b *Broadcaster) BroadcastCycleEvent(line string, e cycle.Event) {
	payload := map[string]any{
		"line":   line,
		"run_id": e.RunID,
		"stage":  e.Stage.String(),
	}
	if e.Err != nil {
		payload["error"] = e.Err.Error()
		payload["emergency_stop"] = cycle.IsEmergencyStop(e.Err)
	}
	if e.Result != nil {
		payload["outcome"] = e.Result.Outcome.String()
		payload["duration_ms"] = e.Result.Duration().Milliseconds()
	}

	b.Broadcast(Event{
		Type:      CycleEventType(e.Type),
		Timestamp: e.Timestamp.UTC(),
		Payload:   payload,
	})
}

// BroadcastSignalChanged emits a signal value change of a line.
func (b *Broadcaster) BroadcastSignalChanged(line, name string, value bool, at time.Time) {
	b.Broadcast(Event{
		Type:      TypeSignalChanged,
		Timestamp: at.UTC(),
		Payload: map[string]any{
			"line":   line,
			"signal": name,
			"value":  value,
		},
	})
}

// Close closes all subscriber channels. Later subscriptions are closed
// immediately.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}

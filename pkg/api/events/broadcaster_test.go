package events

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goclaw/pumpcycle/pkg/cycle"
)

func receive(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestBroadcaster_SubscribeBroadcastUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)
	assert.Equal(t, 1, b.Subscribers())

	b.Broadcast(Event{Type: TypeSignalChanged})
	e := receive(t, ch)
	assert.Equal(t, TypeSignalChanged, e.Type)
	assert.False(t, e.Timestamp.IsZero())

	b.Unsubscribe(ch)
	b.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Subscribers())
}

func TestBroadcaster_DropsWhenFull(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)

	b.Broadcast(Event{Type: "a"})
	b.Broadcast(Event{Type: "b"})

	assert.Equal(t, "a", receive(t, ch).Type)
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestBroadcaster_CycleEvent(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(4)
	now := time.Now()

	b.BroadcastCycleEvent("line-1", cycle.Event{
		RunID:     "run-1",
		Type:      cycle.EventStageEntered,
		Stage:     cycle.StagePriming,
		Timestamp: now,
	})
	e := receive(t, ch)
	assert.Equal(t, "cycle.stage_entered", e.Type)
	payload := e.Payload.(map[string]any)
	assert.Equal(t, "line-1", payload["line"])
	assert.Equal(t, "run-1", payload["run_id"])
	assert.Equal(t, "Priming", payload["stage"])
	assert.NotContains(t, payload, "error")

	b.BroadcastCycleEvent("line-1", cycle.Event{
		RunID: "run-1",
		Type:  cycle.EventFailed,
		Stage: cycle.StageWaitForPrime,
		Err:   cycle.ErrEmergencyStop,
		Result: &cycle.Result{
			RunID:     "run-1",
			Outcome:   cycle.OutcomeFailed,
			StartedAt: now,
			EndedAt:   now.Add(1500 * time.Millisecond),
		},
		Timestamp: now,
	})
	e = receive(t, ch)
	assert.Equal(t, "cycle.failed", e.Type)
	payload = e.Payload.(map[string]any)
	assert.Equal(t, "failed", payload["outcome"])
	assert.Equal(t, int64(1500), payload["duration_ms"])
	assert.Equal(t, true, payload["emergency_stop"])
	assert.Equal(t, cycle.ErrEmergencyStop.Error(), payload["error"])

	b.BroadcastCycleEvent("line-1", cycle.Event{Type: cycle.EventCancelled, Err: errors.New("x")})
	assert.Equal(t, false, receive(t, ch).Payload.(map[string]any)["emergency_stop"])
}

func TestBroadcaster_SignalChanged(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)

	b.BroadcastSignalChanged("line-2", "runPump", true, time.Now())
	e := receive(t, ch)
	assert.Equal(t, TypeSignalChanged, e.Type)
	assert.Equal(t, map[string]any{"line": "line-2", "signal": "runPump", "value": true}, e.Payload)
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late := b.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
	b.Broadcast(Event{Type: "after-close"})
}

func TestBroadcaster_ConcurrentUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		ch := b.Subscribe(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.BroadcastSignalChanged("line-1", "tankIsFull", j%2 == 0, time.Now())
			}
		}()
		go func() {
			defer wg.Done()
			b.Unsubscribe(ch)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, b.Subscribers())
}

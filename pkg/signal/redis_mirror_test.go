package signal

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMirror(t *testing.T) (*RedisMirror, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	m := NewRedisMirror(client, "test:", "line-a", 16)
	t.Cleanup(func() { _ = m.Close() })
	return m, mr, client
}

func TestRedisMirror_Keys(t *testing.T) {
	m, _, _ := newTestMirror(t)
	assert.Equal(t, "test:line-a", m.Key())
	assert.Equal(t, "test:line-a:changes", m.ChangesChannel())
	assert.Equal(t, "test:line-a:inputs", m.InputsChannel())
}

func TestRedisMirror_TrackWritesHash(t *testing.T) {
	m, mr, _ := newTestMirror(t)
	in := NewInputs(InitialValues{TankIsFull: true})

	m.Track(in.TankIsFull, in.LowPressure)

	require.Eventually(t, func() bool {
		return mr.HGet(m.Key(), NameTankIsFull) == "true" &&
			mr.HGet(m.Key(), NameLowPressure) == "false"
	}, 2*time.Second, 10*time.Millisecond)

	in.LowPressure.Set(true)
	require.Eventually(t, func() bool {
		return mr.HGet(m.Key(), NameLowPressure) == "true"
	}, 2*time.Second, 10*time.Millisecond)

	values, err := m.Values(context.Background())
	require.NoError(t, err)
	assert.True(t, values[NameTankIsFull])
	assert.True(t, values[NameLowPressure])
}

func TestRedisMirror_PublishesChanges(t *testing.T) {
	m, _, client := newTestMirror(t)
	ctx := context.Background()

	pubsub := client.Subscribe(ctx, m.ChangesChannel())
	defer pubsub.Close()
	_, err := pubsub.Receive(ctx)
	require.NoError(t, err)

	sig := NewBool(NameRunPump, false)
	m.Track(sig)

	select {
	case msg := <-pubsub.Channel():
		assert.Equal(t, NameRunPump, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no change published")
	}
}

func TestRedisMirror_Untrack(t *testing.T) {
	m, mr, _ := newTestMirror(t)
	sig := NewBool(NameOpenValve, false)

	subs := m.Track(sig)
	require.Eventually(t, func() bool {
		return mr.HGet(m.Key(), NameOpenValve) == "false"
	}, 2*time.Second, 10*time.Millisecond)

	m.Untrack(subs)
	assert.Equal(t, 0, sig.Subscribers())
	assert.Equal(t, 0, m.Tracked())
}

func TestRedisMirror_PrunesUnsubscribed(t *testing.T) {
	m, _, _ := newTestMirror(t)
	kept := NewBool(NameRunPump, false)
	m.Track(kept)

	for i := 0; i < 10; i++ {
		for _, sub := range m.Track(NewBool(NameRunPrime, false)) {
			sub.Unsubscribe()
		}
	}
	assert.Equal(t, 1, m.Tracked())
	assert.Equal(t, 1, kept.Subscribers())
}

func TestRedisMirror_ListenAppliesInputs(t *testing.T) {
	m, _, _ := newTestMirror(t)
	in := NewInputs(InitialValues{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- m.Listen(ctx, in, ready) }()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not subscribe")
	}

	require.NoError(t, m.PublishInput(ctx, NameEmergencyStop, true))
	require.Eventually(t, in.EmergencyStop.Read, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestRedisMirror_Healthy(t *testing.T) {
	m, _, _ := newTestMirror(t)
	assert.True(t, m.Healthy(context.Background()))

	require.NoError(t, m.Close())
	assert.False(t, m.Healthy(context.Background()))
	assert.Nil(t, m.Track(NewBool("x", false)))
}

func TestParseInputMessage(t *testing.T) {
	name, value, err := ParseInputMessage(" tankIsFull = true ")
	require.NoError(t, err)
	assert.Equal(t, NameTankIsFull, name)
	assert.True(t, value)

	_, _, err = ParseInputMessage("tankIsFull")
	assert.Error(t, err)

	_, _, err = ParseInputMessage("=true")
	assert.Error(t, err)

	_, _, err = ParseInputMessage("tankIsFull=maybe")
	assert.Error(t, err)
}

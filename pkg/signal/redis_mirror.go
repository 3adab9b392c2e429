package signal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const defaultMirrorBuffer = 256

// RedisMirror publishes signal changes to Redis and applies remote input
// writes received over Redis Pub/Sub.
//
// Keys, for prefix "pumpcycle:" and line "line-1":
//   - pumpcycle:line-1          hash of signal name -> "true"/"false"
//   - pumpcycle:line-1:changes  channel receiving the name of each changed signal
//   - pumpcycle:line-1:inputs   channel accepting "name=value" input writes
type RedisMirror struct {
	client redis.UniversalClient
	key    string

	queue chan mirrorUpdate

	mu     sync.Mutex
	subs   []*Subscription
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

type mirrorUpdate struct {
	name  string
	value bool
}

// NewRedisMirror creates a mirror for the given line and starts its writer.
func NewRedisMirror(client redis.UniversalClient, prefix, line string, bufferSize int) *RedisMirror {
	if prefix == "" {
		prefix = "pumpcycle:"
	}
	if line == "" {
		line = "line-1"
	}
	if bufferSize <= 0 {
		bufferSize = defaultMirrorBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &RedisMirror{
		client: client,
		key:    prefix + line,
		queue:  make(chan mirrorUpdate, bufferSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go m.writeLoop(ctx)
	return m
}

// Key returns the Redis hash key.
func (m *RedisMirror) Key() string { return m.key }

// ChangesChannel returns the channel that receives changed signal names.
func (m *RedisMirror) ChangesChannel() string { return m.key + ":changes" }

// InputsChannel returns the channel that accepts remote input writes.
func (m *RedisMirror) InputsChannel() string { return m.key + ":inputs" }

// Track mirrors the given signals until Untrack or Close. The current value
// of each signal is written immediately.
func (m *RedisMirror) Track(signals ...Reader) []*Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}

	m.pruneLocked()
	subs := make([]*Subscription, 0, len(signals))
	for _, s := range signals {
		name := s.Name()
		sub := s.Subscribe(func(v bool) {
			m.enqueue(mirrorUpdate{name: name, value: v})
		})
		subs = append(subs, sub)
	}
	m.subs = append(m.subs, subs...)
	return subs
}

// Untrack stops mirroring the given subscriptions.
func (m *RedisMirror) Untrack(subs []*Subscription) {
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	m.mu.Lock()
	m.pruneLocked()
	m.mu.Unlock()
}

// pruneLocked drops subscriptions that were unsubscribed elsewhere.
func (m *RedisMirror) pruneLocked() {
	live := m.subs[:0]
	for _, sub := range m.subs {
		if sub.active.Load() {
			live = append(live, sub)
		}
	}
	clear(m.subs[len(live):])
	m.subs = live
}

// Tracked returns the number of signals currently mirrored.
func (m *RedisMirror) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	return len(m.subs)
}

func (m *RedisMirror) enqueue(u mirrorUpdate) {
	// Signal delivery must never block on the network.
	select {
	case m.queue <- u:
	default:
		metricsRecorder().RecordMirrorFailed("write", "buffer_full_drop")
	}
}

func (m *RedisMirror) writeLoop(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.drain()
			return
		case u := <-m.queue:
			m.write(ctx, u)
		}
	}
}

func (m *RedisMirror) drain() {
	ctx := context.Background()
	for {
		select {
		case u := <-m.queue:
			m.write(ctx, u)
		default:
			return
		}
	}
}

func (m *RedisMirror) write(ctx context.Context, u mirrorUpdate) {
	pipe := m.client.Pipeline()
	pipe.HSet(ctx, m.key, u.name, strconv.FormatBool(u.value))
	pipe.Publish(ctx, m.ChangesChannel(), u.name)
	if _, err := pipe.Exec(ctx); err != nil {
		metricsRecorder().RecordMirrorFailed("write", "exec_failed")
	}
}

// Values reads the mirrored hash back from Redis.
func (m *RedisMirror) Values(ctx context.Context) (map[string]bool, error) {
	raw, err := m.client.HGetAll(ctx, m.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read mirror %s: %w", m.key, err)
	}
	out := make(map[string]bool, len(raw))
	for name, v := range raw {
		b, err := strconv.ParseBool(v)
		if err != nil {
			continue
		}
		out[name] = b
	}
	return out, nil
}

// PublishInput asks the mirror listener of a line to set an input.
func (m *RedisMirror) PublishInput(ctx context.Context, name string, value bool) error {
	msg := name + "=" + strconv.FormatBool(value)
	if err := m.client.Publish(ctx, m.InputsChannel(), msg).Err(); err != nil {
		metricsRecorder().RecordMirrorFailed("publish_input", "publish_failed")
		return fmt.Errorf("failed to publish input %s: %w", name, err)
	}
	return nil
}

// Listen applies remote input writes to in until ctx is cancelled.
// ready, when not nil, is closed once the subscription is active.
func (m *RedisMirror) Listen(ctx context.Context, in *Inputs, ready chan<- struct{}) error {
	pubsub := m.client.Subscribe(ctx, m.InputsChannel())
	defer func() {
		_ = pubsub.Close()
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", m.InputsChannel(), err)
	}
	if ready != nil {
		close(ready)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			name, value, err := ParseInputMessage(msg.Payload)
			if err != nil {
				metricsRecorder().RecordMirrorFailed("listen", "decode_failed")
				continue
			}
			sig, ok := in.Lookup(name)
			if !ok {
				metricsRecorder().RecordMirrorFailed("listen", "unknown_signal")
				continue
			}
			sig.Set(value)
		}
	}
}

// ParseInputMessage decodes a "name=value" input write.
func ParseInputMessage(payload string) (string, bool, error) {
	name, raw, ok := strings.Cut(strings.TrimSpace(payload), "=")
	if !ok || name == "" {
		return "", false, fmt.Errorf("malformed input message %q", payload)
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return "", false, fmt.Errorf("malformed input value %q: %w", raw, err)
	}
	return strings.TrimSpace(name), value, nil
}

// Healthy checks if the Redis connection is alive.
func (m *RedisMirror) Healthy(ctx context.Context) bool {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return false
	}
	return m.client.Ping(ctx).Err() == nil
}

// Close stops tracking, flushes queued writes and stops the writer.
func (m *RedisMirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	m.cancel()
	<-m.done
	return nil
}

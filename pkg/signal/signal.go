// Package signal provides latest-value boolean signals for the pump line.
//
// A signal always has a current value. Subscribers receive that value
// immediately on subscription and then every subsequent change, synchronously
// with the write and in the order subscriptions were registered.
//
// Signal sets:
//   - Inputs: sensor states written by the plant (valves, prime, pressure, tank, e-stop)
//   - Outputs: actuator commands written by the active cycle run
package signal

import (
	"sync"
	"sync/atomic"
)

// Reader is the read side of a boolean signal.
type Reader interface {
	// Name returns the signal name.
	Name() string

	// Read returns the current value.
	Read() bool

	// Subscribe registers fn and calls it with the current value, then with
	// every subsequent change.
	Subscribe(fn func(bool)) *Subscription
}

// Subscription is a registered observer of a signal.
type Subscription struct {
	fn     func(bool)
	owner  *Bool
	active atomic.Bool

	mu      sync.Mutex
	lastSeq uint64
}

// Unsubscribe stops delivery. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || !s.active.CompareAndSwap(true, false) {
		return
	}
	s.owner.remove(s)
}

// deliver calls the observer unless a newer value was already delivered.
// Calls are serialised per subscription, so an observer never sees an older
// value after a newer one. An observer must not write the signal it observes.
func (s *Subscription) deliver(value bool, seq uint64) {
	if !s.active.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.lastSeq {
		return
	}
	s.lastSeq = seq

	s.fn(value)
	metricsRecorder().RecordSignalDelivered(s.owner.name)
}

// Bool is a writable latest-value boolean signal.
type Bool struct {
	name string

	mu    sync.Mutex
	value bool
	seq   uint64
	subs  []*Subscription
}

// NewBool creates a signal with the given name and initial value.
func NewBool(name string, initial bool) *Bool {
	return &Bool{
		name:  name,
		value: initial,
		seq:   1,
	}
}

// Name returns the signal name.
func (b *Bool) Name() string {
	return b.name
}

// Read returns the current value.
func (b *Bool) Read() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

// Set updates the value and notifies subscribers when it changed.
// Writes that do not change the value are not delivered.
func (b *Bool) Set(value bool) {
	b.mu.Lock()
	if b.value == value {
		b.mu.Unlock()
		return
	}
	b.value = value
	b.seq++
	seq := b.seq
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	metricsRecorder().RecordSignalWrite(b.name, value)

	for _, sub := range subs {
		sub.deliver(value, seq)
	}
}

// Subscribe registers fn and delivers the current value immediately.
func (b *Bool) Subscribe(fn func(bool)) *Subscription {
	sub := &Subscription{fn: fn, owner: b}
	sub.active.Store(true)

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	value, seq := b.value, b.seq
	b.mu.Unlock()

	sub.deliver(value, seq)
	return sub
}

// Subscribers returns the number of active subscriptions.
func (b *Bool) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bool) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Derived is a read-only signal computed from two other signals.
type Derived struct {
	out  *Bool
	a, b Reader
	fn   func(a, b bool) bool
	subA *Subscription
	subB *Subscription

	// mu serialises read-compute-write so concurrent operand writes cannot
	// leave a stale result behind.
	mu     sync.Mutex
	closed atomic.Bool
}

// Combine returns a signal whose value is fn(a, b), recomputed whenever
// either operand changes. The derived value is valid immediately.
func Combine(name string, a, b Reader, fn func(a, b bool) bool) *Derived {
	d := &Derived{
		out: NewBool(name, fn(a.Read(), b.Read())),
		a:   a,
		b:   b,
		fn:  fn,
	}
	d.subA = a.Subscribe(func(bool) { d.recompute() })
	d.subB = b.Subscribe(func(bool) { d.recompute() })
	return d
}

// Name returns the derived signal name.
func (d *Derived) Name() string { return d.out.Name() }

// Read returns the current derived value.
func (d *Derived) Read() bool { return d.out.Read() }

// Subscribe observes the derived value.
func (d *Derived) Subscribe(fn func(bool)) *Subscription { return d.out.Subscribe(fn) }

func (d *Derived) recompute() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return
	}
	d.out.Set(d.fn(d.a.Read(), d.b.Read()))
}

// Close detaches the derived signal from its operands.
func (d *Derived) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	d.subA.Unsubscribe()
	d.subB.Unsubscribe()
}

// And is the conjunction combinator.
func And(a, b bool) bool {
	return a && b
}

// WhenTrue returns a subscriber that calls fn each time the value is true.
func WhenTrue(fn func()) func(bool) {
	return func(v bool) {
		if v {
			fn()
		}
	}
}

// Package plant simulates the pump line hardware. It answers actuator
// commands by setting the matching sensor inputs after a process delay.
package plant

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goclaw/pumpcycle/pkg/logger"
	"github.com/goclaw/pumpcycle/pkg/signal"
)

// DefaultProcessTime is used for every process time that is not set.
const DefaultProcessTime = 10 * time.Millisecond

// Times holds how long each simulated process takes.
type Times struct {
	Valve1Close time.Duration `mapstructure:"valve1_close" json:"valve1Close"`
	Valve2Close time.Duration `mapstructure:"valve2_close" json:"valve2Close"`
	ValveOpen   time.Duration `mapstructure:"valve_open" json:"valveOpen"`
	Prime       time.Duration `mapstructure:"prime" json:"prime"`
	Pump        time.Duration `mapstructure:"pump" json:"pump"`
}

// DefaultTimes returns DefaultProcessTime for every process.
func DefaultTimes() Times {
	return Times{
		Valve1Close: DefaultProcessTime,
		Valve2Close: DefaultProcessTime,
		ValveOpen:   DefaultProcessTime,
		Prime:       DefaultProcessTime,
		Pump:        DefaultProcessTime,
	}
}

func (t Times) withDefaults() Times {
	fill := func(d *time.Duration) {
		if *d <= 0 {
			*d = DefaultProcessTime
		}
	}
	fill(&t.Valve1Close)
	fill(&t.Valve2Close)
	fill(&t.ValveOpen)
	fill(&t.Prime)
	fill(&t.Pump)
	return t
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithTimes sets the process times. Zero fields use DefaultProcessTime.
func WithTimes(t Times) Option {
	return func(s *Simulator) {
		s.times = t.withDefaults()
	}
}

// WithPressureLow makes the pump report low pressure instead of a full tank.
func WithPressureLow(low bool) Option {
	return func(s *Simulator) {
		s.pressureLow.Store(low)
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Simulator) {
		if log != nil {
			s.log = log
		}
	}
}

// Simulator drives an input set from a run's outputs.
type Simulator struct {
	in          *signal.Inputs
	times       Times
	pressureLow atomic.Bool
	log         logger.Logger

	mu     sync.Mutex
	subs   []*signal.Subscription
	timers []*time.Timer
	gen    uint64
}

// New creates a simulator writing to in.
func New(in *signal.Inputs, opts ...Option) *Simulator {
	s := &Simulator{
		in:    in,
		times: DefaultTimes(),
		log:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Times returns the configured process times.
func (s *Simulator) Times() Times { return s.times }

// SetPressureLow switches the simulated pressure fault on or off.
func (s *Simulator) SetPressureLow(low bool) { s.pressureLow.Store(low) }

// PressureLow reports whether the pressure fault is simulated.
func (s *Simulator) PressureLow() bool { return s.pressureLow.Load() }

// Attach subscribes to out, replacing any previous attachment. Its signature
// matches the attach callback of cycle.Sequencer.Start.
func (s *Simulator) Attach(out *signal.Outputs) {
	s.Detach()

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	subs := []*signal.Subscription{
		out.CloseValves.Subscribe(signal.WhenTrue(func() {
			s.log.Debug("Simulating valve close")
			s.after(gen, s.times.Valve1Close, s.in.Valve1Closed)
			s.after(gen, s.times.Valve2Close, s.in.Valve2Closed)
		})),
		out.OpenValve.Subscribe(signal.WhenTrue(func() {
			s.log.Debug("Simulating valve open")
			s.after(gen, s.times.ValveOpen, s.in.ValveOpened)
		})),
		out.RunPrime.Subscribe(signal.WhenTrue(func() {
			s.log.Debug("Simulating prime")
			s.after(gen, s.times.Prime, s.in.PrimeComplete)
		})),
		out.RunPump.Subscribe(signal.WhenTrue(func() {
			target := s.in.TankIsFull
			if s.pressureLow.Load() {
				target = s.in.LowPressure
			}
			s.log.Debug("Simulating pump", "pressure_low", s.pressureLow.Load())
			s.after(gen, s.times.Pump, target)
		})),
	}

	s.mu.Lock()
	s.subs = append(s.subs, subs...)
	s.mu.Unlock()
}

// after sets target true once d has elapsed, unless the simulator was
// detached in the meantime.
func (s *Simulator) after(gen uint64, d time.Duration, target *signal.Bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	t := time.AfterFunc(d, func() {
		s.mu.Lock()
		current := gen == s.gen
		s.mu.Unlock()
		if current {
			target.Set(true)
		}
	})
	s.timers = append(s.timers, t)
}

// Detach stops reacting to outputs and drops pending process timers.
func (s *Simulator) Detach() {
	s.mu.Lock()
	subs := s.subs
	timers := s.timers
	s.subs = nil
	s.timers = nil
	s.gen++
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	for _, t := range timers {
		t.Stop()
	}
}

// Reset clears the simulated process state. The emergency stop input is left
// alone since it belongs to the operator, not the process.
func (s *Simulator) Reset() {
	s.in.Valve1Closed.Set(false)
	s.in.Valve2Closed.Set(false)
	s.in.ValveOpened.Set(false)
	s.in.PrimeComplete.Set(false)
	s.in.LowPressure.Set(false)
	s.in.TankIsFull.Set(false)
}

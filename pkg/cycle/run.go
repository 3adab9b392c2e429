package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/goclaw/pumpcycle/pkg/logger"
	"github.com/goclaw/pumpcycle/pkg/signal"
)

// run is the state of one cycle. Only the loop goroutine writes outputs.
type run struct {
	id        string
	cfg       Config
	in        *signal.Inputs
	log       logger.Logger
	observers []Observer

	closeValves *signal.Bool
	openValve   *signal.Bool
	runPrime    *signal.Bool
	runPump     *signal.Bool

	ctx    context.Context
	cancel context.CancelCauseFunc
	// mu orders stop requests against entry writes.
	mu sync.Mutex

	span      trace.Span
	emergency *signal.Subscription

	handle *Handle
}

type step struct {
	stage Stage
	fn    func(Stage) error
}

func (r *run) steps() []step {
	return []step{
		{StageClosingValves1, r.closeValvesStage},
		{StagePrimeDelay, r.primeDelay},
		{StagePriming, r.priming},
		{StageWaitForPrime, r.waitForPrime},
		{StageOpenValve, r.openValveStage},
		{StageStartPump, r.startPump},
		{StagePressureMonitorDelay, r.pressureMonitorDelay},
		{StageMonitorTankAndPressure, r.monitorTankAndPressure},
		{StagePostPumpValveDelay, r.postPumpValveDelay},
		{StageClosingValves2, r.closeValvesStage},
	}
}

func (r *run) loop() {
	defer r.cancel(nil)

	last, err := r.execute()
	r.cleanup()
	r.finish(last, err)
}

// execute runs the stages in order and returns the last stage entered.
func (r *run) execute() (Stage, error) {
	last := StageClosingValves1
	for _, st := range r.steps() {
		// No entry action runs once the run was stopped.
		if err := r.interrupted(); err != nil {
			return last, err
		}
		last = st.stage

		r.enter(st.stage)
		_, span := tracer().Start(r.ctx, spanStage,
			trace.WithAttributes(attribute.String("cycle.stage", st.stage.String())))

		err := st.fn(st.stage)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		r.exit(st.stage, err)

		if err != nil {
			return last, err
		}
	}
	return last, nil
}

func (r *run) closeValvesStage(stage Stage) error {
	r.info("Closing valves...")
	defer r.closeValves.Set(false)
	if err := r.assert(r.closeValves); err != nil {
		return err
	}

	closed := r.in.ValvesClosed()
	defer closed.Close()

	if err := r.waitFor(stage, closed, r.cfg.CloseValvesTimeout); err != nil {
		return err
	}
	r.info("Valves closed")
	return nil
}

func (r *run) primeDelay(Stage) error {
	r.info(fmt.Sprintf("Waiting %dms to begin prime...", r.cfg.PrimeDelay.Milliseconds()))
	return r.delay(r.cfg.PrimeDelay)
}

func (r *run) priming(Stage) error {
	r.info("Starting prime pump")
	return r.assert(r.runPrime)
}

func (r *run) waitForPrime(stage Stage) error {
	r.info("Waiting for prime signal...")
	if err := r.waitFor(stage, r.in.PrimeComplete, r.cfg.PrimeTimeout); err != nil {
		return err
	}
	r.info("Prime signal received")
	return nil
}

// openValveStage does not wait for valveOpened.
func (r *run) openValveStage(Stage) error {
	r.info("Opening valve")
	return r.assert(r.openValve)
}

func (r *run) startPump(Stage) error {
	r.info("Starting pump")
	return r.assert(r.runPump)
}

func (r *run) pressureMonitorDelay(Stage) error {
	r.info(fmt.Sprintf("Waiting %dms to monitor pressure...", r.cfg.PressureMonitorDelay.Milliseconds()))
	return r.delay(r.cfg.PressureMonitorDelay)
}

func (r *run) monitorTankAndPressure(stage Stage) error {
	r.info("Waiting for tank full and monitoring pressure")
	defer func() {
		r.info("Stopping pump and prime pump")
		r.runPump.Set(false)
		r.runPrime.Set(false)
	}()

	// Tank is subscribed first so it wins when both inputs are already true.
	full := make(chan struct{}, 1)
	low := make(chan struct{}, 1)
	tankSub := r.in.TankIsFull.Subscribe(signal.WhenTrue(func() { notify(full) }))
	defer tankSub.Unsubscribe()
	lowSub := r.in.LowPressure.Subscribe(signal.WhenTrue(func() { notify(low) }))
	defer lowSub.Unsubscribe()

	timeout, stop := deadline(r.cfg.PumpTimeout)
	defer stop()

	select {
	case <-full:
		r.info("Finished pumping (tank is full)")
		return nil
	default:
	}

	select {
	case <-full:
		r.info("Finished pumping (tank is full)")
		return nil
	case <-low:
		return ErrLowPressure
	case <-timeout:
		return &StageTimeoutError{Stage: stage}
	case <-r.ctx.Done():
		return r.cause()
	}
}

func (r *run) postPumpValveDelay(Stage) error {
	r.info(fmt.Sprintf("Waiting %dms to close valves...", r.cfg.PostPumpValveDelay.Milliseconds()))
	return r.delay(r.cfg.PostPumpValveDelay)
}

// waitFor blocks until sig is true, the stage deadline passes or the run is
// stopped. The deadline is measured from the call.
func (r *run) waitFor(stage Stage, sig signal.Reader, timeout time.Duration) error {
	ready := make(chan struct{}, 1)
	sub := sig.Subscribe(signal.WhenTrue(func() { notify(ready) }))
	defer sub.Unsubscribe()

	expired, stop := deadline(timeout)
	defer stop()

	select {
	case <-ready:
		return nil
	case <-expired:
		return &StageTimeoutError{Stage: stage}
	case <-r.ctx.Done():
		return r.cause()
	}
}

func (r *run) delay(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-r.ctx.Done():
		return r.cause()
	}
}

// deadline returns a channel that fires after d, or a nil channel for d <= 0.
func deadline(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// assert is the output write of an entry action. It is skipped once the run
// was stopped; a stop that arrives during the write waits for it.
func (r *run) assert(out *signal.Bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.interrupted(); err != nil {
		return err
	}
	out.Set(true)
	return nil
}

// stop cancels the run with cause. Output subscribers must not call it
// synchronously from an entry write.
func (r *run) stop(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel(cause)
}

func (r *run) interrupted() error {
	if r.ctx.Err() == nil {
		return nil
	}
	return r.cause()
}

// cause maps the run context's cancellation cause to a terminal error.
func (r *run) cause() error {
	cause := context.Cause(r.ctx)
	switch {
	case cause == nil:
		return nil
	case errors.Is(cause, ErrEmergencyStop), errors.Is(cause, ErrCancelled):
		return cause
	default:
		return fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
}

// cleanup deasserts every output. It runs on every exit path.
func (r *run) cleanup() {
	r.emergency.Unsubscribe()
	r.info("Shutting off outputs")
	r.closeValves.Set(false)
	r.openValve.Set(false)
	r.runPrime.Set(false)
	r.runPump.Set(false)
}

func (r *run) enter(stage Stage) {
	now := time.Now()
	r.handle.enter(stage, now)
	r.safeLog(func() { r.log.DebugContext(r.ctx, "Stage entered", "stage", stage.String()) })
	r.emit(Event{RunID: r.id, Type: EventStageEntered, Stage: stage, Timestamp: now})
}

func (r *run) exit(stage Stage, err error) {
	now := time.Now()
	r.handle.exit(now, err)
	r.emit(Event{RunID: r.id, Type: EventStageExited, Stage: stage, Err: err, Timestamp: now})
}

func (r *run) finish(last Stage, err error) {
	result := &Result{
		RunID:       r.id,
		LastStage:   last,
		Err:         err,
		StartedAt:   r.handle.startedAt,
		EndedAt:     time.Now(),
		Transitions: r.handle.Transitions(),
	}

	event := Event{RunID: r.id, Stage: last, Err: err, Timestamp: result.EndedAt, Result: result}
	switch {
	case err == nil:
		result.Outcome = OutcomeCompleted
		event.Type = EventCompleted
		r.info("Cycle completed", "duration", result.Duration())
	case IsCancelled(err):
		result.Outcome = OutcomeCancelled
		event.Type = EventCancelled
		r.info("Cancelling pump cycle", "stage", last.String())
	default:
		result.Outcome = OutcomeFailed
		event.Type = EventFailed
		r.safeLog(func() {
			r.log.ErrorContext(r.ctx, "Pumping failed", "stage", last.String(), "error", err,
				"emergency_stop", IsEmergencyStop(err))
		})
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	}
	r.span.SetAttributes(attribute.String("cycle.outcome", result.Outcome.String()))
	r.span.End()

	r.emit(event)
	r.handle.finish(result)
}

func (r *run) emit(event Event) {
	for _, o := range r.observers {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.safeLog(func() {
						r.log.Warn("Cycle observer panicked", "event", event.Type.String(), "panic", p)
					})
				}
			}()
			o.OnCycleEvent(event)
		}()
	}
}

func (r *run) info(msg string, args ...any) {
	r.safeLog(func() { r.log.InfoContext(r.ctx, msg, args...) })
}

// safeLog keeps a failing log sink out of the state machine.
func (r *run) safeLog(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

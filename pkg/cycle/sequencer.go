// Package cycle sequences a pump cycle: close the isolation valves, prime the
// pump, open the delivery valve, pump until the tank is full or pressure drops,
// then close the valves again.
//
// A run owns its output signals for its whole lifetime and always leaves every
// output deasserted when it ends, whether it completed, failed, hit an
// emergency stop or was cancelled.
package cycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/goclaw/pumpcycle/pkg/logger"
	"github.com/goclaw/pumpcycle/pkg/signal"
)

// Sequencer starts cycle runs. It holds no per-run state, so one Sequencer
// may start runs for several lines.
type Sequencer struct {
	log       logger.Logger
	observers []Observer
	newID     func() string
}

// New creates a Sequencer.
func New(opts ...Option) *Sequencer {
	s := &Sequencer{
		log:   logger.Nop(),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates the output signals of a new run, hands them to every attach
// callback and then starts the stage chain in its own goroutine. The attach
// callbacks run before any stage mutates an output, so a plant subscribed
// there cannot miss a command.
//
// Cancelling ctx cancels the run.
func (s *Sequencer) Start(ctx context.Context, in *signal.Inputs, cfg Config, attach ...func(*signal.Outputs)) (*Handle, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("failed to start cycle: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to start cycle: %w", err)
	}

	id := s.newID()
	ctx, span := tracer().Start(ctx, spanRun,
		trace.WithAttributes(attribute.String("cycle.run_id", id)))
	runCtx, cancel := context.WithCancelCause(ctx)

	r := &run{
		id:          id,
		cfg:         cfg,
		in:          in,
		log:         s.log.With("run_id", id),
		observers:   s.observers,
		closeValves: signal.NewBool(signal.NameCloseValves, true),
		openValve:   signal.NewBool(signal.NameOpenValve, false),
		runPrime:    signal.NewBool(signal.NameRunPrime, false),
		runPump:     signal.NewBool(signal.NameRunPump, false),
		ctx:         runCtx,
		cancel:      cancel,
		span:        span,
	}
	outputs := &signal.Outputs{
		CloseValves: r.closeValves,
		OpenValve:   r.openValve,
		RunPrime:    r.runPrime,
		RunPump:     r.runPump,
	}
	r.handle = newHandle(id, outputs, cfg, time.Now(), r.stop)

	for _, fn := range attach {
		if fn != nil {
			fn(outputs)
		}
	}

	r.info("Cycle started", cfg.LogFields()...)
	r.emit(Event{RunID: id, Type: EventStarted, Stage: StageClosingValves1, Timestamp: r.handle.startedAt})

	// Armed before the loop starts: an emergency stop that is already asserted
	// cancels the run before the first entry action.
	r.emergency = in.EmergencyStop.Subscribe(signal.WhenTrue(func() {
		r.stop(ErrEmergencyStop)
	}))

	go r.loop()
	return r.handle, nil
}

// Run starts a cycle with a default Sequencer.
func Run(ctx context.Context, in *signal.Inputs, cfg Config, attach ...func(*signal.Outputs)) (*Handle, error) {
	return New().Start(ctx, in, cfg, attach...)
}

// Package line runs pump cycles for one physical pump line.
//
// A Controller owns the line's input signals and allows at most one cycle run
// at a time. It wires each run to the plant simulator, the Redis mirror, the
// event stream, metrics and run history.
package line

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/goclaw/pumpcycle/pkg/cycle"
	"github.com/goclaw/pumpcycle/pkg/logger"
	"github.com/goclaw/pumpcycle/pkg/plant"
	"github.com/goclaw/pumpcycle/pkg/signal"
	"github.com/goclaw/pumpcycle/pkg/storage"
	"github.com/goclaw/pumpcycle/pkg/storage/memory"
)

// DefaultName is the line name used when none is configured.
const DefaultName = "line-1"

const historyTimeout = 5 * time.Second

// MetricsRecorder receives run events for metrics.
type MetricsRecorder interface {
	OnCycleEvent(cycle.Event)
}

// EventBroadcaster publishes run and signal events to live subscribers.
type EventBroadcaster interface {
	BroadcastCycleEvent(line string, event cycle.Event)
	BroadcastSignalChanged(line, name string, value bool, at time.Time)
}

// Controller manages the cycle runs of one line.
type Controller struct {
	name    string
	in      *signal.Inputs
	seq     *cycle.Sequencer
	log     logger.Logger
	store   storage.RunStore
	metrics MetricsRecorder
	events  EventBroadcaster
	plant   *plant.Simulator
	mirror  *signal.RedisMirror
	newID   func() string

	inputSubs []*signal.Subscription
	wg        sync.WaitGroup

	mu      sync.Mutex
	cfg     cycle.Config
	active  *activeRun
	last    *cycle.Result
	closed  bool
	created time.Time
}

type activeRun struct {
	handle     *cycle.Handle
	subs       []*signal.Subscription
	mirrorSubs []*signal.Subscription
}

// release drops every subscription the run attached to its outputs.
func (r *activeRun) release(mirror *signal.RedisMirror) {
	for _, sub := range r.subs {
		sub.Unsubscribe()
	}
	if mirror != nil {
		mirror.Untrack(r.mirrorSubs)
	}
}

// RunStatus describes the run in flight.
type RunStatus struct {
	RunID     string                `json:"run_id"`
	Line      string                `json:"line"`
	Stage     string                `json:"stage"`
	StartedAt time.Time             `json:"started_at"`
	Elapsed   string                `json:"elapsed"`
	Outputs   map[string]bool       `json:"outputs"`
	Stages    []storage.StageRecord `json:"stages"`
	Config    cycle.Config          `json:"config"`
}

// Snapshot is the current value of every line signal.
type Snapshot struct {
	Inputs       map[string]bool `json:"inputs"`
	Outputs      map[string]bool `json:"outputs"`
	ValvesClosed bool            `json:"valves_closed"`
	Timestamp    time.Time       `json:"timestamp"`
}

// New creates a controller for the given inputs.
func New(in *signal.Inputs, cfg cycle.Config, opts ...Option) (*Controller, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create line controller: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create line controller: %w", err)
	}

	c := &Controller{
		name:    DefaultName,
		in:      in,
		log:     logger.Nop(),
		cfg:     cfg,
		created: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = memory.NewMemoryStorage(0)
	}
	c.log = c.log.With("line", c.name)

	seqOpts := []cycle.Option{
		cycle.WithLogger(c.log),
		cycle.WithObserver(cycle.ObserverFunc(c.onCycleEvent)),
		cycle.WithIDGenerator(c.newID),
	}
	if c.metrics != nil {
		seqOpts = append(seqOpts, cycle.WithObserver(c.metrics))
	}
	c.seq = cycle.New(seqOpts...)

	inputs := make([]signal.Reader, 0, len(in.All()))
	for _, s := range in.All() {
		inputs = append(inputs, s)
	}
	if c.mirror != nil {
		c.inputSubs = append(c.inputSubs, c.mirror.Track(inputs...)...)
	}
	c.inputSubs = append(c.inputSubs, c.watchSignals(inputs)...)

	return c, nil
}

// Name returns the line name.
func (c *Controller) Name() string { return c.name }

// Inputs returns the line's input signals.
func (c *Controller) Inputs() *signal.Inputs { return c.in }

// StartCycle starts a run with the current configuration. The run outlives
// ctx's cancellation; ctx only carries trace context.
func (c *Controller) StartCycle(ctx context.Context) (*cycle.Handle, error) {
	ctx, span := otel.Tracer("pumpcycle.line").Start(ctx, "line.start_cycle",
		trace.WithAttributes(attribute.String("line", c.name)))
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.active != nil {
		span.SetStatus(codes.Error, ErrCycleActive.Error())
		return nil, ErrCycleActive
	}

	if c.plant != nil {
		c.plant.Reset()
	}

	run := &activeRun{}
	attach := []func(*signal.Outputs){
		func(out *signal.Outputs) {
			if c.plant != nil {
				c.plant.Attach(out)
			}
			if c.mirror != nil {
				run.mirrorSubs = c.mirror.Track(out.All()...)
			}
			run.subs = append(run.subs, c.watchSignals(out.All())...)
		},
	}

	handle, err := c.seq.Start(context.WithoutCancel(ctx), c.in, c.cfg, attach...)
	if err != nil {
		run.release(c.mirror)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	run.handle = handle
	c.active = run
	span.SetAttributes(attribute.String("cycle.run_id", handle.ID()))

	c.wg.Add(1)
	go c.supervise(run)

	return handle, nil
}

// supervise waits for a run to end, then releases its attachments and
// records it.
func (c *Controller) supervise(run *activeRun) {
	defer c.wg.Done()

	<-run.handle.Done()
	result := run.handle.Result()

	if c.plant != nil {
		c.plant.Detach()
	}
	run.release(c.mirror)

	rec := storage.RecordFromResult(c.name, result, run.handle.Config())
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	if err := c.store.SaveRun(ctx, rec); err != nil {
		c.log.Error("Failed to record run", "run_id", rec.ID, "error", err)
	}
	cancel()

	c.mu.Lock()
	if c.active == run {
		c.active = nil
	}
	c.last = result
	c.mu.Unlock()
}

// CancelCycle cancels the run in flight.
func (c *Controller) CancelCycle() error {
	c.mu.Lock()
	run := c.active
	c.mu.Unlock()

	if run == nil {
		return ErrNoActiveCycle
	}
	c.log.Info("Cycle cancel requested", "run_id", run.handle.ID())
	run.handle.Cancel()
	return nil
}

// Active returns the handle of the run in flight, or nil.
func (c *Controller) Active() *cycle.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	return c.active.handle
}

// Current returns the status of the run in flight, or nil when idle.
func (c *Controller) Current() *RunStatus {
	h := c.Active()
	if h == nil {
		return nil
	}

	transitions := h.Transitions()
	stages := make([]storage.StageRecord, 0, len(transitions))
	for _, tr := range transitions {
		stages = append(stages, storage.StageRecord{
			Stage:     tr.Stage.String(),
			EnteredAt: tr.EnteredAt,
			ExitedAt:  tr.ExitedAt,
			Error:     tr.Error,
		})
	}
	return &RunStatus{
		RunID:     h.ID(),
		Line:      c.name,
		Stage:     h.Stage().String(),
		StartedAt: h.StartedAt(),
		Elapsed:   time.Since(h.StartedAt()).Round(time.Millisecond).String(),
		Outputs:   h.Outputs().Snapshot(),
		Stages:    stages,
		Config:    h.Config(),
	}
}

// LastResult returns the result of the most recent finished run, or nil.
func (c *Controller) LastResult() *cycle.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// SetInput writes an input signal, as an operator panel or external plant
// would.
func (c *Controller) SetInput(name string, value bool) error {
	sig, ok := c.in.Lookup(name)
	if !ok {
		return &UnknownSignalError{Name: name}
	}
	c.log.Info("Input set", "signal", name, "value", value)
	sig.Set(value)
	return nil
}

// Signals returns the current value of every input and output. Outputs read
// false while the line is idle.
func (c *Controller) Signals() Snapshot {
	outputs := map[string]bool{
		signal.NameCloseValves: false,
		signal.NameOpenValve:   false,
		signal.NameRunPrime:    false,
		signal.NameRunPump:     false,
	}
	if h := c.Active(); h != nil {
		outputs = h.Outputs().Snapshot()
	}
	return Snapshot{
		Inputs:       c.in.Snapshot(),
		Outputs:      outputs,
		ValvesClosed: c.in.Valve1Closed.Read() && c.in.Valve2Closed.Read(),
		Timestamp:    time.Now().UTC(),
	}
}

// History lists finished runs of this line.
func (c *Controller) History(ctx context.Context, filter *storage.RunFilter) ([]*storage.RunRecord, int, error) {
	f := storage.RunFilter{Line: c.name}
	if filter != nil {
		f.Outcome = filter.Outcome
		f.Limit = filter.Limit
		f.Offset = filter.Offset
	}
	return c.store.ListRuns(ctx, &f)
}

// Run returns one finished run.
func (c *Controller) Run(ctx context.Context, id string) (*storage.RunRecord, error) {
	return c.store.GetRun(ctx, id)
}

// Config returns the configuration the next run will use.
func (c *Controller) Config() cycle.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// UpdateConfig replaces the configuration for subsequent runs. A run in
// flight keeps the configuration it started with.
func (c *Controller) UpdateConfig(cfg cycle.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	c.log.Info("Cycle config updated", cfg.LogFields()...)
	return nil
}

// Plant returns the attached simulator, or nil.
func (c *Controller) Plant() *plant.Simulator { return c.plant }

// Healthy reports whether the line can run a cycle: not closed, no emergency
// stop asserted and the mirror, if any, reachable.
func (c *Controller) Healthy(ctx context.Context) bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || c.in.EmergencyStop.Read() {
		return false
	}
	if c.mirror != nil && !c.mirror.Healthy(ctx) {
		return false
	}
	return true
}

// Ready reports whether the controller accepts requests.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Uptime returns the time since the controller was created.
func (c *Controller) Uptime() time.Duration {
	return time.Since(c.created)
}

// ListenInputs applies input writes published over the Redis mirror until
// ctx is cancelled.
func (c *Controller) ListenInputs(ctx context.Context, ready chan<- struct{}) error {
	if c.mirror == nil {
		return errors.New("no redis mirror configured")
	}
	return c.mirror.Listen(ctx, c.in, ready)
}

// Close cancels the run in flight and waits for it to be recorded, or for
// ctx to expire. New runs are refused afterwards.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	run := c.active
	c.mu.Unlock()

	if run != nil {
		run.handle.Cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for active cycle: %w", ctx.Err())
	}

	for _, sub := range c.inputSubs {
		sub.Unsubscribe()
	}
	if c.plant != nil {
		c.plant.Detach()
	}
	return err
}

func (c *Controller) onCycleEvent(e cycle.Event) {
	if e.Type.Terminal() {
		c.log.Debug("Cycle finished", "run_id", e.RunID, "event", e.Type.String())
	}
	if c.events != nil {
		c.events.BroadcastCycleEvent(c.name, e)
	}
}

// watchSignals forwards value changes to the broadcaster.
func (c *Controller) watchSignals(signals []signal.Reader) []*signal.Subscription {
	if c.events == nil {
		return nil
	}
	subs := make([]*signal.Subscription, 0, len(signals))
	for _, s := range signals {
		name := s.Name()
		subs = append(subs, s.Subscribe(func(v bool) {
			c.events.BroadcastSignalChanged(c.name, name, v, time.Now().UTC())
		}))
	}
	return subs
}

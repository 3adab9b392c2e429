package cycle

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goclaw/pumpcycle/pkg/logger"
	"github.com/goclaw/pumpcycle/pkg/plant"
	"github.com/goclaw/pumpcycle/pkg/signal"
)

const waitTimeout = 5 * time.Second

// eventLog records every observed event and output value.
type eventLog struct {
	mu      sync.Mutex
	events  []Event
	outputs map[string][]bool
	order   []string
}

func newEventLog() *eventLog {
	return &eventLog{outputs: make(map[string][]bool)}
}

func (l *eventLog) OnCycleEvent(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	if e.Type == EventStageEntered {
		l.order = append(l.order, "enter:"+e.Stage.String())
	}
}

func (l *eventLog) attach(out *signal.Outputs) {
	l.mu.Lock()
	l.order = append(l.order, "attach")
	l.mu.Unlock()
	for _, sig := range out.All() {
		name := sig.Name()
		sig.Subscribe(func(v bool) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.outputs[name] = append(l.outputs[name], v)
			l.order = append(l.order, change(name, v))
		})
	}
}

func change(name string, v bool) string {
	return name + "=" + strconv.FormatBool(v)
}

func (l *eventLog) position(entry string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Index(l.order, entry)
}

func (l *eventLog) values(name string) []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.outputs[name]...)
}

func (l *eventLog) terminalEvents() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Type.Terminal() {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) entered() []Stage {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Stage
	for _, e := range l.events {
		if e.Type == EventStageEntered {
			out = append(out, e.Stage)
		}
	}
	return out
}

type harness struct {
	in  *signal.Inputs
	sim *plant.Simulator
	log *eventLog
	seq *Sequencer
	hdl *Handle
}

func startCycle(t *testing.T, ctx context.Context, init signal.InitialValues, cfg Config, simOpts ...plant.Option) *harness {
	t.Helper()
	h := &harness{
		in:  signal.NewInputs(init),
		log: newEventLog(),
	}
	h.sim = plant.New(h.in, simOpts...)
	t.Cleanup(h.sim.Detach)

	h.seq = New(WithObserver(h.log))
	hdl, err := h.seq.Start(ctx, h.in, cfg, h.log.attach, h.sim.Attach)
	require.NoError(t, err)
	h.hdl = hdl
	t.Cleanup(hdl.Cancel)
	return h
}

func (h *harness) wait(t *testing.T) (*Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	res, err := h.hdl.Wait(ctx)
	require.NotNil(t, res, "run did not finish")
	return res, err
}

func (h *harness) waitStage(t *testing.T, stage Stage) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.hdl.Stage() == stage
	}, waitTimeout, time.Millisecond)
}

func assertOutputsOff(t *testing.T, out *signal.Outputs) {
	t.Helper()
	for name, v := range out.Snapshot() {
		assert.False(t, v, "output %s still asserted", name)
	}
}

func neverTrue(values []bool) bool {
	for _, v := range values {
		if v {
			return false
		}
	}
	return true
}

func TestCycle_HappyPath(t *testing.T) {
	h := startCycle(t, context.Background(), signal.InitialValues{},
		Config{CloseValvesTimeout: time.Second})

	res, err := h.wait(t)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, StageClosingValves2, res.LastStage)
	assert.Equal(t, StageCompleted, h.hdl.Stage())
	assertOutputsOff(t, h.hdl.Outputs())

	assert.Equal(t, []Stage{
		StageClosingValves1,
		StagePrimeDelay,
		StagePriming,
		StageWaitForPrime,
		StageOpenValve,
		StageStartPump,
		StagePressureMonitorDelay,
		StageMonitorTankAndPressure,
		StagePostPumpValveDelay,
		StageClosingValves2,
	}, h.log.entered())
	require.Len(t, res.Transitions, 10)
	for _, tr := range res.Transitions {
		assert.False(t, tr.ExitedAt.IsZero(), "stage %s not exited", tr.Stage)
		assert.Empty(t, tr.Error)
	}

	assert.Equal(t, []bool{false, true, false}, h.log.values(signal.NameRunPump))
	assert.Equal(t, []bool{false, true, false}, h.log.values(signal.NameRunPrime))
	assert.Len(t, h.log.terminalEvents(), 1)

	// closeValves is held only while each closing stage waits.
	assert.Equal(t, []bool{true, false, true, false}, h.log.values(signal.NameCloseValves))
	released := h.log.position(change(signal.NameCloseValves, false))
	primeDelay := h.log.position("enter:" + StagePrimeDelay.String())
	require.NotEqual(t, -1, released)
	require.NotEqual(t, -1, primeDelay)
	assert.Less(t, released, primeDelay)
}

func TestCycle_ZeroConfigWaitsIndefinitely(t *testing.T) {
	h := startCycle(t, context.Background(), signal.InitialValues{}, Config{})

	res, err := h.wait(t)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assertOutputsOff(t, h.hdl.Outputs())
}

func TestCycle_OutputsPublishedBeforeFirstStage(t *testing.T) {
	var initial map[string]bool
	in := signal.NewInputs(signal.InitialValues{})
	sim := plant.New(in)
	t.Cleanup(sim.Detach)
	log := newEventLog()

	hdl, err := New(WithObserver(log)).Start(context.Background(), in, Config{},
		func(out *signal.Outputs) { initial = out.Snapshot() },
		log.attach,
		sim.Attach,
	)
	require.NoError(t, err)
	_, err = hdl.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{
		signal.NameCloseValves: true,
		signal.NameOpenValve:   false,
		signal.NameRunPrime:    false,
		signal.NameRunPump:     false,
	}, initial)

	log.mu.Lock()
	defer log.mu.Unlock()
	require.NotEmpty(t, log.order)
	assert.Equal(t, "attach", log.order[0])
}

func TestCycle_EmergencyStopAtStart(t *testing.T) {
	h := startCycle(t, context.Background(), signal.InitialValues{EmergencyStop: true},
		Config{CloseValvesTimeout: time.Second})

	res, err := h.wait(t)
	require.Error(t, err)
	assert.True(t, IsEmergencyStop(err))
	assert.Equal(t, "Emergency stop signal received", err.Error())
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, StageFailed, h.hdl.Stage())
	assert.Empty(t, h.log.entered())
	assertOutputsOff(t, h.hdl.Outputs())

	terminal := h.log.terminalEvents()
	require.Len(t, terminal, 1)
	assert.Equal(t, EventFailed, terminal[0].Type)
}

func TestCycle_EmergencyStopMidRun(t *testing.T) {
	h := startCycle(t, context.Background(), signal.InitialValues{}, Config{},
		plant.WithTimes(plant.Times{Pump: time.Hour}))

	h.waitStage(t, StageMonitorTankAndPressure)
	require.True(t, h.hdl.Outputs().RunPump.Read())

	h.in.EmergencyStop.Set(true)

	res, err := h.wait(t)
	assert.True(t, IsEmergencyStop(err))
	assert.Equal(t, StageMonitorTankAndPressure, res.LastStage)
	assertOutputsOff(t, h.hdl.Outputs())
	assert.Len(t, h.log.terminalEvents(), 1)
	assert.NotContains(t, h.log.entered(), StagePostPumpValveDelay)
}

func TestCycle_EmergencyStopDuringDelayBlocksNextEntry(t *testing.T) {
	h := startCycle(t, context.Background(), signal.InitialValues{},
		Config{PrimeDelay: time.Hour})

	h.waitStage(t, StagePrimeDelay)
	h.in.EmergencyStop.Set(true)

	res, err := h.wait(t)
	assert.True(t, IsEmergencyStop(err))
	assert.Equal(t, StagePrimeDelay, res.LastStage)
	assert.True(t, neverTrue(h.log.values(signal.NameRunPrime)))
	assertOutputsOff(t, h.hdl.Outputs())
}

func TestCycle_CloseValvesTimeout(t *testing.T) {
	h := startCycle(t, context.Background(), signal.InitialValues{},
		Config{CloseValvesTimeout: 50 * time.Millisecond},
		plant.WithTimes(plant.Times{Valve1Close: 500 * time.Millisecond}))

	res, err := h.wait(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStageTimeout)
	assert.Equal(t, "Close valves timeout reached", err.Error())

	var timeoutErr *StageTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, StageClosingValves1, timeoutErr.Stage)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, []Stage{StageClosingValves1}, h.log.entered())
	assert.True(t, neverTrue(h.log.values(signal.NameRunPrime)))
	assertOutputsOff(t, h.hdl.Outputs())

	require.Len(t, res.Transitions, 1)
	assert.Equal(t, "Close valves timeout reached", res.Transitions[0].Error)
}

// valvesReopenPlant closes the valves only on the first closeValves command
// and reopens valve 1 with the delivery valve, so the second closing stage
// never sees both valves closed.
func valvesReopenPlant(in *signal.Inputs) func(*signal.Outputs) {
	return func(out *signal.Outputs) {
		var commands atomic.Int32
		out.CloseValves.Subscribe(signal.WhenTrue(func() {
			if commands.Add(1) == 1 {
				in.Valve1Closed.Set(true)
				in.Valve2Closed.Set(true)
			}
		}))
		out.OpenValve.Subscribe(signal.WhenTrue(func() { in.Valve1Closed.Set(false) }))
		out.RunPrime.Subscribe(signal.WhenTrue(func() { in.PrimeComplete.Set(true) }))
		out.RunPump.Subscribe(signal.WhenTrue(func() { in.TankIsFull.Set(true) }))
	}
}

func TestCycle_SecondCloseValvesTimeout(t *testing.T) {
	in := signal.NewInputs(signal.InitialValues{})
	log := newEventLog()

	hdl, err := New(WithObserver(log)).Start(context.Background(), in,
		Config{CloseValvesTimeout: 50 * time.Millisecond}, log.attach, valvesReopenPlant(in))
	require.NoError(t, err)
	t.Cleanup(hdl.Cancel)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	res, err := hdl.Wait(ctx)
	require.NotNil(t, res)
	require.Error(t, err)
	assert.Equal(t, "Close valves timeout reached", err.Error())

	var timeoutErr *StageTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, StageClosingValves2, timeoutErr.Stage)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, StageClosingValves2, res.LastStage)
	assert.Len(t, log.entered(), 10)
	assert.Equal(t, []bool{true, false, true, false}, log.values(signal.NameCloseValves))
	assertOutputsOff(t, hdl.Outputs())
	assert.Len(t, log.terminalEvents(), 1)
}

func TestCycle_EmergencyStopOnStageEntrySkipsEntryWrite(t *testing.T) {
	tests := []struct {
		stage  Stage
		output string
		want   []bool
	}{
		{StagePriming, signal.NameRunPrime, []bool{false}},
		{StageOpenValve, signal.NameOpenValve, []bool{false}},
		{StageStartPump, signal.NameRunPump, []bool{false}},
		{StageClosingValves2, signal.NameCloseValves, []bool{true, false}},
	}

	for _, tt := range tests {
		t.Run(tt.stage.String(), func(t *testing.T) {
			in := signal.NewInputs(signal.InitialValues{})
			sim := plant.New(in)
			t.Cleanup(sim.Detach)
			log := newEventLog()

			// The stop arrives after the loop checked for it and before the
			// stage writes its output.
			stopOnEntry := ObserverFunc(func(e Event) {
				if e.Type == EventStageEntered && e.Stage == tt.stage {
					in.EmergencyStop.Set(true)
				}
			})

			hdl, err := New(WithObserver(log, stopOnEntry)).Start(context.Background(), in,
				Config{CloseValvesTimeout: time.Second}, log.attach, sim.Attach)
			require.NoError(t, err)
			t.Cleanup(hdl.Cancel)

			ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
			defer cancel()
			res, err := hdl.Wait(ctx)
			require.NotNil(t, res)
			assert.True(t, IsEmergencyStop(err))
			assert.Equal(t, OutcomeFailed, res.Outcome)
			assert.Equal(t, tt.stage, res.LastStage)
			assert.Equal(t, tt.want, log.values(tt.output))
			assertOutputsOff(t, hdl.Outputs())
			assert.Len(t, log.terminalEvents(), 1)
		})
	}
}

func TestCycle_PrimingTimeout(t *testing.T) {
	h := startCycle(t, context.Background(), signal.InitialValues{},
		Config{PrimeTimeout: 50 * time.Millisecond},
		plant.WithTimes(plant.Times{Prime: 500 * time.Millisecond}))

	res, err := h.wait(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStageTimeout)
	assert.Equal(t, "Priming timeout reached", err.Error())
	assert.Equal(t, StageWaitForPrime, res.LastStage)
	assert.True(t, neverTrue(h.log.values(signal.NameOpenValve)))
	assertOutputsOff(t, h.hdl.Outputs())
}

func TestCycle_PumpingTimeout(t *testing.T) {
	h := startCycle(t, context.Background(), signal.InitialValues{},
		Config{PumpTimeout: 50 * time.Millisecond},
		plant.WithTimes(plant.Times{Pump: 500 * time.Millisecond}))

	res, err := h.wait(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStageTimeout)
	assert.Equal(t, "Pumping timeout reached", err.Error())
	assert.Equal(t, StageMonitorTankAndPressure, res.LastStage)
	assert.Equal(t, []bool{false, true, false}, h.log.values(signal.NameRunPump))
	assertOutputsOff(t, h.hdl.Outputs())
}

func TestCycle_LowPressure(t *testing.T) {
	h := startCycle(t, context.Background(), signal.InitialValues{}, Config{},
		plant.WithPressureLow(true))

	res, err := h.wait(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLowPressure)
	assert.Equal(t, "low pressure", err.Error())
	assert.False(t, IsEmergencyStop(err))
	assert.Equal(t, StageMonitorTankAndPressure, res.LastStage)

	assert.Equal(t, []bool{false, true, false}, h.log.values(signal.NameRunPump))
	assert.Equal(t, []bool{false, true, false}, h.log.values(signal.NameRunPrime))
	assertOutputsOff(t, h.hdl.Outputs())
}

func TestCycle_LowPressureAlreadyAsserted(t *testing.T) {
	h := startCycle(t, context.Background(), signal.InitialValues{LowPressure: true}, Config{})

	_, err := h.wait(t)
	assert.ErrorIs(t, err, ErrLowPressure)
	assertOutputsOff(t, h.hdl.Outputs())
}

func TestCycle_TankFullWinsOverLowPressure(t *testing.T) {
	h := startCycle(t, context.Background(),
		signal.InitialValues{TankIsFull: true, LowPressure: true}, Config{})

	res, err := h.wait(t)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
}

func TestCycle_CancelDuringMonitor(t *testing.T) {
	h := startCycle(t, context.Background(), signal.InitialValues{}, Config{},
		plant.WithTimes(plant.Times{Pump: time.Hour}))

	h.waitStage(t, StageMonitorTankAndPressure)
	h.hdl.Cancel()
	h.hdl.Cancel()

	res, err := h.wait(t)
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Equal(t, StageCancelled, h.hdl.Stage())
	assert.Equal(t, StageMonitorTankAndPressure, res.LastStage)

	assert.False(t, h.hdl.Outputs().RunPump.Read())
	assert.False(t, h.hdl.Outputs().RunPrime.Read())
	assertOutputsOff(t, h.hdl.Outputs())

	terminal := h.log.terminalEvents()
	require.Len(t, terminal, 1)
	assert.Equal(t, EventCancelled, terminal[0].Type)

	// Cancelling a finished run changes nothing.
	h.hdl.Cancel()
	assert.Same(t, res, h.hdl.Result())
}

func TestCycle_ParentContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := startCycle(t, ctx, signal.InitialValues{}, Config{PrimeDelay: time.Hour})

	h.waitStage(t, StagePrimeDelay)
	cancel()

	res, err := h.wait(t)
	assert.True(t, IsCancelled(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assertOutputsOff(t, h.hdl.Outputs())
}

func TestCycle_PrimeDelay(t *testing.T) {
	h := startCycle(t, context.Background(), signal.InitialValues{},
		Config{PrimeDelay: 50 * time.Millisecond})

	res, err := h.wait(t)
	require.NoError(t, err)

	var delay StageTransition
	for _, tr := range res.Transitions {
		if tr.Stage == StagePrimeDelay {
			delay = tr
		}
	}
	assert.GreaterOrEqual(t, delay.Duration(), 50*time.Millisecond)
}

func TestCycle_ValveOpenedNotAwaited(t *testing.T) {
	h := startCycle(t, context.Background(), signal.InitialValues{}, Config{},
		plant.WithTimes(plant.Times{ValveOpen: time.Hour}))

	res, err := h.wait(t)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.False(t, h.in.ValveOpened.Read())
}

func TestCycle_WaitContextExpires(t *testing.T) {
	h := startCycle(t, context.Background(), signal.InitialValues{}, Config{PrimeDelay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := h.hdl.Wait(ctx)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, h.hdl.Result())
	assert.NoError(t, h.hdl.Err())
}

type panickingLogger struct {
	logger.Logger
}

func (p *panickingLogger) InfoContext(context.Context, string, ...any) { panic("sink failure") }
func (p *panickingLogger) With(...any) logger.Logger                   { return p }

type panickingObserver struct{}

func (panickingObserver) OnCycleEvent(Event) { panic("observer failure") }

func TestCycle_SinkFailuresDoNotAffectRun(t *testing.T) {
	in := signal.NewInputs(signal.InitialValues{})
	sim := plant.New(in)
	t.Cleanup(sim.Detach)

	seq := New(
		WithLogger(&panickingLogger{Logger: logger.Nop()}),
		WithObserver(panickingObserver{}),
	)
	hdl, err := seq.Start(context.Background(), in, Config{}, sim.Attach)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	res, err := hdl.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
}

func TestSequencer_StartValidation(t *testing.T) {
	seq := New()

	_, err := seq.Start(context.Background(), nil, Config{})
	assert.Error(t, err)

	in := signal.NewInputs(signal.InitialValues{})
	_, err = seq.Start(context.Background(), in, Config{PumpTimeout: -time.Second})
	require.Error(t, err)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "pumpTimeout", cfgErr.Field)
}

func TestSequencer_IDGenerator(t *testing.T) {
	in := signal.NewInputs(signal.InitialValues{EmergencyStop: true})
	seq := New(WithIDGenerator(func() string { return "run-42" }))

	hdl, err := seq.Start(context.Background(), in, Config{})
	require.NoError(t, err)
	assert.Equal(t, "run-42", hdl.ID())

	res, _ := hdl.Wait(context.Background())
	assert.Equal(t, "run-42", res.RunID)
}

func TestRun_DefaultSequencer(t *testing.T) {
	in := signal.NewInputs(signal.InitialValues{})
	sim := plant.New(in)
	t.Cleanup(sim.Detach)

	hdl, err := Run(context.Background(), in, Config{CloseValvesTimeout: time.Second}, sim.Attach)
	require.NoError(t, err)
	assert.NotEmpty(t, hdl.ID())

	res, err := hdl.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
}

package plant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goclaw/pumpcycle/pkg/signal"
)

type testOutputs struct {
	closeValves, openValve, runPrime, runPump *signal.Bool
}

func newTestOutputs() (*testOutputs, *signal.Outputs) {
	o := &testOutputs{
		closeValves: signal.NewBool(signal.NameCloseValves, false),
		openValve:   signal.NewBool(signal.NameOpenValve, false),
		runPrime:    signal.NewBool(signal.NameRunPrime, false),
		runPump:     signal.NewBool(signal.NameRunPump, false),
	}
	return o, &signal.Outputs{
		CloseValves: o.closeValves,
		OpenValve:   o.openValve,
		RunPrime:    o.runPrime,
		RunPump:     o.runPump,
	}
}

func TestTimesDefaults(t *testing.T) {
	assert.Equal(t, DefaultTimes(), Times{}.withDefaults())

	custom := Times{Pump: time.Second}.withDefaults()
	assert.Equal(t, time.Second, custom.Pump)
	assert.Equal(t, DefaultProcessTime, custom.Prime)
}

func TestSimulator_AnswersCommands(t *testing.T) {
	in := signal.NewInputs(signal.InitialValues{})
	sim := New(in)
	defer sim.Detach()

	cmds, out := newTestOutputs()
	sim.Attach(out)

	cmds.closeValves.Set(true)
	require.Eventually(t, func() bool {
		return in.Valve1Closed.Read() && in.Valve2Closed.Read()
	}, time.Second, time.Millisecond)

	cmds.runPrime.Set(true)
	require.Eventually(t, in.PrimeComplete.Read, time.Second, time.Millisecond)

	cmds.openValve.Set(true)
	require.Eventually(t, in.ValveOpened.Read, time.Second, time.Millisecond)

	cmds.runPump.Set(true)
	require.Eventually(t, in.TankIsFull.Read, time.Second, time.Millisecond)
	assert.False(t, in.LowPressure.Read())
}

func TestSimulator_PressureLow(t *testing.T) {
	in := signal.NewInputs(signal.InitialValues{})
	sim := New(in, WithPressureLow(true))
	defer sim.Detach()
	assert.True(t, sim.PressureLow())

	cmds, out := newTestOutputs()
	sim.Attach(out)

	cmds.runPump.Set(true)
	require.Eventually(t, in.LowPressure.Read, time.Second, time.Millisecond)
	assert.False(t, in.TankIsFull.Read())

	sim.SetPressureLow(false)
	assert.False(t, sim.PressureLow())
}

func TestSimulator_AttachSeesCurrentValue(t *testing.T) {
	in := signal.NewInputs(signal.InitialValues{})
	sim := New(in)
	defer sim.Detach()

	cmds, out := newTestOutputs()
	cmds.closeValves.Set(true)
	sim.Attach(out)

	require.Eventually(t, func() bool {
		return in.Valve1Closed.Read() && in.Valve2Closed.Read()
	}, time.Second, time.Millisecond)
}

func TestSimulator_DetachDropsPendingProcesses(t *testing.T) {
	in := signal.NewInputs(signal.InitialValues{})
	sim := New(in, WithTimes(Times{Prime: 50 * time.Millisecond}))

	cmds, out := newTestOutputs()
	sim.Attach(out)
	cmds.runPrime.Set(true)
	sim.Detach()

	time.Sleep(100 * time.Millisecond)
	assert.False(t, in.PrimeComplete.Read())
	assert.Equal(t, 0, cmds.runPrime.Subscribers())
}

func TestSimulator_ReattachReplacesSubscriptions(t *testing.T) {
	in := signal.NewInputs(signal.InitialValues{})
	sim := New(in)
	defer sim.Detach()

	first, out1 := newTestOutputs()
	sim.Attach(out1)
	_, out2 := newTestOutputs()
	sim.Attach(out2)

	assert.Equal(t, 0, first.runPump.Subscribers())
}

func TestSimulator_ResetKeepsEmergencyStop(t *testing.T) {
	in := signal.NewInputs(signal.InitialValues{
		Valve1Closed:  true,
		Valve2Closed:  true,
		TankIsFull:    true,
		EmergencyStop: true,
	})
	sim := New(in)
	sim.Reset()

	assert.False(t, in.Valve1Closed.Read())
	assert.False(t, in.TankIsFull.Read())
	assert.True(t, in.EmergencyStop.Read())
}

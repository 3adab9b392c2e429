package signal

import (
	"fmt"
	"sort"
)

// Input signal names.
const (
	NameValve1Closed  = "valve1Closed"
	NameValve2Closed  = "valve2Closed"
	NameValveOpened   = "valveOpened"
	NamePrimeComplete = "primeComplete"
	NameLowPressure   = "lowPressure"
	NameTankIsFull    = "tankIsFull"
	NameEmergencyStop = "emergencyStop"
)

// Output signal names.
const (
	NameCloseValves = "closeValves"
	NameOpenValve   = "openValve"
	NameRunPrime    = "runPrime"
	NameRunPump     = "runPump"
)

// NameValvesClosed is the derived valve1Closed AND valve2Closed signal.
const NameValvesClosed = "valvesClosed"

// InitialValues seeds an input set.
type InitialValues struct {
	Valve1Closed  bool `mapstructure:"valve1_closed" json:"valve1Closed"`
	Valve2Closed  bool `mapstructure:"valve2_closed" json:"valve2Closed"`
	ValveOpened   bool `mapstructure:"valve_opened" json:"valveOpened"`
	PrimeComplete bool `mapstructure:"prime_complete" json:"primeComplete"`
	LowPressure   bool `mapstructure:"low_pressure" json:"lowPressure"`
	TankIsFull    bool `mapstructure:"tank_is_full" json:"tankIsFull"`
	EmergencyStop bool `mapstructure:"emergency_stop" json:"emergencyStop"`
}

// Inputs is the sensor signal set. It is written by the plant and read by
// the sequencer.
type Inputs struct {
	Valve1Closed  *Bool
	Valve2Closed  *Bool
	ValveOpened   *Bool
	PrimeComplete *Bool
	LowPressure   *Bool
	TankIsFull    *Bool
	EmergencyStop *Bool
}

// NewInputs creates an input set with the given initial values.
func NewInputs(init InitialValues) *Inputs {
	return &Inputs{
		Valve1Closed:  NewBool(NameValve1Closed, init.Valve1Closed),
		Valve2Closed:  NewBool(NameValve2Closed, init.Valve2Closed),
		ValveOpened:   NewBool(NameValveOpened, init.ValveOpened),
		PrimeComplete: NewBool(NamePrimeComplete, init.PrimeComplete),
		LowPressure:   NewBool(NameLowPressure, init.LowPressure),
		TankIsFull:    NewBool(NameTankIsFull, init.TankIsFull),
		EmergencyStop: NewBool(NameEmergencyStop, init.EmergencyStop),
	}
}

// Validate reports whether every input signal is present.
func (in *Inputs) Validate() error {
	if in == nil {
		return fmt.Errorf("input signal set cannot be nil")
	}
	for _, s := range []struct {
		name string
		sig  *Bool
	}{
		{NameValve1Closed, in.Valve1Closed},
		{NameValve2Closed, in.Valve2Closed},
		{NameValveOpened, in.ValveOpened},
		{NamePrimeComplete, in.PrimeComplete},
		{NameLowPressure, in.LowPressure},
		{NameTankIsFull, in.TankIsFull},
		{NameEmergencyStop, in.EmergencyStop},
	} {
		if s.sig == nil {
			return fmt.Errorf("input signal %s is missing", s.name)
		}
	}
	return nil
}

// All returns the input signals in declaration order.
func (in *Inputs) All() []*Bool {
	return []*Bool{
		in.Valve1Closed,
		in.Valve2Closed,
		in.ValveOpened,
		in.PrimeComplete,
		in.LowPressure,
		in.TankIsFull,
		in.EmergencyStop,
	}
}

// Lookup returns the input signal with the given name.
func (in *Inputs) Lookup(name string) (*Bool, bool) {
	for _, s := range in.All() {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// ValvesClosed returns the derived valve1Closed AND valve2Closed signal.
// The caller must Close it when done.
func (in *Inputs) ValvesClosed() *Derived {
	return Combine(NameValvesClosed, in.Valve1Closed, in.Valve2Closed, And)
}

// Reset sets every input back to false.
func (in *Inputs) Reset() {
	for _, s := range in.All() {
		s.Set(false)
	}
}

// Snapshot returns the current input values keyed by name.
func (in *Inputs) Snapshot() map[string]bool {
	return snapshot(in.All())
}

// Outputs is the actuator command set of a cycle run. Only the run that
// created it writes to the underlying signals; everyone else sees readers.
type Outputs struct {
	CloseValves Reader
	OpenValve   Reader
	RunPrime    Reader
	RunPump     Reader
}

// All returns the output signals in declaration order.
func (o *Outputs) All() []Reader {
	return []Reader{o.CloseValves, o.OpenValve, o.RunPrime, o.RunPump}
}

// Lookup returns the output signal with the given name.
func (o *Outputs) Lookup(name string) (Reader, bool) {
	for _, s := range o.All() {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// AnyAsserted reports whether any actuator command is true.
func (o *Outputs) AnyAsserted() bool {
	for _, s := range o.All() {
		if s.Read() {
			return true
		}
	}
	return false
}

// Snapshot returns the current output values keyed by name.
func (o *Outputs) Snapshot() map[string]bool {
	return snapshot(o.All())
}

// Names returns the sorted names of a snapshot.
func Names(values map[string]bool) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func snapshot[R Reader](signals []R) map[string]bool {
	out := make(map[string]bool, len(signals))
	for _, s := range signals {
		out[s.Name()] = s.Read()
	}
	return out
}

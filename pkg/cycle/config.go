package cycle

import (
	"fmt"
	"time"
)

// Config holds the timeouts and delays of a cycle. A zero timeout waits
// indefinitely and a zero delay does not wait.
type Config struct {
	CloseValvesTimeout   time.Duration `mapstructure:"close_valves_timeout" json:"closeValvesTimeout"`
	PrimeTimeout         time.Duration `mapstructure:"prime_timeout" json:"primeTimeout"`
	PumpTimeout          time.Duration `mapstructure:"pump_timeout" json:"pumpTimeout"`
	PressureMonitorDelay time.Duration `mapstructure:"pressure_monitor_delay" json:"pressureMonitorDelay"`
	PostPumpValveDelay   time.Duration `mapstructure:"post_pump_valve_delay" json:"postPumpValveDelay"`
	PrimeDelay           time.Duration `mapstructure:"prime_delay" json:"primeDelay"`
}

// Validate rejects negative durations.
func (c Config) Validate() error {
	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"closeValvesTimeout", c.CloseValvesTimeout},
		{"primeTimeout", c.PrimeTimeout},
		{"pumpTimeout", c.PumpTimeout},
		{"pressureMonitorDelay", c.PressureMonitorDelay},
		{"postPumpValveDelay", c.PostPumpValveDelay},
		{"primeDelay", c.PrimeDelay},
	} {
		if f.d < 0 {
			return &ConfigError{Field: f.name, Cause: fmt.Errorf("must not be negative, got %s", f.d)}
		}
	}
	return nil
}

// LogFields returns the config as structured log arguments.
func (c Config) LogFields() []any {
	return []any{
		"close_valves_timeout", c.CloseValvesTimeout,
		"prime_timeout", c.PrimeTimeout,
		"pump_timeout", c.PumpTimeout,
		"pressure_monitor_delay", c.PressureMonitorDelay,
		"post_pump_valve_delay", c.PostPumpValveDelay,
		"prime_delay", c.PrimeDelay,
	}
}

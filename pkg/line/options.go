package line

import (
	"github.com/goclaw/pumpcycle/pkg/logger"
	"github.com/goclaw/pumpcycle/pkg/plant"
	"github.com/goclaw/pumpcycle/pkg/signal"
	"github.com/goclaw/pumpcycle/pkg/storage"
)

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithName sets the line name used in history records and events.
func WithName(name string) Option {
	return func(c *Controller) {
		if name != "" {
			c.name = name
		}
	}
}

// WithLogger sets the logger for the controller and its sequencer.
func WithLogger(log logger.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithStore sets the run history store.
func WithStore(store storage.RunStore) Option {
	return func(c *Controller) {
		if store != nil {
			c.store = store
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(c *Controller) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// WithBroadcaster sets an event broadcaster for run and signal events.
func WithBroadcaster(events EventBroadcaster) Option {
	return func(c *Controller) {
		if events != nil {
			c.events = events
		}
	}
}

// WithPlant attaches a plant simulator to every run.
func WithPlant(sim *plant.Simulator) Option {
	return func(c *Controller) {
		c.plant = sim
	}
}

// WithMirror mirrors every input and output to Redis.
func WithMirror(mirror *signal.RedisMirror) Option {
	return func(c *Controller) {
		c.mirror = mirror
	}
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) {
		c.newID = fn
	}
}

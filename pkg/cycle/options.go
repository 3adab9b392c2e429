package cycle

import (
	"github.com/goclaw/pumpcycle/pkg/logger"
)

// Option is a functional option for configuring the Sequencer.
type Option func(*Sequencer)

// WithLogger sets the log sink. Without one, runs log nothing.
func WithLogger(log logger.Logger) Option {
	return func(s *Sequencer) {
		if log != nil {
			s.log = log
		}
	}
}

// WithObserver adds observers that receive every run event.
func WithObserver(observers ...Observer) Option {
	return func(s *Sequencer) {
		for _, o := range observers {
			if o != nil {
				s.observers = append(s.observers, o)
			}
		}
	}
}

// WithIDGenerator overrides how run IDs are generated.
func WithIDGenerator(fn func() string) Option {
	return func(s *Sequencer) {
		if fn != nil {
			s.newID = fn
		}
	}
}

package cycle

import (
	"context"
	"sync"
	"time"

	"github.com/goclaw/pumpcycle/pkg/signal"
)

// Handle is the caller's view of one run.
type Handle struct {
	id        string
	outputs   *signal.Outputs
	config    Config
	startedAt time.Time
	cancel    context.CancelCauseFunc
	done      chan struct{}

	mu          sync.RWMutex
	stage       Stage
	transitions []StageTransition
	result      *Result
}

func newHandle(id string, outputs *signal.Outputs, cfg Config, startedAt time.Time, cancel context.CancelCauseFunc) *Handle {
	return &Handle{
		id:        id,
		outputs:   outputs,
		config:    cfg,
		startedAt: startedAt,
		cancel:    cancel,
		done:      make(chan struct{}),
		stage:     StageClosingValves1,
	}
}

// ID returns the run ID.
func (h *Handle) ID() string { return h.id }

// Outputs returns the run's actuator signals.
func (h *Handle) Outputs() *signal.Outputs { return h.outputs }

// Config returns the configuration the run was started with.
func (h *Handle) Config() Config { return h.config }

// StartedAt returns the start time.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Stage returns the active stage, or the terminal stage once the run ended.
func (h *Handle) Stage() Stage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stage
}

// Transitions returns the stages entered so far.
func (h *Handle) Transitions() []StageTransition {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]StageTransition, len(h.transitions))
	copy(out, h.transitions)
	return out
}

// Done is closed once the run has ended and all outputs are deasserted.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the terminal error. It is nil while running and after success.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.result == nil {
		return nil
	}
	return h.result.Err
}

// Result returns the terminal result, or nil while the run is active.
func (h *Handle) Result() *Result {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.result
}

// Wait blocks until the run ends or ctx is done. It returns the run's terminal
// error, or ctx.Err() if ctx ended first.
func (h *Handle) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-h.done:
		r := h.Result()
		return r, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel stops the run. The active stage is torn down and every output is
// deasserted. It is safe to call more than once and after the run ended.
func (h *Handle) Cancel() {
	h.cancel(ErrCancelled)
}

func (h *Handle) enter(stage Stage, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stage = stage
	h.transitions = append(h.transitions, StageTransition{Stage: stage, EnteredAt: at})
}

func (h *Handle) exit(at time.Time, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.transitions) == 0 {
		return
	}
	last := &h.transitions[len(h.transitions)-1]
	last.ExitedAt = at
	if err != nil {
		last.Error = err.Error()
	}
}

func (h *Handle) finish(result *Result) {
	h.mu.Lock()
	h.stage = result.Outcome.Stage()
	h.result = result
	h.mu.Unlock()
	close(h.done)
}

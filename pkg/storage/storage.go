// Package storage persists the history of finished cycle runs.
//
// History is an audit log only. A run is never resumed from storage.
package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goclaw/pumpcycle/pkg/cycle"
)

// RunStore defines the interface for run history persistence.
type RunStore interface {
	// SaveRun inserts or replaces a run record.
	SaveRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	// ListRuns returns matching runs, newest first, and the total match count
	// before pagination.
	ListRuns(ctx context.Context, filter *RunFilter) ([]*RunRecord, int, error)

	Close() error
}

// RunRecord is the persisted summary of one cycle run.
type RunRecord struct {
	ID            string        `json:"id"`
	Line          string        `json:"line"`
	Outcome       string        `json:"outcome"`
	LastStage     string        `json:"last_stage"`
	Error         string        `json:"error,omitempty"`
	EmergencyStop bool          `json:"emergency_stop"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       time.Time     `json:"ended_at"`
	Stages        []StageRecord `json:"stages"`
	Config        cycle.Config  `json:"config"`
}

// StageRecord is one stage of a persisted run.
type StageRecord struct {
	Stage     string    `json:"stage"`
	EnteredAt time.Time `json:"entered_at"`
	ExitedAt  time.Time `json:"exited_at"`
	Error     string    `json:"error,omitempty"`
}

// Duration returns the run time.
func (r *RunRecord) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Clone returns a deep copy.
func (r *RunRecord) Clone() *RunRecord {
	c := *r
	if r.Stages != nil {
		c.Stages = make([]StageRecord, len(r.Stages))
		copy(c.Stages, r.Stages)
	}
	return &c
}

// RecordFromResult converts a finished run into a record.
func RecordFromResult(line string, res *cycle.Result, cfg cycle.Config) *RunRecord {
	rec := &RunRecord{
		ID:            res.RunID,
		Line:          line,
		Outcome:       res.Outcome.String(),
		LastStage:     res.LastStage.String(),
		EmergencyStop: cycle.IsEmergencyStop(res.Err),
		StartedAt:     res.StartedAt,
		EndedAt:       res.EndedAt,
		Stages:        make([]StageRecord, 0, len(res.Transitions)),
		Config:        cfg,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	for _, tr := range res.Transitions {
		rec.Stages = append(rec.Stages, StageRecord{
			Stage:     tr.Stage.String(),
			EnteredAt: tr.EnteredAt,
			ExitedAt:  tr.ExitedAt,
			Error:     tr.Error,
		})
	}
	return rec
}

// RunFilter defines filtering options for listing runs.
type RunFilter struct {
	Outcome []string `json:"outcome,omitempty"`
	Line    string   `json:"line,omitempty"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// Matches reports whether rec passes the filter's predicates.
func (f *RunFilter) Matches(rec *RunRecord) bool {
	if f == nil {
		return true
	}
	if f.Line != "" && rec.Line != f.Line {
		return false
	}
	if len(f.Outcome) == 0 {
		return true
	}
	for _, o := range f.Outcome {
		if o == rec.Outcome {
			return true
		}
	}
	return false
}

// Paginate sorts runs newest first and applies the filter's limit and offset.
func Paginate(runs []*RunRecord, filter *RunFilter) ([]*RunRecord, int) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	total := len(runs)
	if filter == nil {
		return runs, total
	}

	start := min(max(filter.Offset, 0), total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return runs[start:end], total
}

// NotFoundError indicates that the requested entity was not found.
type NotFoundError struct {
	EntityType string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.EntityType, e.ID)
}

// StorageUnavailableError indicates that the storage backend is unavailable.
type StorageUnavailableError struct {
	Cause error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %v", e.Cause)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Cause }

// SerializationError indicates a failure in data serialization/deserialization.
type SerializationError struct {
	Operation string
	Cause     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error during %s: %v", e.Operation, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

// ValidationError indicates an invalid record.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid run record %s: %s", e.Field, e.Reason)
}

// Validate checks the fields every backend relies on.
func (r *RunRecord) Validate() error {
	if r == nil {
		return &ValidationError{Field: "record", Reason: "cannot be nil"}
	}
	if r.ID == "" {
		return &ValidationError{Field: "id", Reason: "cannot be empty"}
	}
	if _, ok := cycle.ParseOutcome(r.Outcome); !ok {
		return &ValidationError{Field: "outcome", Reason: fmt.Sprintf("unknown outcome %q", r.Outcome)}
	}
	return nil
}

// Package models defines API request/response data structures.
package models

import (
	"time"

	"github.com/goclaw/pumpcycle/pkg/cycle"
	"github.com/goclaw/pumpcycle/pkg/storage"
)

// CycleStartResponse is returned when a run is accepted.
type CycleStartResponse struct {
	// RunID identifies the run in history and events.
	RunID string `json:"run_id" example:"3f6c1a2e-8d4b-4c1e-9a77-0b5f8e2d9c10"`

	// Line is the line the run belongs to.
	Line string `json:"line" example:"line-1"`

	// Stage is the stage active when the response was written.
	Stage string `json:"stage" example:"ClosingValves1"`

	StartedAt time.Time `json:"started_at"`

	Config CycleConfig `json:"config"`
}

// CycleSummary is one entry of the run history.
type CycleSummary struct {
	ID            string    `json:"id"`
	Outcome       string    `json:"outcome" example:"completed"`
	LastStage     string    `json:"last_stage" example:"ClosingValves2"`
	Error         string    `json:"error,omitempty" example:"Priming timeout reached"`
	EmergencyStop bool      `json:"emergency_stop"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	DurationMS    int64     `json:"duration_ms"`
}

// CycleListResponse is a page of run history.
type CycleListResponse struct {
	Line   string         `json:"line"`
	Runs   []CycleSummary `json:"runs"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// CycleFilter holds the history query parameters.
type CycleFilter struct {
	Outcome []string `validate:"dive,oneof=completed failed cancelled"`
	Limit   int      `validate:"min=1,max=500"`
	Offset  int      `validate:"min=0"`
}

// CycleConfig is a cycle configuration in milliseconds.
type CycleConfig struct {
	CloseValvesTimeoutMS   int64 `json:"close_valves_timeout_ms" example:"3200"`
	PrimeTimeoutMS         int64 `json:"prime_timeout_ms" example:"0"`
	PumpTimeoutMS          int64 `json:"pump_timeout_ms" example:"0"`
	PressureMonitorDelayMS int64 `json:"pressure_monitor_delay_ms" example:"30000"`
	PostPumpValveDelayMS   int64 `json:"post_pump_valve_delay_ms" example:"60000"`
	PrimeDelayMS           int64 `json:"prime_delay_ms" example:"5000"`
}

// NewCycleConfig converts a cycle configuration.
func NewCycleConfig(c cycle.Config) CycleConfig {
	return CycleConfig{
		CloseValvesTimeoutMS:   c.CloseValvesTimeout.Milliseconds(),
		PrimeTimeoutMS:         c.PrimeTimeout.Milliseconds(),
		PumpTimeoutMS:          c.PumpTimeout.Milliseconds(),
		PressureMonitorDelayMS: c.PressureMonitorDelay.Milliseconds(),
		PostPumpValveDelayMS:   c.PostPumpValveDelay.Milliseconds(),
		PrimeDelayMS:           c.PrimeDelay.Milliseconds(),
	}
}

// NewCycleSummary converts a history record.
func NewCycleSummary(rec *storage.RunRecord) CycleSummary {
	return CycleSummary{
		ID:            rec.ID,
		Outcome:       rec.Outcome,
		LastStage:     rec.LastStage,
		Error:         rec.Error,
		EmergencyStop: rec.EmergencyStop,
		StartedAt:     rec.StartedAt,
		EndedAt:       rec.EndedAt,
		DurationMS:    rec.Duration().Milliseconds(),
	}
}

// CycleDetail is a finished run with its stage transitions.
type CycleDetail struct {
	CycleSummary
	Line   string       `json:"line"`
	Stages []StageEntry `json:"stages"`
	Config CycleConfig  `json:"config"`
}

// StageEntry is one stage of a finished run.
type StageEntry struct {
	Stage      string    `json:"stage" example:"Priming"`
	EnteredAt  time.Time `json:"entered_at"`
	ExitedAt   time.Time `json:"exited_at"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// NewCycleDetail converts a history record.
func NewCycleDetail(rec *storage.RunRecord) CycleDetail {
	d := CycleDetail{
		CycleSummary: NewCycleSummary(rec),
		Line:         rec.Line,
		Stages:       make([]StageEntry, 0, len(rec.Stages)),
		Config:       NewCycleConfig(rec.Config),
	}
	for _, s := range rec.Stages {
		e := StageEntry{
			Stage:     s.Stage,
			EnteredAt: s.EnteredAt,
			ExitedAt:  s.ExitedAt,
			Error:     s.Error,
		}
		if !s.ExitedAt.IsZero() {
			e.DurationMS = s.ExitedAt.Sub(s.EnteredAt).Milliseconds()
		}
		d.Stages = append(d.Stages, e)
	}
	return d
}

package handlers

import (
	"net/http"
	"time"

	"github.com/goclaw/pumpcycle/pkg/api/response"
	"github.com/goclaw/pumpcycle/pkg/line"
	"github.com/goclaw/pumpcycle/pkg/version"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	line *line.Controller
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(ctrl *line.Controller) *HealthHandler {
	return &HealthHandler{line: ctrl}
}

// StatusResponse is the detailed line status.
type StatusResponse struct {
	Line      string          `json:"line"`
	Healthy   bool            `json:"healthy"`
	Ready     bool            `json:"ready"`
	Version   string          `json:"version"`
	Uptime    string          `json:"uptime"`
	ActiveRun *line.RunStatus `json:"active_run,omitempty"`
	LastRun   *LastRunStatus  `json:"last_run,omitempty"`
	Signals   line.Snapshot   `json:"signals"`
}

// LastRunStatus summarizes the most recent finished run.
type LastRunStatus struct {
	RunID     string    `json:"run_id"`
	Outcome   string    `json:"outcome"`
	LastStage string    `json:"last_stage"`
	Error     string    `json:"error,omitempty"`
	EndedAt   time.Time `json:"ended_at"`
}

// Health handles the /health endpoint (liveness probe). The line is unhealthy
// while the emergency stop is asserted.
// @Summary Liveness probe
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.line.Healthy(r.Context()) {
		response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	response.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
}

// Ready handles the /ready endpoint (readiness probe).
// @Summary Readiness probe
// @Tags health
// @Produce json
// @Success 200 {object} map[string]bool
// @Failure 503 {object} map[string]bool
// @Router /ready [get]
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.line.Ready() {
		response.JSON(w, http.StatusOK, map[string]bool{"ready": true})
		return
	}
	response.JSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
}

// Status handles the /status endpoint (detailed status).
// @Summary Line status
// @Tags health
// @Produce json
// @Success 200 {object} StatusResponse
// @Router /status [get]
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := StatusResponse{
		Line:      h.line.Name(),
		Healthy:   h.line.Healthy(r.Context()),
		Ready:     h.line.Ready(),
		Version:   version.Version,
		Uptime:    h.line.Uptime().Round(time.Second).String(),
		ActiveRun: h.line.Current(),
		Signals:   h.line.Signals(),
	}
	if res := h.line.LastResult(); res != nil {
		status.LastRun = &LastRunStatus{
			RunID:     res.RunID,
			Outcome:   res.Outcome.String(),
			LastStage: res.LastStage.String(),
			EndedAt:   res.EndedAt,
		}
		if res.Err != nil {
			status.LastRun.Error = res.Err.Error()
		}
	}
	response.JSON(w, http.StatusOK, status)
}

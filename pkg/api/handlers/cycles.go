// Package handlers provides HTTP request handlers.
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/goclaw/pumpcycle/pkg/api/middleware"
	"github.com/goclaw/pumpcycle/pkg/api/models"
	"github.com/goclaw/pumpcycle/pkg/api/response"
	"github.com/goclaw/pumpcycle/pkg/line"
	"github.com/goclaw/pumpcycle/pkg/logger"
	"github.com/goclaw/pumpcycle/pkg/storage"
)

const defaultHistoryLimit = 20

// CycleHandler handles cycle run endpoints.
type CycleHandler struct {
	line      *line.Controller
	logger    logger.Logger
	validator *validator.Validate
}

// NewCycleHandler creates a new cycle handler.
func NewCycleHandler(ctrl *line.Controller, log logger.Logger) *CycleHandler {
	return &CycleHandler{
		line:      ctrl,
		logger:    log,
		validator: validator.New(),
	}
}

// StartCycle handles POST /api/v1/cycles
// @Summary Start a pump cycle
// @Description Start a cycle run on the line. The run continues after the response is written.
// @Tags cycles
// @Produce json
// @Success 202 {object} models.CycleStartResponse "Cycle started"
// @Failure 409 {object} response.ErrorResponse "A cycle is already running"
// @Failure 503 {object} response.ErrorResponse "Line is shutting down"
// @Router /api/v1/cycles [post]
func (h *CycleHandler) StartCycle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	handle, err := h.line.StartCycle(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "Cycle start rejected", "error", err)
		response.HandleError(w, err, middleware.GetRequestID(ctx))
		return
	}

	w.Header().Set("Location", "/api/v1/cycles/"+handle.ID())
	response.JSON(w, http.StatusAccepted, models.CycleStartResponse{
		RunID:     handle.ID(),
		Line:      h.line.Name(),
		Stage:     handle.Stage().String(),
		StartedAt: handle.StartedAt(),
		Config:    models.NewCycleConfig(handle.Config()),
	})
}

// CurrentCycle handles GET /api/v1/cycles/current
// @Summary Get the running cycle
// @Description Get the stage, outputs and stage transitions of the cycle in flight
// @Tags cycles
// @Produce json
// @Success 200 {object} line.RunStatus "Running cycle"
// @Failure 404 {object} response.ErrorResponse "No cycle is running"
// @Router /api/v1/cycles/current [get]
func (h *CycleHandler) CurrentCycle(w http.ResponseWriter, r *http.Request) {
	status := h.line.Current()
	if status == nil {
		response.Error(w, http.StatusNotFound, response.ErrCodeNoActiveCycle, line.ErrNoActiveCycle.Error(), middleware.GetRequestID(r.Context()))
		return
	}
	response.JSON(w, http.StatusOK, status)
}

// CancelCycle handles POST /api/v1/cycles/current/cancel
// @Summary Cancel the running cycle
// @Description Cancel the cycle in flight. Outputs are shut off before the run is recorded.
// @Tags cycles
// @Produce json
// @Success 202 {object} map[string]string "Cancellation requested"
// @Failure 409 {object} response.ErrorResponse "No cycle is running"
// @Router /api/v1/cycles/current/cancel [post]
func (h *CycleHandler) CancelCycle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	runID := ""
	if active := h.line.Active(); active != nil {
		runID = active.ID()
	}
	if err := h.line.CancelCycle(); err != nil {
		response.HandleError(w, err, middleware.GetRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusAccepted, map[string]string{
		"run_id":  runID,
		"message": "Cancellation requested",
	})
}

// ListCycles handles GET /api/v1/cycles
// @Summary List finished cycles
// @Description List the run history of the line, newest first
// @Tags cycles
// @Produce json
// @Param outcome query string false "Comma separated outcomes (completed, failed, cancelled)"
// @Param limit query int false "Maximum number of results" default(20)
// @Param offset query int false "Offset for pagination" default(0)
// @Success 200 {object} models.CycleListResponse "Run history"
// @Failure 400 {object} response.ErrorResponse "Invalid query"
// @Failure 500 {object} response.ErrorResponse "Internal server error"
// @Router /api/v1/cycles [get]
func (h *CycleHandler) ListCycles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	filter, err := parseCycleFilter(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, err.Error(), requestID)
		return
	}
	if err := h.validator.Struct(&filter); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID)
		return
	}

	runs, total, err := h.line.History(ctx, &storage.RunFilter{
		Outcome: filter.Outcome,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to list cycles", "error", err)
		response.HandleError(w, err, requestID)
		return
	}

	summaries := make([]models.CycleSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, models.NewCycleSummary(run))
	}
	response.JSON(w, http.StatusOK, models.CycleListResponse{
		Line:   h.line.Name(),
		Runs:   summaries,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// GetCycle handles GET /api/v1/cycles/{id}
// @Summary Get a finished cycle
// @Description Get a finished run with its stage transitions and the configuration it used
// @Tags cycles
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} models.CycleDetail "Run"
// @Failure 404 {object} response.ErrorResponse "Run not found"
// @Router /api/v1/cycles/{id} [get]
func (h *CycleHandler) GetCycle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	run, err := h.line.Run(ctx, id)
	if err != nil {
		response.HandleError(w, err, middleware.GetRequestID(ctx))
		return
	}
	if run.Line != h.line.Name() {
		response.HandleError(w, &storage.NotFoundError{EntityType: "run", ID: id}, middleware.GetRequestID(ctx))
		return
	}
	response.JSON(w, http.StatusOK, models.NewCycleDetail(run))
}

func parseCycleFilter(r *http.Request) (models.CycleFilter, error) {
	q := r.URL.Query()
	filter := models.CycleFilter{Limit: defaultHistoryLimit}

	for _, v := range q["outcome"] {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				filter.Outcome = append(filter.Outcome, strings.ToLower(o))
			}
		}
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return filter, errInvalidQuery("limit", s)
		}
		filter.Limit = n
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return filter, errInvalidQuery("offset", s)
		}
		filter.Offset = n
	}
	return filter, nil
}

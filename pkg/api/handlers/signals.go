package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/goclaw/pumpcycle/pkg/api/middleware"
	"github.com/goclaw/pumpcycle/pkg/api/models"
	"github.com/goclaw/pumpcycle/pkg/api/response"
	"github.com/goclaw/pumpcycle/pkg/line"
	"github.com/goclaw/pumpcycle/pkg/logger"
)

// SignalHandler handles signal endpoints.
type SignalHandler struct {
	line      *line.Controller
	logger    logger.Logger
	validator *validator.Validate
}

// NewSignalHandler creates a new signal handler.
func NewSignalHandler(ctrl *line.Controller, log logger.Logger) *SignalHandler {
	return &SignalHandler{
		line:      ctrl,
		logger:    log,
		validator: validator.New(),
	}
}

// GetSignals handles GET /api/v1/signals
// @Summary Get signal values
// @Description Get the current value of every input and output of the line
// @Tags signals
// @Produce json
// @Success 200 {object} line.Snapshot "Signal values"
// @Router /api/v1/signals [get]
func (h *SignalHandler) GetSignals(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.line.Signals())
}

// SetInput handles PUT /api/v1/signals/inputs/{name}
// @Summary Write an input signal
// @Description Set an input as an operator panel or external plant would, e.g. the emergency stop button
// @Tags signals
// @Accept json
// @Produce json
// @Param name path string true "Input name" Enums(valve1Closed, valve2Closed, valveOpened, primeComplete, tankIsFull, lowPressure, emergencyStop)
// @Param body body models.SignalWriteRequest true "New value"
// @Success 200 {object} models.SignalWriteResponse "Input written"
// @Failure 400 {object} response.ErrorResponse "Invalid request body"
// @Failure 404 {object} response.ErrorResponse "Unknown input"
// @Failure 429 {object} response.ErrorResponse "Rate limit exceeded"
// @Router /api/v1/signals/inputs/{name} [put]
func (h *SignalHandler) SetInput(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	name := chi.URLParam(r, "name")

	var req models.SignalWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", requestID)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, "value is required", requestID)
		return
	}

	if err := h.line.SetInput(name, *req.Value); err != nil {
		h.logger.WarnContext(ctx, "Input write rejected", "signal", name, "error", err)
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusOK, models.SignalWriteResponse{
		Line:   h.line.Name(),
		Signal: name,
		Value:  *req.Value,
	})
}

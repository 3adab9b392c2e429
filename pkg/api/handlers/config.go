package handlers

import (
	"net/http"

	"github.com/goclaw/pumpcycle/pkg/api/models"
	"github.com/goclaw/pumpcycle/pkg/api/response"
	"github.com/goclaw/pumpcycle/pkg/line"
)

// ConfigHandler exposes the line's cycle configuration.
type ConfigHandler struct {
	line *line.Controller
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(ctrl *line.Controller) *ConfigHandler {
	return &ConfigHandler{line: ctrl}
}

// GetCycleConfig handles GET /api/v1/config/cycle
// @Summary Get the cycle configuration
// @Description Get the timeouts and delays the next run will use. A zero timeout waits indefinitely.
// @Tags config
// @Produce json
// @Success 200 {object} models.CycleConfig "Cycle configuration"
// @Router /api/v1/config/cycle [get]
func (h *ConfigHandler) GetCycleConfig(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, models.NewCycleConfig(h.line.Config()))
}

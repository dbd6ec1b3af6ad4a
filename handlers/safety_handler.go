package handlers

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/example/dispatch-guard-service/internal/safety"
	"github.com/example/dispatch-guard-service/pkg/response"
)

type SafetyMonitorHandler struct {
	monitor *safety.Monitor
	ctx     context.Context
}

func NewSafetyMonitorHandler(monitor *safety.Monitor, ctx context.Context) *SafetyMonitorHandler {
	return &SafetyMonitorHandler{
		monitor: monitor,
		ctx:     ctx,
	}
}

// Start godoc
// @Summary Start the safety monitor
// @Description Starts the periodic metrics evaluation loop
// @Tags safety
// @Produce json
// @Param x-dgs-auth-key header string true "Admin API key"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/safety-monitor/start [post]
func (h *SafetyMonitorHandler) Start(c echo.Context) error {
	if h.monitor.IsRunning() {
		return response.Ok(c, h.monitor.Status())
	}

	if err := h.monitor.Start(h.ctx); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, h.monitor.Status())
}

// Stop godoc
// @Summary Stop the safety monitor
// @Tags safety
// @Produce json
// @Param x-dgs-auth-key header string true "Admin API key"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/safety-monitor/stop [post]
func (h *SafetyMonitorHandler) Stop(c echo.Context) error {
	if !h.monitor.IsRunning() {
		return response.Ok(c, h.monitor.Status())
	}

	if err := h.monitor.Stop(); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, h.monitor.Status())
}

// Status godoc
// @Summary Safety monitor status
// @Tags safety
// @Produce json
// @Param x-dgs-auth-key header string true "Admin API key"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/safety-monitor/status [get]
func (h *SafetyMonitorHandler) Status(c echo.Context) error {
	return response.Ok(c, h.monitor.Status())
}

package rpc

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthCheck handles the health_check operation.
func (h *Handler) HealthCheck(c echo.Context) error {
	defer h.timeRPC("health_check")()

	ctx := c.Request().Context()
	backend := BackendHealth{}

	ok, err := h.KV.Ping(ctx)
	if err != nil {
		backend.Connected = false
		backend.Error = err.Error()
		return c.JSON(http.StatusOK, HealthCheckResponse{
			Server: h.Config.ServerName, Port: h.Config.ServerPort, SessionID: h.SessionID, Backend: backend,
			Metrics: h.metricsSnapshot(),
		})
	}
	backend.Connected = ok

	if info, err := h.KV.ServerInfo(ctx); err == nil {
		backend.Version = info.Version
		backend.UptimeSeconds = info.UptimeSeconds
	}

	return c.JSON(http.StatusOK, HealthCheckResponse{
		Server: h.Config.ServerName, Port: h.Config.ServerPort, SessionID: h.SessionID, Backend: backend,
		Metrics: h.metricsSnapshot(),
	})
}

// metricsSnapshot folds the Sink's lock-outcome counters into health_check,
// supplementing rather than replacing the backend connectivity block.
func (h *Handler) metricsSnapshot() map[string]int {
	if h.Metrics == nil {
		return nil
	}
	return h.Metrics.CounterSnapshot()
}

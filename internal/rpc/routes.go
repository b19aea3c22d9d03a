package rpc

import (
	"github.com/labstack/echo/v4"
)

// SetupRoutes registers one route per spec §6 operation, generalized from
// the donor KV store's routes.SetupRoutes.
func SetupRoutes(e *echo.Echo, h *Handler) {
	e.POST("/locks/acquire", h.AcquireLock)
	e.POST("/locks/release", h.ReleaseLock)
	e.GET("/locks/check/:lock_name", h.CheckLock)
	e.GET("/locks", h.ListLocks)

	e.POST("/sessions/register", h.RegisterSession)
	e.POST("/sessions/heartbeat", h.Heartbeat)
	e.GET("/sessions/status", h.SessionStatus)
	e.POST("/sessions/unregister", h.UnregisterSession)

	e.GET("/health", h.HealthCheck)
	e.GET("/debug/vars", h.DebugVars)
}
